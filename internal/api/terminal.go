package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/choiros/choiros/internal/terminalagent"
)

// defaultTerminalSession is the TerminalSupervisor bucket used when a
// caller does not scope a terminal request to a session_id (§6 lists only
// id/cmd/cols/rows for terminal/start; terminal_id alone is assumed
// globally unique by callers that never multiplex sessions).
const defaultTerminalSession = "default"

type terminalStartRequest struct {
	ID        string   `json:"id" binding:"required"`
	Cmd       []string `json:"cmd" binding:"required"`
	Cols      uint16   `json:"cols"`
	Rows      uint16   `json:"rows"`
	SessionID string   `json:"session_id"`
}

type terminalStartResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handleTerminalStart implements POST terminal/start{id, cmd, cols, rows}
// (§6, §4.5): id scopes into the caller's TerminalSupervisor pool, created
// lazily and keyed so a repeated start against a running id is idempotent
// (AlreadyRunning) rather than spawning a second PTY.
func (s *Server) handleTerminalStart(c *gin.Context) {
	var req terminalStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "SCOPE_MISMATCH", "detail": err.Error()})
		return
	}
	if len(req.Cmd) == 0 {
		writeError(c, &ScopeMismatchError{Detail: "cmd must name at least a program"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = defaultTerminalSession
	}
	session := s.app.Session(sessionID)

	sess := session.Terminals().GetOrCreate(req.ID, terminalagent.New)
	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	result := sess.Start(c.Request.Context(), req.Cmd[0], req.Cmd[1:], cols, rows)

	c.JSON(http.StatusOK, terminalStartResponse{ID: req.ID, Status: string(result)})
}

type terminalStopRequest struct {
	ID        string `json:"id" binding:"required"`
	SessionID string `json:"session_id"`
}

// handleTerminalStop implements POST terminal/stop{id} (§6, §4.5): stops
// the child process and evicts it from the TerminalSupervisor pool so a
// later start with the same id spawns a fresh session.
func (s *Server) handleTerminalStop(c *gin.Context) {
	var req terminalStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "SCOPE_MISMATCH", "detail": err.Error()})
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = defaultTerminalSession
	}
	session := s.app.Session(sessionID)

	sess, ok := session.Terminals().Lookup(req.ID)
	if !ok {
		writeError(c, errRunNotFound)
		return
	}
	sess.Stop()
	session.Terminals().Evict(req.ID)

	c.JSON(http.StatusOK, gin.H{"id": req.ID, "status": "stopped"})
}

type terminalResizeRequest struct {
	ID        string `json:"id" binding:"required"`
	Cols      uint16 `json:"cols" binding:"required"`
	Rows      uint16 `json:"rows" binding:"required"`
	SessionID string `json:"session_id"`
}

// handleTerminalResize implements POST terminal/resize{id, cols, rows}.
func (s *Server) handleTerminalResize(c *gin.Context) {
	var req terminalResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "SCOPE_MISMATCH", "detail": err.Error()})
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = defaultTerminalSession
	}
	session := s.app.Session(sessionID)

	sess, ok := session.Terminals().Lookup(req.ID)
	if !ok {
		writeError(c, errRunNotFound)
		return
	}
	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": req.ID, "status": "resized"})
}
