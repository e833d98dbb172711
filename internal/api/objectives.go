package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/choiros/choiros/internal/core"
)

type submitObjectiveRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	ThreadID  string `json:"thread_id" binding:"required"`
	Text      string `json:"text" binding:"required"`
}

type submitObjectiveResponse struct {
	TaskID            string         `json:"task_id"`
	RunID             string         `json:"run_id"`
	Status            core.RunStatus `json:"status"`
	DocumentPath      string         `json:"document_path"`
	WriterWindowProps map[string]any `json:"writer_window_props"`
	CorrelationID     string         `json:"correlation_id"`
}

// handleSubmitObjective implements §6's submit_objective: no legacy
// fallback keys accepted, so session_id/thread_id/text are all required.
func (s *Server) handleSubmitObjective(c *gin.Context) {
	var req submitObjectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "SCOPE_MISMATCH", "detail": err.Error()})
		return
	}

	scope := core.Scope{SessionID: req.SessionID, ThreadID: req.ThreadID}
	if scope.PartiallySpecified() {
		writeError(c, &ScopeMismatchError{Detail: "session_id and thread_id must both be present"})
		return
	}

	session := s.app.Session(req.SessionID)
	rc, err := session.SubmitObjective(c.Request.Context(), scope, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}

	revision, err := rc.Writer.GetRevision(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, submitObjectiveResponse{
		TaskID:       core.NewID(),
		RunID:        rc.Scope.RunID,
		Status:       core.RunStatusRunning,
		DocumentPath: rc.Writer.DocumentPath(),
		WriterWindowProps: map[string]any{
			"revision": revision,
		},
		CorrelationID: core.NewID(),
	})
}
