package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/choiros/choiros/internal/core"
)

// Grounded on the teacher's internal/gateway/ws_control_plane.go wsSession:
// same buffered-send-channel actor with a dedicated writeLoop goroutine so
// a slow client can never block the EventBus subscriber feeding it, and
// the same ping/pong read-deadline keepalive. Narrowed from a
// request/response/event RPC multiplexer down to a pure one-way event
// feed, since the live stream (§6, §4.9 writer_stream) has no client
// methods to dispatch -- only a subscribe scope chosen at connect time.
const (
	streamMaxBufferedEvents = 256
	streamPongWait          = 45 * time.Second
	streamWriteWait         = 10 * time.Second
	streamPingInterval      = 20 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamEnvelope is the §6 live event stream wire format: every event
// carries the full scope plus the owning document's path and revision so
// a UI can detect a revision gap and refetch (§4.3 "Ordering guarantee",
// §4.9 writer_stream).
type streamEnvelope struct {
	SessionID    string         `json:"session_id,omitempty"`
	ThreadID     string         `json:"thread_id,omitempty"`
	RunID        string         `json:"run_id,omitempty"`
	DocumentPath string         `json:"document_path,omitempty"`
	Revision     uint64         `json:"revision,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Seq          int64          `json:"seq"`
	Topic        string         `json:"topic"`
	Payload      map[string]any `json:"payload,omitempty"`
}

type streamSession struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	scope core.Scope
	seq   int64
}

// handleStream implements §6's live event stream: a caller subscribes by
// session_id/thread_id/run_id query parameters (any subset, narrowing the
// EventBus subscription the same way core.Scope.Matches narrows Publish),
// and receives every matching event from connect time forward as a
// streamEnvelope. There is no replay (§4.1, §4.2); a caller that needs
// history first calls run_timeline.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	scope := core.Scope{
		SessionID: c.Query("session_id"),
		ThreadID:  c.Query("thread_id"),
		RunID:     c.Query("run_id"),
	}

	ss := &streamSession{
		server: s,
		conn:   conn,
		send:   make(chan []byte, streamMaxBufferedEvents),
		scope:  scope,
	}
	ss.run()
}

func (ss *streamSession) run() {
	var scopePtr *core.Scope
	if !ss.scope.IsZero() {
		scopePtr = &ss.scope
	}
	events, unsubscribe := ss.server.app.EventBus().Subscribe("", scopePtr)
	defer unsubscribe()
	defer func() { _ = ss.conn.Close() }()

	readDone := make(chan struct{})
	go ss.readLoop(readDone)

	_ = ss.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	writeDone := make(chan struct{})
	go ss.writeLoop(writeDone)
	defer close(ss.send)

	for {
		select {
		case <-readDone:
			return
		case <-ticker.C:
			_ = ss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
		case e, ok := <-events:
			if !ok {
				return
			}
			ss.forward(e)
		}
	}
}

// readLoop only exists to detect client disconnect (close frames, pongs
// resetting the read deadline); the stream accepts no client methods.
func (ss *streamSession) readLoop(done chan struct{}) {
	defer close(done)
	ss.conn.SetPongHandler(func(string) error {
		return ss.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := ss.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ss *streamSession) writeLoop(done chan struct{}) {
	defer close(done)
	for msg := range ss.send {
		_ = ss.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := ss.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (ss *streamSession) forward(e core.Event) {
	env := streamEnvelope{
		SessionID: e.Scope.SessionID,
		ThreadID:  e.Scope.ThreadID,
		RunID:     e.Scope.RunID,
		Timestamp: e.Timestamp,
		Seq:       atomic.AddInt64(&ss.seq, 1),
		Topic:     e.Topic,
		Payload:   e.Payload,
	}
	if e.Scope.RunID != "" {
		if rc, ok := ss.server.app.LookupRun(e.Scope.RunID); ok {
			env.DocumentPath = rc.Writer.DocumentPath()
			if rev, err := rc.Writer.GetRevision(context.Background()); err == nil {
				env.Revision = rev
			}
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case ss.send <- data:
	default:
		// Slow subscriber: the EventBus already applied its own
		// drop-oldest policy before this event reached us, so here we can
		// only drop and let the client notice the seq/revision gap.
	}
}
