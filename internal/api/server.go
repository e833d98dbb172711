// Package api implements the Observability API and control-plane HTTP/WS
// surface from §6 EXTERNAL INTERFACES: submit_objective, run_timeline,
// the writer document endpoints, terminal lifecycle endpoints, and the
// live event stream.
//
// Grounded on the teacher's internal/gateway package: http_server.go's
// plain net/http.ServeMux route table is replaced with gin (§1's explicit
// instruction that this package be the stack's first real gin consumer --
// the teacher itself never used its own gin dependency), and
// ws_control_plane.go's wsFrame request/response/event envelope and
// wsSession actor (buffered send channel, read/write goroutine pair,
// method-dispatch switch) are carried over structurally for the live
// stream, narrowed from chat/session RPCs to the run-scoped event topics
// this spec defines.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/choiros/choiros/internal/observability"
	"github.com/choiros/choiros/internal/supervisor"
)

// Server is the HTTP+WS front end over one Application (§4.8, §6).
type Server struct {
	app     *supervisor.Application
	logger  *observability.Logger
	metrics *observability.Metrics

	engine *gin.Engine
}

// NewServer builds the gin engine and registers every §6 route.
func NewServer(app *supervisor.Application, logger *observability.Logger, metrics *observability.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{app: app, logger: logger, metrics: metrics, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	v1.POST("/submit_objective", s.handleSubmitObjective)
	v1.GET("/run_timeline", s.handleRunTimeline)

	v1.GET("/writer/versions", s.handleWriterVersions)
	v1.GET("/writer/version", s.handleWriterVersion)
	v1.POST("/writer/save-version", s.handleWriterSaveVersion)
	v1.POST("/writer/prompt", s.handleWriterPrompt)

	v1.POST("/terminal/start", s.handleTerminalStart)
	v1.POST("/terminal/stop", s.handleTerminalStop)
	v1.POST("/terminal/resize", s.handleTerminalResize)

	s.engine.GET("/v1/stream", s.handleStream)
}

// Handler returns the http.Handler cmd/choirosd hands to http.Server.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
