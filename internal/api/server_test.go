package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiros/choiros/internal/harness"
	"github.com/choiros/choiros/internal/modelpolicy"
	"github.com/choiros/choiros/internal/observability"
	"github.com/choiros/choiros/internal/supervisor"
)

// NewMetrics registers its collectors against the global Prometheus
// registry, which panics on a second registration -- every test in this
// package shares one instance.
var (
	sharedMetricsOnce sync.Once
	sharedMetrics     *observability.Metrics
)

func testMetrics() *observability.Metrics {
	sharedMetricsOnce.Do(func() { sharedMetrics = observability.NewMetrics() })
	return sharedMetrics
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	cfg := supervisor.ApplicationConfig{
		EventStorePath: filepath.Join(dir, "events.db"),
		DocumentRoot:   dir,
		WorkspaceRoot:  dir,
		ConductorBindings: []modelpolicy.Binding{
			{
				Role: "conductor",
				Clients: []modelpolicy.ModelClient{
					&modelpolicy.StaticClient{
						ClientName: "stub-conductor",
						Answer:     `{"kind":"await_worker"}`,
					},
				},
			},
		},
		HarnessConfig: harness.DefaultConfig(),
	}

	app, err := supervisor.NewApplication(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text", Output: os.Stderr})
	return NewServer(app, logger, testMetrics())
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleSubmitObjective_Success(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v1/submit_objective", map[string]string{
		"session_id": "sess-1",
		"thread_id":  "thread-1",
		"text":       "summarize the repository",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp submitObjectiveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.NotEmpty(t, resp.TaskID)
	assert.NotEmpty(t, resp.DocumentPath)
	assert.Equal(t, "Running", string(resp.Status))
}

func TestHandleSubmitObjective_ScopeMismatch(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/v1/submit_objective", map[string]string{
		"session_id": "sess-1",
		"text":       "missing thread id",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRunTimeline_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/v1/run_timeline?run_id=does-not-exist", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRunTimeline_MissingMilestone(t *testing.T) {
	s := newTestServer(t)

	submit := doRequest(s, http.MethodPost, "/v1/submit_objective", map[string]string{
		"session_id": "sess-2",
		"thread_id":  "thread-2",
		"text":       "research the thing",
	})
	require.Equal(t, http.StatusOK, submit.Code)
	var resp submitObjectiveResponse
	require.NoError(t, json.Unmarshal(submit.Body.Bytes(), &resp))

	rec := doRequest(s, http.MethodGet, "/v1/run_timeline?run_id="+resp.RunID+"&required_milestones=conductor.decision,worker.task.completed", nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleWriterVersions_PathTraversal(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/v1/writer/versions?path=../../etc/passwd", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleWriterSaveVersion_RevisionConflict(t *testing.T) {
	s := newTestServer(t)

	submit := doRequest(s, http.MethodPost, "/v1/submit_objective", map[string]string{
		"session_id": "sess-3",
		"thread_id":  "thread-3",
		"text":       "draft a plan",
	})
	require.Equal(t, http.StatusOK, submit.Code)
	var resp submitObjectiveResponse
	require.NoError(t, json.Unmarshal(submit.Body.Bytes(), &resp))

	rec := doRequest(s, http.MethodPost, "/v1/writer/save-version", map[string]any{
		"path":     resp.DocumentPath,
		"content":  "new content",
		"base_rev": 99,
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "REVISION_CONFLICT", body["error"])
	assert.Contains(t, body, "latest_revision")
}

func TestHandleWriterSaveVersion_Success(t *testing.T) {
	s := newTestServer(t)

	submit := doRequest(s, http.MethodPost, "/v1/submit_objective", map[string]string{
		"session_id": "sess-4",
		"thread_id":  "thread-4",
		"text":       "draft a plan",
	})
	require.Equal(t, http.StatusOK, submit.Code)
	var resp submitObjectiveResponse
	require.NoError(t, json.Unmarshal(submit.Body.Bytes(), &resp))

	rec := doRequest(s, http.MethodPost, "/v1/writer/save-version", map[string]any{
		"path":     resp.DocumentPath,
		"content":  "new content",
		"base_rev": 0,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTerminalLifecycle(t *testing.T) {
	s := newTestServer(t)

	start := doRequest(s, http.MethodPost, "/v1/terminal/start", map[string]any{
		"id":  "term-1",
		"cmd": []string{"/bin/sh"},
	})
	assert.Equal(t, http.StatusOK, start.Code)

	resize := doRequest(s, http.MethodPost, "/v1/terminal/resize", map[string]any{
		"id":   "term-1",
		"cols": 100,
		"rows": 40,
	})
	assert.Equal(t, http.StatusOK, resize.Code)

	stop := doRequest(s, http.MethodPost, "/v1/terminal/stop", map[string]any{
		"id": "term-1",
	})
	assert.Equal(t, http.StatusOK, stop.Code)
}
