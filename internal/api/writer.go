package api

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
)

// resolveRunID maps a §6 writer document_path to the owning run_id,
// rejecting anything that climbs out of DocumentRoot (403 PATH_TRAVERSAL).
// A run_id the ApplicationSupervisor does not know about is reported by
// the caller via errRunNotFound (404 NOT_FOUND).
func (s *Server) resolveRunID(path string) (string, error) {
	cleaned := filepath.Clean(strings.TrimPrefix(path, "/"))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", ErrPathTraversal
	}
	// RunWriter names every document "{DocumentRoot}/{run_id}.md"
	// (runwriter.Writer.DocumentPath), so the run_id is always the
	// filename stem regardless of how deep the caller's path is nested.
	base := filepath.Base(cleaned)
	runID := strings.TrimSuffix(base, filepath.Ext(base))
	if runID == "" || runID == "." || runID == ".." {
		return "", ErrPathTraversal
	}
	return runID, nil
}

func (s *Server) runFromPath(c *gin.Context, path string) (runID string, ok bool) {
	runID, err := s.resolveRunID(path)
	if err != nil {
		writeError(c, err)
		return "", false
	}
	if _, exists := s.app.LookupRun(runID); !exists {
		writeError(c, errRunNotFound)
		return "", false
	}
	return runID, true
}

type writerVersionsResponse struct {
	Versions []core.DocumentVersion `json:"versions"`
}

// handleWriterVersions implements GET writer/versions{path}.
func (s *Server) handleWriterVersions(c *gin.Context) {
	path := c.Query("path")
	runID, ok := s.runFromPath(c, path)
	if !ok {
		return
	}
	rc, _ := s.app.LookupRun(runID)
	versions, err := rc.Writer.ListVersions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, writerVersionsResponse{Versions: versions})
}

// handleWriterVersion implements GET writer/version{path, version_id}.
func (s *Server) handleWriterVersion(c *gin.Context) {
	path := c.Query("path")
	runID, ok := s.runFromPath(c, path)
	if !ok {
		return
	}
	versionID, err := strconv.ParseUint(c.Query("version_id"), 10, 64)
	if err != nil {
		writeError(c, &ScopeMismatchError{Detail: "version_id must be an integer"})
		return
	}
	rc, _ := s.app.LookupRun(runID)
	v, err := rc.Writer.GetVersion(c.Request.Context(), versionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type writerSaveVersionRequest struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
	BaseRev uint64 `json:"base_rev"`
}

// handleWriterSaveVersion implements POST writer/save-version{path, content}
// (§6, S6): a save against a stale base_rev is rejected with
// 409 REVISION_CONFLICT{latest_content, latest_revision} and creates
// nothing (§8.1 invariant: "no version created; no overlay created").
func (s *Server) handleWriterSaveVersion(c *gin.Context) {
	var req writerSaveVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "SCOPE_MISMATCH", "detail": err.Error()})
		return
	}
	runID, ok := s.runFromPath(c, req.Path)
	if !ok {
		return
	}
	rc, _ := s.app.LookupRun(runID)

	latestRevision, err := rc.Writer.GetRevision(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if req.BaseRev != latestRevision {
		head, err := rc.Writer.GetHeadVersion(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		writeError(c, &coreerr.RevisionConflictError{LatestContent: head.Content, LatestRevision: latestRevision})
		return
	}

	v, err := rc.Writer.CreateVersion(c.Request.Context(), req.Content, core.VersionSourceUserSave)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type writerPromptRequest struct {
	Path          string `json:"path" binding:"required"`
	PromptDiff    string `json:"prompt_diff" binding:"required"`
	BaseVersionID uint64 `json:"base_version_id"`
}

type writerPromptResponse struct {
	OverlayID string `json:"overlay_id"`
}

// handleWriterPrompt implements POST writer/prompt{path, prompt_diff,
// base_version_id}: creates a pending comment overlay and wakes the
// run's Conductor with a UserIntervention so the rewrite is scheduled on
// its next tick (§4.7 inputs: UserIntervention(prompt_diff, base_version_id)).
func (s *Server) handleWriterPrompt(c *gin.Context) {
	var req writerPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "SCOPE_MISMATCH", "detail": err.Error()})
		return
	}
	runID, ok := s.runFromPath(c, req.Path)
	if !ok {
		return
	}
	rc, _ := s.app.LookupRun(runID)

	ops := []core.PatchOp{{Op: core.OpInsert, Pos: 0, Text: req.PromptDiff}}
	overlay, err := rc.Writer.CreateOverlay(c.Request.Context(), req.BaseVersionID, core.OverlayAuthorUser, core.OverlayKindProposal, core.SectionUser, ops)
	if err != nil {
		writeError(c, err)
		return
	}

	// Land the diff in the User section's proposal buffer (§4.3
	// ApplyPatch{proposal: true}) so the Conductor's next tick sees
	// pending content to merge via CommitProposal, not just an audit row.
	if _, err := rc.Writer.ApplyPatch(c.Request.Context(), core.VersionSourceUserSave, core.SectionUser, ops, true); err != nil {
		writeError(c, err)
		return
	}

	rc.Conductor.UserIntervention(overlay.OverlayID, req.BaseVersionID)

	c.JSON(http.StatusOK, writerPromptResponse{OverlayID: overlay.OverlayID})
}
