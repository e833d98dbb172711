package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/choiros/choiros/internal/coreerr"
)

// ErrPathTraversal is returned by document-path resolution when a caller's
// path escapes the configured document root (§6 403 PATH_TRAVERSAL).
var ErrPathTraversal = errors.New("api: path escapes document root")

// errRunNotFound is returned when a run_id or writer path names no
// known run (§6 404 NOT_FOUND).
var errRunNotFound = fmt.Errorf("api: run not found: %w", coreerr.ErrNotFound)

// MissingMilestoneError reports that run_timeline's required_milestones
// query parameter named milestones that never appeared in the queried
// window (§6 422 MISSING_MILESTONE).
type MissingMilestoneError struct {
	Missing []string
}

func (e *MissingMilestoneError) Error() string {
	return fmt.Sprintf("missing milestones: %v", e.Missing)
}

// ScopeMismatchError reports the §6 400 SCOPE_MISMATCH case: exactly one
// of session_id/thread_id supplied while the other is absent.
type ScopeMismatchError struct{ Detail string }

func (e *ScopeMismatchError) Error() string { return "scope mismatch: " + e.Detail }

// writeError maps err to the exact status code and body shape from §6's
// error code table. Unrecognized errors fall back to 500.
func writeError(c *gin.Context, err error) {
	var revConflict *coreerr.RevisionConflictError
	var capUnavail *coreerr.CapabilityUnavailableError
	var missingMilestone *MissingMilestoneError
	var scopeMismatch *ScopeMismatchError

	switch {
	case errors.As(err, &revConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":           "REVISION_CONFLICT",
			"latest_content":  revConflict.LatestContent,
			"latest_revision": revConflict.LatestRevision,
		})
	case errors.As(err, &capUnavail):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "CAPABILITY_UNAVAILABLE", "capability": capUnavail.Capability})
	case errors.As(err, &missingMilestone):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "MISSING_MILESTONE", "missing": missingMilestone.Missing})
	case errors.As(err, &scopeMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "SCOPE_MISMATCH", "detail": scopeMismatch.Detail})
	case errors.Is(err, ErrPathTraversal):
		c.JSON(http.StatusForbidden, gin.H{"error": "PATH_TRAVERSAL"})
	case errors.Is(err, coreerr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "detail": err.Error()})
	}
}
