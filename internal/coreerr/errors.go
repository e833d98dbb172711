// Package coreerr defines the ChoirOS error taxonomy (§7). Errors are
// values that travel through typed message results; only truly
// unrecoverable in-memory corruption should crash an actor and let its
// supervisor restart it.
package coreerr

import (
	"errors"
	"fmt"

	"github.com/choiros/choiros/internal/core"
)

// Sentinel errors for conditions with no further structured payload.
var (
	ErrNotFound         = errors.New("coreerr: not found")
	ErrCancelled         = errors.New("coreerr: cancelled")
	ErrScopeMismatch     = errors.New("coreerr: scope mismatch")
	ErrOverlayTerminal   = errors.New("coreerr: overlay already terminal")
	ErrUnknownCapability = errors.New("coreerr: capability unavailable")
)

// Classified is implemented by every ChoirOS error type so callers can
// uniformly decide retry/escalate policy without type-switching on
// concrete types.
type Classified interface {
	error
	Classify() (kind core.FailureKind, retriable bool)
}

// SchemaError reports that tool arguments did not fit the typed nested
// schema (§4.4 rule 2, §7). Terminal for the turn; never repaired.
type SchemaError struct {
	Tool   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error calling %q: %s", e.Tool, e.Reason)
}

func (e *SchemaError) Classify() (core.FailureKind, bool) {
	return core.FailureSchema, false
}

// ProviderError reports an LLM/tool provider failure, classified transient
// or permanent (§7).
type ProviderError struct {
	Provider  string
	Transient bool
	Cause     error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s error (%s): %v", e.Provider, kind, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func (e *ProviderError) Classify() (core.FailureKind, bool) {
	if e.Transient {
		return core.FailureProviderTransient, true
	}
	return core.FailureProviderPermanent, false
}

// TimeoutError reports a deadline exceeded on a model or tool call (§7).
// Always Blocked at worker scope; Conductor may Retry with a different
// capability.
type TimeoutError struct {
	Operation string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout exceeded: %s", e.Operation)
}

func (e *TimeoutError) Classify() (core.FailureKind, bool) {
	return core.FailureTimeout, true
}

// PersistError wraps an EventStore/RunWriter disk failure (§4.1, §7). The
// actor that returns it does not crash; the caller decides to retry.
type PersistError struct {
	Cause error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist: %v", e.Cause)
}

func (e *PersistError) Unwrap() error { return e.Cause }

func (e *PersistError) Classify() (core.FailureKind, bool) {
	return core.FailurePersist, false
}

// RevisionConflictError is returned when a writer save targets a stale
// revision (§6, §8.2). Callers retry with LatestRevision.
type RevisionConflictError struct {
	LatestContent  string
	LatestRevision uint64
}

func (e *RevisionConflictError) Error() string {
	return fmt.Sprintf("revision conflict: latest is %d", e.LatestRevision)
}

func (e *RevisionConflictError) Classify() (core.FailureKind, bool) {
	return core.FailureRevisionConflict, false
}

// CapabilityUnavailableError reports that the policy asked for a
// capability the resolver cannot satisfy (§4.7, §7). No silent fallback.
type CapabilityUnavailableError struct {
	Capability core.Capability
}

func (e *CapabilityUnavailableError) Error() string {
	return fmt.Sprintf("capability unavailable: %s", e.Capability)
}

func (e *CapabilityUnavailableError) Classify() (core.FailureKind, bool) {
	return core.FailureCapabilityUnavail, false
}

// PlannerMalformedError reports that planner output was not one of the
// bounded ConductorAction/AgentPlan variants (§9). No heuristic
// substitution is ever attempted.
type PlannerMalformedError struct {
	Raw string
}

func (e *PlannerMalformedError) Error() string {
	return fmt.Sprintf("planner output malformed: %s", e.Raw)
}

func (e *PlannerMalformedError) Classify() (core.FailureKind, bool) {
	return core.FailurePlannerMalformed, false
}
