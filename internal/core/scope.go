// Package core defines the shared domain types that flow between ChoirOS
// actors: scope identifiers, the event envelope, the run document version
// model, and the agenda/worker-call types used by the Conductor and
// AgentHarness. It plays the same role the teacher's pkg/models package
// plays for Nexus: a dependency-free home for the nouns every component
// agrees on.
package core

import (
	crand "crypto/rand"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Scope is the (session_id, thread_id, run_id) triple required on every
// control and data envelope in the core. A field is empty when it does not
// apply (e.g. a session-level event has no run_id yet).
type Scope struct {
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// IsZero reports whether no scope field is set.
func (s Scope) IsZero() bool {
	return s.SessionID == "" && s.ThreadID == "" && s.RunID == ""
}

// Matches reports whether s satisfies a scoped query for want: every
// non-empty field in want must equal the corresponding field in s.
func (s Scope) Matches(want Scope) bool {
	if want.SessionID != "" && s.SessionID != want.SessionID {
		return false
	}
	if want.ThreadID != "" && s.ThreadID != want.ThreadID {
		return false
	}
	if want.RunID != "" && s.RunID != want.RunID {
		return false
	}
	return true
}

// PartiallySpecified reports whether exactly one of SessionID/ThreadID is
// set while the other is empty -- the §6 "one null and one non-null"
// rejection case.
func (s Scope) PartiallySpecified() bool {
	return (s.SessionID == "") != (s.ThreadID == "")
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewChaCha8(seed())), 0)
)

func seed() [32]byte {
	var b [32]byte
	_, _ = io.ReadFull(crand.Reader, b[:])
	return b
}

// NewID returns a new ULID-style identifier: monotonic and lexically
// sortable, matching §3.1's "IDs are monotonic and sortable" requirement.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
