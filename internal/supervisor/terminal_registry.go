package supervisor

import (
	"sync"

	"github.com/choiros/choiros/internal/terminalagent"
)

// TerminalRegistry is the TerminalSupervisor's pool of terminal actors
// keyed by terminal_id (§4.8). Create-or-lookup is serialized under a
// key-level lock to prevent the double-spawn race the spec calls out
// explicitly ("previously leaked PTYs"): two concurrent callers racing to
// create the same terminal_id must observe exactly one Session, never two.
type TerminalRegistry struct {
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
	sessions map[string]*terminalagent.Session
}

// NewTerminalRegistry constructs an empty registry.
func NewTerminalRegistry() *TerminalRegistry {
	return &TerminalRegistry{
		keyLocks: make(map[string]*sync.Mutex),
		sessions: make(map[string]*terminalagent.Session),
	}
}

func (r *TerminalRegistry) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.keyLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.keyLocks[id] = l
	}
	return l
}

// GetOrCreate returns the existing Session for id, or calls create exactly
// once to populate it if absent. Concurrent callers for the same id block
// on the per-id lock rather than racing to spawn duplicate sessions.
func (r *TerminalRegistry) GetOrCreate(id string, create func() *terminalagent.Session) *terminalagent.Session {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		return sess
	}

	sess = create()
	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()
	return sess
}

// Lookup returns the session for id without creating one.
func (r *TerminalRegistry) Lookup(id string) (*terminalagent.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Evict removes id from the registry and runs its PostStop safety net,
// implementing §4.5's "clear all handles, and evict the actor from any
// registry" on an explicit Stop, and the best-effort kill on eviction
// without one.
func (r *TerminalRegistry) Evict(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		sess.PostStop()
	}
}
