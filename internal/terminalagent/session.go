// Package terminalagent implements TerminalAgent (§4.5): an AgentHarness
// adapter owning a real PTY session, built so a shell command is a true
// interactive terminal rather than a captured pipe.
//
// Grounded on the teacher's internal/tools/exec.Manager (background process
// tracking: id, cmd, started, done channel, exit code) merged with
// internal/tools/sandbox's pooled-execution and ChildKiller-style kill
// handle, generalized from buffered stdout/stderr capture to a live PTY via
// github.com/creack/pty so resize and raw-mode semantics are real.
package terminalagent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/choiros/choiros/internal/core"
)

// StartResult is the closed outcome set of Session.Start (§4.5 Lifecycle).
type StartResult string

const (
	Started        StartResult = "started"
	AlreadyRunning StartResult = "already_running"
	Failed         StartResult = "failed"
)

// ChildKiller is the kept handle used to explicitly terminate the child
// process on Stop, and as a best-effort safety net if the session is ever
// torn down without an explicit Stop (§4.5).
type ChildKiller interface {
	Kill() error
}

type procKiller struct{ cmd *exec.Cmd }

func (p procKiller) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Session owns one PTY-backed child process and its subscriber fan-out.
// Multiple observers may subscribe to output independently (§4.5
// Multi-subscriber): disconnecting one subscriber must never affect
// another, so each gets its own buffered channel fed by a single internal
// broadcast goroutine reading the PTY once.
type Session struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	pty       *os.File
	killer    ChildKiller
	running   bool
	exitCode  int
	exitErr   error

	subs      map[uint64]chan []byte
	nextSubID uint64

	doneCh chan struct{}
}

// New creates an idle session. Call Start to spawn the child.
func New() *Session {
	return &Session{subs: make(map[uint64]chan []byte)}
}

// Start spawns command under a pseudo-terminal of the given size and
// launches the reader/writer/waiter goroutines (§4.5: "three tasks").
// The writer goroutine is realized implicitly: Write() writes directly to
// the PTY master, since creack/pty's master fd supports concurrent
// independent read/write without a dedicated pump goroutine; reader and
// waiter are explicit goroutines below.
func (s *Session) Start(ctx context.Context, name string, args []string, cols, rows uint16) StartResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return AlreadyRunning
	}

	cmd := exec.CommandContext(ctx, name, args...)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: clampDim(cols), Rows: clampDim(rows)})
	if err != nil {
		return Failed
	}

	s.cmd = cmd
	s.pty = ptmx
	s.killer = procKiller{cmd: cmd}
	s.running = true
	s.doneCh = make(chan struct{})

	go s.readLoop()  // reader: PTY -> output subscribers
	go s.waitLoop()  // waiter: blocks on process exit

	return Started
}

// readLoop is the reader task: PTY output fanned out to every subscriber.
func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.broadcast(chunk)
		}
		if err != nil {
			return
		}
	}
}

// waitLoop is the waiter task: records exit status and closes doneCh,
// per §4.5's explicit invariant that a non-zero exit is Failed, not
// Completed (enforced by Outcome(), not here -- the waiter only records
// the raw exit code).
func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	s.mu.Lock()
	s.running = false
	s.exitErr = err
	s.exitCode = exitCode(err)
	s.mu.Unlock()
	close(s.doneCh)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Write sends input to the child's stdin (the PTY master).
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	running := s.running
	ptmx := s.pty
	s.mu.Unlock()
	if !running || ptmx == nil {
		return 0, fmt.Errorf("terminalagent: session not running")
	}
	return ptmx.Write(p)
}

// Resize requests cols,rows be applied to the PTY, clamped to >= 2x2 to
// protect the shared session (§4.5).
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	ptmx := s.pty
	s.mu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("terminalagent: session not running")
	}
	return pty.Setsize(ptmx, &pty.Winsize{Cols: clampDim(cols), Rows: clampDim(rows)})
}

func clampDim(v uint16) uint16 {
	if v < 2 {
		return 2
	}
	return v
}

// Subscribe registers a new independent output channel. The returned
// cancel function removes only this subscriber (§4.5 Multi-subscriber).
func (s *Session) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan []byte, buffer)
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Session) broadcast(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- chunk:
		default:
			// Slow subscriber drops this chunk rather than blocking the
			// single reader goroutine shared by every other subscriber.
		}
	}
}

// Stop explicitly kills the child via the kept ChildKiller handle, clears
// all subscriber handles, and waits for the waiter goroutine to observe
// exit (§4.5). Safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	killer := s.killer
	running := s.running
	done := s.doneCh
	s.mu.Unlock()
	if !running {
		return
	}
	if killer != nil {
		_ = killer.Kill()
	}
	if done != nil {
		<-done
	}
	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
}

// PostStop is a best-effort safety-net kill, invoked by the registry that
// owns this Session if it is ever evicted without an explicit Stop call.
func (s *Session) PostStop() {
	s.mu.Lock()
	killer := s.killer
	running := s.running
	s.mu.Unlock()
	if running && killer != nil {
		_ = killer.Kill()
	}
}

// Outcome reports the terminal status of the child process once it has
// exited, implementing §4.5's explicit invariant: any non-zero exit is
// Failed, never Completed.
func (s *Session) Outcome() (kind core.HarnessOutcomeKind, exitCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return core.OutcomeCancelled, 0
	}
	if s.exitCode != 0 {
		return core.OutcomeFailed, s.exitCode
	}
	return core.OutcomeCompleted, 0
}

// Done returns a channel closed once the child process has exited.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}
