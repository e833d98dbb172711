// Package supervisor additionally implements the concrete ApplicationSupervisor
// and SessionSupervisor wiring from §4.8: the object that turns a
// submit_objective request into a running Conductor + RunWriter pair, and
// that owns every session's TerminalRegistry.
package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/choiros/choiros/internal/conductor"
	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
	"github.com/choiros/choiros/internal/eventbus"
	"github.com/choiros/choiros/internal/eventstore"
	"github.com/choiros/choiros/internal/harness"
	"github.com/choiros/choiros/internal/modelpolicy"
	"github.com/choiros/choiros/internal/observability"
	"github.com/choiros/choiros/internal/researcheragent"
	"github.com/choiros/choiros/internal/runwriter"
)

// ApplicationConfig configures the top-level Application (§4.8
// ApplicationSupervisor).
type ApplicationConfig struct {
	EventStorePath string // SQLite path for the EventStore
	DocumentRoot   string // root directory RunWriter document files live under
	WorkspaceRoot  string // root directory TerminalAgent shell_exec commands run in

	ConductorBindings []modelpolicy.Binding // per-role model client priority lists
	ResearchProviders []researcheragent.SearchProvider

	HarnessConfig harness.Config
}

// Application is the concrete ApplicationSupervisor (§4.8): children are
// the EventStore, EventBus, the SessionSupervisor registry, and the
// ModelPolicyResolver. It is the object cmd/choirosd and internal/api
// construct once per process.
type Application struct {
	cfg ApplicationConfig

	es               eventstore.Store
	bus              *eventbus.Bus
	resolver         *modelpolicy.Resolver
	researchRegistry *researcheragent.Registry

	sup *Supervisor // ApplicationSupervisor itself: restarts crashed Sessions

	mu       sync.Mutex
	sessions map[string]*Session
	runs     map[string]*RunContext // run_id -> owning RunContext, for run_timeline's run_id-only lookup (§4.9)
}

// NewApplication opens the EventStore, wires it to a fresh EventBus, and
// constructs the model policy resolver from cfg (§4.8, §4.1, §4.2).
func NewApplication(cfg ApplicationConfig) (*Application, error) {
	es, err := eventstore.Open(cfg.EventStorePath)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open event store: %w", err)
	}
	bus := eventbus.New()
	eventstore.SetNotifier(es, bus)
	bus.OnLagged(func(topic string, scope core.Scope, dropped int) {
		_, _ = es.Append(context.Background(), core.TopicSubscriberLagged, "eventbus", scope,
			map[string]any{"topic": topic, "dropped": dropped}, "")
	})

	researchRegistry := researcheragent.NewRegistry()
	for _, p := range cfg.ResearchProviders {
		researchRegistry.Register(p)
	}
	if len(cfg.ResearchProviders) == 0 {
		researchRegistry.Register(&researcheragent.StubProvider{})
	}

	a := &Application{
		cfg:              cfg,
		es:               es,
		bus:              bus,
		resolver:         modelpolicy.NewResolver(cfg.ConductorBindings),
		researchRegistry: researchRegistry,
		sessions:         make(map[string]*Session),
		runs:             make(map[string]*RunContext),
	}
	a.sup = New("application", func(reason string) {
		// ApplicationSupervisor has no parent; a fatal escalation here means
		// the process itself should exit non-zero (cmd/choirosd's job).
		observability.EmitRestartAttempt(&observability.RestartAttemptEvent{Child: "application", Critical: true})
		_ = reason
	})
	return a, nil
}

// EventStore exposes the ApplicationSupervisor's EventStore child for
// read-only queries (Observability API).
func (a *Application) EventStore() eventstore.Store { return a.es }

// EventBus exposes the ApplicationSupervisor's EventBus child for
// subscriptions (Observability API live stream).
func (a *Application) EventBus() *eventbus.Bus { return a.bus }

// Close shuts down the ApplicationSupervisor's EventStore child.
func (a *Application) Close() error {
	return a.es.Close()
}

// Session returns the SessionSupervisor for sessionID, creating one (and
// its TerminalRegistry, ConductorSupervisor) on first use. Concurrent
// callers for the same sessionID are serialized so exactly one
// SessionSupervisor is ever created per session (§4.8 Registry
// correctness, the same invariant TerminalRegistry enforces one level
// down).
func (a *Application) Session(sessionID string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if ok {
		return s
	}
	s = &Session{
		id:        sessionID,
		app:       a,
		terminals: NewTerminalRegistry(),
		runs:      make(map[string]*RunContext),
	}
	s.conductors = New(fmt.Sprintf("session:%s:conductors", sessionID), nil)
	a.sessions[sessionID] = s
	return s
}

// Session is the concrete SessionSupervisor (§4.8): children are
// TerminalSupervisor (TerminalRegistry), ConductorSupervisor (a generic
// Supervisor whose Children are per-run conductorChild wrappers), and
// WriterSupervisor (the runs map's *runwriter.Writer values).
// DesktopSupervisor is out of scope (§1, §9).
type Session struct {
	id  string
	app *Application

	terminals  *TerminalRegistry
	conductors *Supervisor

	mu   sync.Mutex
	runs map[string]*RunContext
}

// RunContext is one active run's actor set: its RunWriter, its Conductor,
// and the dispatcher bridging them to AgentHarness calls.
type RunContext struct {
	Scope      core.Scope
	Writer     *runwriter.Writer
	Conductor  *conductor.Conductor
	Dispatcher *WorkerDispatcher
}

// SubmitObjective implements the submit_objective external interface
// (§6): it mints a run_id if the caller did not supply one, opens a
// RunWriter bootstrapped at revision 0, constructs a Conductor wired to a
// WorkerDispatcher and ModelPolicy, and starts both (§4.8 "SessionSupervisor
// spawns a Conductor and a RunWriter for a new run_id").
func (s *Session) SubmitObjective(ctx context.Context, scope core.Scope, text string) (*RunContext, error) {
	if scope.SessionID == "" {
		return nil, coreerr.ErrScopeMismatch
	}
	if scope.RunID == "" {
		scope.RunID = core.NewID()
	}

	dbPath := filepath.Join(s.app.cfg.DocumentRoot, ".writer", scope.RunID+".db")
	pub := &harness.EventPublisher{ActorID: "harness:" + scope.RunID, Store: s.app.es, Bus: s.app.bus}

	w, err := runwriter.Open(ctx, scope.RunID, text, dbPath, s.app.cfg.DocumentRoot, s.app.es, s.app.bus)
	if err != nil {
		return nil, err
	}

	dispatcher := NewWorkerDispatcher(scope, s.terminals, s.app.researchRegistry, s.app.resolver, pub,
		s.app.cfg.WorkspaceRoot, s.app.cfg.HarnessConfig)
	policy := conductor.NewModelPolicy(s.app.resolver, "conductor")
	writerFacade := conductorWriterFacade{w: w}
	condPub := conductorPublisher{ActorID: "conductor:" + scope.RunID, Store: s.app.es, Bus: s.app.bus}

	c := conductor.New(scope, text, policy, dispatcher, writerFacade, condPub, 2)

	rc := &RunContext{Scope: scope, Writer: w, Conductor: c, Dispatcher: dispatcher}
	s.mu.Lock()
	s.runs[scope.RunID] = rc
	s.mu.Unlock()

	s.app.mu.Lock()
	s.app.runs[scope.RunID] = rc
	s.app.mu.Unlock()

	s.conductors.Supervise(ctx, conductorChild{runID: scope.RunID, c: c})
	c.Start(ctx)

	return rc, nil
}

// Run looks up an already-submitted run by id, scoped to this session.
func (s *Session) Run(runID string) (*RunContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.runs[runID]
	return rc, ok
}

// LookupRun finds a run by id alone, across every session. run_timeline
// (§6, §4.9) is queried by run_id with no session_id, so the
// ApplicationSupervisor keeps its own run_id -> RunContext index
// alongside each SessionSupervisor's scoped copy.
func (a *Application) LookupRun(runID string) (*RunContext, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rc, ok := a.runs[runID]
	return rc, ok
}

// Terminals exposes the session's TerminalSupervisor (TerminalRegistry).
func (s *Session) Terminals() *TerminalRegistry { return s.terminals }

// conductorChild adapts a *conductor.Conductor to the Supervisor's Child
// interface: Run blocks until the run reaches a terminal status, matching
// ConductorSupervisor's one_for_one policy (§4.8). A completed run is not
// restarted (Run returns nil on a terminal Done()).
type conductorChild struct {
	runID string
	c     *conductor.Conductor
}

func (c conductorChild) Name() string { return c.runID }
func (c conductorChild) Run(ctx context.Context) error {
	select {
	case status := <-c.c.Done():
		if status == core.RunStatusFailed {
			return fmt.Errorf("conductor %s terminated Failed", c.runID)
		}
		return nil
	case <-ctx.Done():
		c.c.Cancel()
		<-c.c.Done()
		return nil
	}
}
func (c conductorChild) Critical() bool { return false }

// conductorWriterFacade narrows *runwriter.Writer to conductor.Writer's
// section-keyed CommitProposal/PendingSections facade.
type conductorWriterFacade struct{ w *runwriter.Writer }

func (f conductorWriterFacade) CommitProposal(ctx context.Context, sectionID core.SectionID) (core.DocumentVersion, error) {
	return f.w.CommitProposal(ctx, sectionID)
}

func (f conductorWriterFacade) PendingSections(ctx context.Context) ([]core.SectionID, error) {
	return f.w.PendingSections(ctx)
}

// conductorPublisher is the same two-step EventStore+EventBus emit every
// actor uses (harness.EventPublisher's sibling, declared separately only
// because conductor.Publisher and harness.Publisher are distinct named
// interfaces even though structurally identical).
type conductorPublisher struct {
	ActorID string
	Store   eventstore.Store
	Bus     interface{ Publish(core.Event) }
}

func (p conductorPublisher) Publish(ctx context.Context, topic string, scope core.Scope, payload map[string]any) {
	if p.Store == nil {
		return
	}
	seq, err := p.Store.Append(ctx, topic, p.ActorID, scope, payload, "")
	if err != nil || p.Bus == nil {
		return
	}
	p.Bus.Publish(core.Event{Seq: seq, Topic: topic, ActorID: p.ActorID, Scope: scope, Payload: payload})
}
