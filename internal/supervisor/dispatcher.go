package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/harness"
	"github.com/choiros/choiros/internal/modelpolicy"
	"github.com/choiros/choiros/internal/researcheragent"
	"github.com/choiros/choiros/internal/terminalagent"
)

// DefaultShell is the interactive shell spawned for a terminal agenda item
// that has never been started, unless the agenda's objective names an
// explicit command via its first whitespace-separated token.
const DefaultShell = "/bin/sh"

// WorkerDispatcher implements conductor.Dispatcher (§4.7 "before dispatch,
// Conductor resolves the model client via the model policy resolver for
// role = capability"): it owns the per-session TerminalRegistry and
// researcher provider Registry, builds the role-appropriate AgentAdapter,
// and runs one AgentHarness call per dispatched agenda item in its own
// goroutine so Conductor is never blocked on worker completion (§4.7
// Concurrency).
//
// Grounded on the teacher's internal/multiagent/supervisor.go dispatch-to-
// runtime seam, narrowed from "route a message to a chat agent runtime" to
// "route an agenda item to the capability's AgentHarness".
type WorkerDispatcher struct {
	scope core.Scope

	terminals  *TerminalRegistry
	researcher *researcheragent.Registry
	resolver   *modelpolicy.Resolver
	pub        harness.Publisher

	workspace string
	cfg       harness.Config

	startedMu sync.Mutex
	started   map[string]bool
}

// NewWorkerDispatcher constructs a dispatcher for one run.
func NewWorkerDispatcher(scope core.Scope, terminals *TerminalRegistry, researcher *researcheragent.Registry, resolver *modelpolicy.Resolver, pub harness.Publisher, workspace string, cfg harness.Config) *WorkerDispatcher {
	return &WorkerDispatcher{
		scope: scope, terminals: terminals, researcher: researcher, resolver: resolver,
		pub: pub, workspace: workspace, cfg: cfg,
		started: make(map[string]bool),
	}
}

// Dispatch runs item's capability call to completion asynchronously,
// reporting the typed DelegatedTaskResult (or error) on onResult exactly
// once (§4.7 Completion handling).
func (d *WorkerDispatcher) Dispatch(ctx context.Context, item core.AgendaItem, onResult func(core.DelegatedTaskResult, error)) {
	go func() {
		start := time.Now()
		adapter, err := d.buildAdapter(item)
		if err != nil {
			onResult(core.DelegatedTaskResult{}, err)
			return
		}
		client, err := d.resolver.Resolve(item.Capability)
		if err != nil {
			onResult(core.DelegatedTaskResult{}, err)
			return
		}
		planner := harness.NewModelPlanner(client)
		h := harness.New(adapter, planner, d.pub, d.cfg)
		outcome := h.Run(ctx, item.Objective, d.scope)

		result := core.DelegatedTaskResult{
			AgendaID:   item.ID,
			DurationMS: time.Since(start).Milliseconds(),
		}
		switch outcome.Kind {
		case core.OutcomeCompleted:
			result.ObjectiveStatus = core.ObjectiveSatisfied
			result.CompletionReason = outcome.CompletionReason
			if outcome.Answer != "" {
				result.Artifacts = append(result.Artifacts, core.Artifact{
					ID: core.NewID(), AgendaID: item.ID, Kind: "answer", Content: outcome.Answer, CreatedAt: time.Now().UTC(),
				})
			}
			onResult(result, nil)
		case core.OutcomeBlocked, core.OutcomeCancelled:
			result.ObjectiveStatus = core.ObjectiveBlocked
			result.CompletionReason = outcome.CompletionReason
			onResult(result, nil)
		default: // OutcomeFailed
			onResult(core.DelegatedTaskResult{}, fmt.Errorf("worker %s failed: %s", item.Capability, outcome.FailureHint))
		}
	}()
}

func (d *WorkerDispatcher) buildAdapter(item core.AgendaItem) (harness.AgentAdapter, error) {
	switch item.Capability {
	case core.CapabilityTerminal:
		termID := d.scope.RunID + ":" + item.ID
		sess := d.terminals.GetOrCreate(termID, terminalagent.New)
		d.startedMu.Lock()
		alreadyStarted := d.started[termID]
		d.started[termID] = true
		d.startedMu.Unlock()
		if !alreadyStarted {
			sess.Start(context.Background(), DefaultShell, nil, 80, 24)
		}
		return terminalagent.NewAdapter(sess, d.workspace), nil
	case core.CapabilityResearcher:
		return researcheragent.NewAdapter(d.researcher), nil
	default:
		return nil, fmt.Errorf("supervisor: no adapter for capability %q", item.Capability)
	}
}
