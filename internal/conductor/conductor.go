// Package conductor implements the Conductor component (§4.7): a per-run,
// orchestration-only policy loop. Conductor never executes tools itself --
// it decides which capability calls to dispatch, retry, block, or merge,
// and reacts to their asynchronous completion.
//
// Grounded on the teacher's internal/multiagent/orchestrator.go (per-run
// supervisor state plus an event callback driving policy) and
// internal/multiagent/supervisor.go (central dispatch coordinator),
// generalized from "pick the next chat participant" to "plan an agenda of
// capability calls, dispatch, retry/block/escalate, decide termination".
// ConductorAction is the teacher's OrchestratorEventType closed-enum
// pattern applied to policy decisions instead of event classification.
package conductor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
)

// Policy is the model-facing decision function invoked once per tick
// (§4.7 "Conductor asks the model policy one of a bounded set of typed
// decisions"). Conductor itself never talks to a model directly.
type Policy interface {
	Decide(ctx context.Context, state RunState) (core.ConductorAction, error)
}

// RunState is the read-only snapshot handed to Policy.Decide each tick
// (§3.4: objective, agenda, active_calls, artifacts, decision_log).
type RunState struct {
	RunID     string
	Objective string
	Agenda    map[string]core.AgendaItem
	Active    map[string]core.CapabilityCall // agenda_id -> in-flight call

	Artifacts   []core.Artifact
	DecisionLog []core.DecisionLogEntry

	// PendingInterventionSection/BaseVersion are set for exactly the tick a
	// UserIntervention arrived on (§4.7 inputs), so Policy.Decide can see it
	// and choose ActionMergeCanon for the section, retry/dispatch around
	// it, or ignore it -- never auto-committed outside a policy decision.
	// Cleared unconditionally after the tick's action is applied.
	PendingInterventionSection    core.SectionID
	PendingInterventionBaseVersion uint64
}

// Dispatcher spawns one capability call and reports its terminal result
// back onto the Conductor's mailbox asynchronously -- Conductor must never
// block on worker completion (§4.7 Concurrency).
type Dispatcher interface {
	Dispatch(ctx context.Context, item core.AgendaItem, onResult func(core.DelegatedTaskResult, error))
}

// Writer is the narrow RunWriter facade Conductor uses for MergeCanon and
// termination.
type Writer interface {
	CommitProposal(ctx context.Context, sectionID core.SectionID) (core.DocumentVersion, error)
	PendingSections(ctx context.Context) ([]core.SectionID, error)
}

// Publisher emits the Conductor's lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, topic string, scope core.Scope, payload map[string]any)
}

type msgKind int

const (
	msgStart msgKind = iota
	msgWorkerCompleted
	msgWorkerFailed
	msgWorkerBlocked
	msgWakeEvent
	msgUserIntervention
	msgCancel
)

type message struct {
	kind      msgKind
	agendaID  string
	result    core.DelegatedTaskResult
	err       error
	reason    string
	wakeRunID string
	overlayID string
	baseVer   uint64
}

// Conductor runs one run's policy loop in a single goroutine mailbox, the
// same actor shape as runwriter.Writer, so it never shares RunState across
// goroutines.
type Conductor struct {
	scope     core.Scope
	objective string

	policy     Policy
	dispatcher Dispatcher
	writer     Writer
	pub        Publisher

	maxAttempts uint32

	mail chan message
	done chan struct{}
	result chan core.RunStatus

	status atomic.Value // core.RunStatus, for run_timeline's status field (§4.9)
}

// New constructs a Conductor for one run. Callers must call Start to begin
// the loop.
func New(scope core.Scope, objective string, policy Policy, dispatcher Dispatcher, writer Writer, pub Publisher, maxAttempts uint32) *Conductor {
	if maxAttempts == 0 {
		maxAttempts = 2
	}
	c := &Conductor{
		scope: scope, objective: objective,
		policy: policy, dispatcher: dispatcher, writer: writer, pub: pub,
		maxAttempts: maxAttempts,
		mail:        make(chan message, 64),
		done:        make(chan struct{}),
		result:      make(chan core.RunStatus, 1),
	}
	c.status.Store(core.RunStatusInitializing)
	return c
}

// Objective returns the run's original objective text, immutable for the
// Conductor's lifetime.
func (c *Conductor) Objective() string { return c.objective }

// Status returns the most recently observed run status (§4.9
// run_timeline). Safe for concurrent use while the actor loop is running.
func (c *Conductor) Status() core.RunStatus {
	return c.status.Load().(core.RunStatus)
}

// Start launches the actor goroutine and enqueues the initial Start tick.
func (c *Conductor) Start(ctx context.Context) {
	go c.run(ctx)
	c.mail <- message{kind: msgStart}
}

// WorkerCompleted delivers an asynchronous worker result to the mailbox.
func (c *Conductor) WorkerCompleted(agendaID string, result core.DelegatedTaskResult) {
	c.send(message{kind: msgWorkerCompleted, agendaID: agendaID, result: result})
}

// WorkerFailed delivers an asynchronous worker failure.
func (c *Conductor) WorkerFailed(agendaID string, err error) {
	c.send(message{kind: msgWorkerFailed, agendaID: agendaID, err: err})
}

// WorkerBlocked delivers an asynchronous worker Blocked outcome.
func (c *Conductor) WorkerBlocked(agendaID, reason string) {
	c.send(message{kind: msgWorkerBlocked, agendaID: agendaID, reason: reason})
}

// WakeEvent delivers a watcher escalation. Conductor applies the wake
// provenance guard (§4.7) before acting on it.
func (c *Conductor) WakeEvent(runID string) {
	c.send(message{kind: msgWakeEvent, wakeRunID: runID})
}

// UserIntervention delivers a user-authored prompt diff against a base
// version for the Conductor to fold into its next dispatch decision.
func (c *Conductor) UserIntervention(overlayID string, baseVersionID uint64) {
	c.send(message{kind: msgUserIntervention, overlayID: overlayID, baseVer: baseVersionID})
}

// Cancel requests cooperative termination at the next tick boundary.
func (c *Conductor) Cancel() {
	c.send(message{kind: msgCancel})
}

// Done reports terminal run status once the Conductor has exited.
func (c *Conductor) Done() <-chan core.RunStatus { return c.result }

func (c *Conductor) send(m message) {
	select {
	case c.mail <- m:
	case <-c.done:
	}
}

func (c *Conductor) run(ctx context.Context) {
	defer close(c.done)
	state := RunState{RunID: c.scope.RunID, Objective: c.objective, Agenda: map[string]core.AgendaItem{}, Active: map[string]core.CapabilityCall{}}
	var cancelled bool

	for m := range c.mail {
		switch m.kind {
		case msgStart:
			c.status.Store(core.RunStatusRunning)
			c.emit(ctx, core.TopicConductorDecision, map[string]any{"phase": "start"})
		case msgWorkerCompleted:
			item := state.Agenda[m.agendaID]
			item.Status = core.AgendaCompleted
			state.Agenda[m.agendaID] = item
			delete(state.Active, m.agendaID)
			state.Artifacts = append(state.Artifacts, m.result.Artifacts...)
			if m.result.RecommendedNextCapability != nil && m.result.RecommendedNextObjective != "" {
				followup := core.AgendaItem{
					ID: core.NewID(), Capability: *m.result.RecommendedNextCapability,
					Objective: m.result.RecommendedNextObjective, Status: core.AgendaReady, MaxAttempts: c.maxAttempts,
				}
				state.Agenda[followup.ID] = followup
			}
		case msgWorkerFailed:
			item := state.Agenda[m.agendaID]
			item.Status = core.AgendaFailed
			item.Attempts++
			delete(state.Active, m.agendaID)
			if item.Attempts < item.MaxAttempts {
				item.Status = core.AgendaReady
			}
			state.Agenda[m.agendaID] = item
		case msgWorkerBlocked:
			item := state.Agenda[m.agendaID]
			item.Status = core.AgendaBlocked
			delete(state.Active, m.agendaID)
			state.Agenda[m.agendaID] = item
		case msgWakeEvent:
			if m.wakeRunID != c.scope.RunID {
				continue // wake provenance guard: ignore events for other runs
			}
		case msgUserIntervention:
			// Record the intervention for this tick's Decide call instead of
			// committing it directly; only the policy may turn a pending
			// user proposal into canon (§4.7 UserIntervention input).
			state.PendingInterventionSection = core.SectionUser
			state.PendingInterventionBaseVersion = m.baseVer
		case msgCancel:
			cancelled = true
		}

		if cancelled {
			c.terminate(ctx, &state, core.RunStatusFailed, "cancelled")
			return
		}

		action, err := c.policy.Decide(ctx, state)
		state.PendingInterventionSection = ""
		state.PendingInterventionBaseVersion = 0
		if err != nil {
			c.terminate(ctx, &state, core.RunStatusFailed, "planner_malformed")
			return
		}
		state.DecisionLog = append(state.DecisionLog, core.DecisionLogEntry{At: time.Now().UTC(), Action: action})
		if terminal, status := c.applyAction(ctx, &state, action); terminal {
			c.terminate(ctx, &state, status, string(action.Kind))
			return
		}
	}
}

// applyAction executes one ConductorAction against state. It returns
// (true, status) when the action is terminal for the run.
func (c *Conductor) applyAction(ctx context.Context, state *RunState, action core.ConductorAction) (bool, core.RunStatus) {
	switch action.Kind {
	case core.ActionDispatch:
		for _, id := range action.AgendaIDs {
			item, ok := state.Agenda[id]
			if !ok || !item.Eligible(state.Agenda) {
				continue
			}
			if _, active := state.Active[id]; active {
				continue // no other active call targets the same item
			}
			item.Status = core.AgendaDispatched
			state.Agenda[id] = item
			state.Active[id] = core.CapabilityCall{ID: core.NewID(), AgendaID: id, Capability: item.Capability, StartedAt: time.Now().UTC(), Status: core.AgendaDispatched}
			c.dispatchOne(ctx, item)
		}
		return false, ""
	case core.ActionSpawnFollowup:
		if action.Followup != nil {
			f := *action.Followup
			if f.ID == "" {
				f.ID = core.NewID()
			}
			f.Status = core.AgendaReady
			if f.MaxAttempts == 0 {
				f.MaxAttempts = c.maxAttempts
			}
			state.Agenda[f.ID] = f
		}
		return false, ""
	case core.ActionRetry:
		item, ok := state.Agenda[action.RetryAgendaID]
		if !ok {
			return false, ""
		}
		item.Status = core.AgendaDispatched
		state.Agenda[action.RetryAgendaID] = item
		state.Active[action.RetryAgendaID] = core.CapabilityCall{ID: core.NewID(), AgendaID: action.RetryAgendaID, Capability: item.Capability, StartedAt: time.Now().UTC()}
		c.dispatchOne(ctx, item) // Retry directly respawns the call, never merely re-queues intent
		return false, ""
	case core.ActionBlock:
		return true, core.RunStatusBlocked
	case core.ActionMergeCanon:
		if c.writer != nil {
			if _, err := c.writer.CommitProposal(ctx, action.SectionID); err != nil {
				return true, core.RunStatusFailed
			}
		}
		return false, ""
	case core.ActionComplete:
		return true, core.RunStatusCompleted
	case core.ActionAwaitWorker:
		return false, ""
	default:
		return true, core.RunStatusFailed
	}
}

func (c *Conductor) dispatchOne(ctx context.Context, item core.AgendaItem) {
	c.dispatcher.Dispatch(ctx, item, func(result core.DelegatedTaskResult, err error) {
		if err != nil {
			if classified, ok := err.(coreerr.Classified); ok {
				_, _ = classified.Classify()
			}
			c.WorkerFailed(item.ID, err)
			return
		}
		switch result.ObjectiveStatus {
		case core.ObjectiveSatisfied:
			c.WorkerCompleted(item.ID, result)
		case core.ObjectiveBlocked:
			c.WorkerBlocked(item.ID, result.CompletionReason)
		default:
			c.WorkerFailed(item.ID, fmt.Errorf("conductor: worker returned in_progress as terminal result"))
		}
	})
}

// terminate commits any remaining approved overlays, emits the final run
// status, and exits (§4.7 Termination: "on termination, it sends
// CommitProposal for any remaining approved overlays, emits
// writer.run.status{Completed|Blocked|Failed}, and exits").
func (c *Conductor) terminate(ctx context.Context, state *RunState, status core.RunStatus, reason string) {
	if c.writer != nil {
		if pending, err := c.writer.PendingSections(ctx); err == nil {
			for _, sectionID := range pending {
				_, _ = c.writer.CommitProposal(ctx, sectionID) // best-effort: termination must not hang on a stray proposal
				state.DecisionLog = append(state.DecisionLog, core.DecisionLogEntry{
					At:     time.Now().UTC(),
					Action: core.ConductorAction{Kind: core.ActionMergeCanon, SectionID: sectionID},
				})
			}
		}
	}

	c.status.Store(status)
	c.emit(ctx, core.TopicWriterRunStatus, map[string]any{
		"status":       status,
		"reason":       reason,
		"artifacts":    state.Artifacts,
		"decision_log": state.DecisionLog,
	})
	c.result <- status
}

func (c *Conductor) emit(ctx context.Context, topic string, payload map[string]any) {
	if c.pub != nil {
		c.pub.Publish(ctx, topic, c.scope, payload)
	}
}
