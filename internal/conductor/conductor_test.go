package conductor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiros/choiros/internal/core"
)

type scriptedPolicy struct {
	mu      sync.Mutex
	actions []core.ConductorAction
	idx     int
}

func (p *scriptedPolicy) Decide(ctx context.Context, state RunState) (core.ConductorAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx >= len(p.actions) {
		return core.ConductorAction{Kind: core.ActionAwaitWorker}, nil
	}
	a := p.actions[p.idx]
	p.idx++
	return a, nil
}

type instantDispatcher struct {
	result core.DelegatedTaskResult
	err    error
}

func (d *instantDispatcher) Dispatch(ctx context.Context, item core.AgendaItem, onResult func(core.DelegatedTaskResult, error)) {
	go onResult(d.result, d.err)
}

type noopPublisher struct{ topics []string }

func (p *noopPublisher) Publish(ctx context.Context, topic string, scope core.Scope, payload map[string]any) {
	p.topics = append(p.topics, topic)
}

func agendaWithOne(id string) map[string]core.AgendaItem {
	return map[string]core.AgendaItem{id: {ID: id, Capability: core.CapabilityTerminal, Status: core.AgendaReady, MaxAttempts: 2}}
}

func TestConductorDispatchThenComplete(t *testing.T) {
	policy := &scriptedPolicy{actions: []core.ConductorAction{
		{Kind: core.ActionDispatch, AgendaIDs: []string{"item-1"}},
		{Kind: core.ActionComplete},
	}}
	dispatcher := &instantDispatcher{result: core.DelegatedTaskResult{AgendaID: "item-1", ObjectiveStatus: core.ObjectiveSatisfied}}
	pub := &noopPublisher{}

	c := New(core.Scope{RunID: "r1"}, "do the thing", policy, dispatcher, nil, pub, 2)
	c.Start(context.Background())

	select {
	case status := <-c.Done():
		assert.Equal(t, core.RunStatusCompleted, status)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not terminate")
	}
}

func TestConductorWakeProvenanceGuard(t *testing.T) {
	policy := &scriptedPolicy{actions: []core.ConductorAction{
		{Kind: core.ActionAwaitWorker},
		{Kind: core.ActionComplete},
	}}
	c := New(core.Scope{RunID: "r1"}, "obj", policy, &instantDispatcher{}, nil, &noopPublisher{}, 2)
	c.Start(context.Background())

	c.WakeEvent("other-run") // must be ignored, no tick consumed
	c.WakeEvent("r1")        // matches, consumes the Complete action

	select {
	case status := <-c.Done():
		assert.Equal(t, core.RunStatusCompleted, status)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not terminate")
	}
}

func TestConductorBlockIsTerminal(t *testing.T) {
	policy := &scriptedPolicy{actions: []core.ConductorAction{
		{Kind: core.ActionBlock, BlockReason: "no capability"},
	}}
	c := New(core.Scope{RunID: "r1"}, "obj", policy, &instantDispatcher{}, nil, &noopPublisher{}, 2)
	c.Start(context.Background())

	select {
	case status := <-c.Done():
		assert.Equal(t, core.RunStatusBlocked, status)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not terminate")
	}
}

func TestConductorCancelEmitsFailed(t *testing.T) {
	policy := &scriptedPolicy{}
	c := New(core.Scope{RunID: "r1"}, "obj", policy, &instantDispatcher{}, nil, &noopPublisher{}, 2)
	c.Start(context.Background())
	c.Cancel()

	select {
	case status := <-c.Done():
		assert.Equal(t, core.RunStatusFailed, status)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not terminate")
	}
}

func TestConductorRetryRespawnsCall(t *testing.T) {
	policy := &scriptedPolicy{actions: []core.ConductorAction{
		{Kind: core.ActionDispatch, AgendaIDs: []string{"item-1"}},
		{Kind: core.ActionRetry, RetryAgendaID: "item-1"},
		{Kind: core.ActionComplete},
	}}
	dispatchCount := 0
	var mu sync.Mutex
	dispatcher := dispatcherFunc(func(ctx context.Context, item core.AgendaItem, onResult func(core.DelegatedTaskResult, error)) {
		mu.Lock()
		dispatchCount++
		mu.Unlock()
		go onResult(core.DelegatedTaskResult{}, assertErr)
	})
	c := New(core.Scope{RunID: "r1"}, "obj", policy, dispatcher, nil, &noopPublisher{}, 2)
	c.Start(context.Background())

	select {
	case status := <-c.Done():
		assert.Equal(t, core.RunStatusCompleted, status)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not terminate")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, dispatchCount, 2, "retry must respawn the call, not just re-queue intent")
}

type dispatcherFunc func(ctx context.Context, item core.AgendaItem, onResult func(core.DelegatedTaskResult, error))

func (f dispatcherFunc) Dispatch(ctx context.Context, item core.AgendaItem, onResult func(core.DelegatedTaskResult, error)) {
	f(ctx, item, onResult)
}

var assertErr = assertError{}

type assertError struct{}

func (assertError) Error() string { return "induced failure" }

// capturingPolicy records the RunState seen on every Decide call so tests
// can assert what a tick actually carried forward.
type capturingPolicy struct {
	mu      sync.Mutex
	seen    []RunState
	actions []core.ConductorAction
	idx     int
}

func (p *capturingPolicy) Decide(ctx context.Context, state RunState) (core.ConductorAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, state)
	if p.idx >= len(p.actions) {
		return core.ConductorAction{Kind: core.ActionAwaitWorker}, nil
	}
	a := p.actions[p.idx]
	p.idx++
	return a, nil
}

func TestConductorUserInterventionRoutesThroughPolicy(t *testing.T) {
	policy := &capturingPolicy{actions: []core.ConductorAction{
		{Kind: core.ActionAwaitWorker}, // Start tick
		{Kind: core.ActionMergeCanon, SectionID: core.SectionUser}, // UserIntervention tick
		{Kind: core.ActionComplete},
	}}
	writer := &fakeWriter{}
	c := New(core.Scope{RunID: "r1"}, "obj", policy, &instantDispatcher{}, writer, &noopPublisher{}, 2)
	c.Start(context.Background())

	c.UserIntervention("ov-1", 3)
	c.WakeEvent("r1") // drives the tick that consumes the scripted Complete action

	select {
	case status := <-c.Done():
		assert.Equal(t, core.RunStatusCompleted, status)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not terminate")
	}

	policy.mu.Lock()
	defer policy.mu.Unlock()
	require.Len(t, policy.seen, 3, "UserIntervention must feed the same Decide call as every other tick")
	assert.Equal(t, core.SectionUser, policy.seen[1].PendingInterventionSection)
	assert.Equal(t, uint64(3), policy.seen[1].PendingInterventionBaseVersion)
	// Cleared before the next tick so it is visible to exactly one Decide call.
	assert.Equal(t, core.SectionID(""), policy.seen[2].PendingInterventionSection)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Contains(t, writer.committed, core.SectionUser)
}

// fakeWriter is a minimal conductor.Writer stand-in recording CommitProposal
// calls and reporting a fixed set of pending sections, used to verify
// termination's "commit any remaining approved overlays" behavior without a
// real runwriter.Writer actor.
type fakeWriter struct {
	mu        sync.Mutex
	pending   []core.SectionID
	committed []core.SectionID
}

func (w *fakeWriter) CommitProposal(ctx context.Context, sectionID core.SectionID) (core.DocumentVersion, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.committed = append(w.committed, sectionID)
	for i, id := range w.pending {
		if id == sectionID {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			break
		}
	}
	return core.DocumentVersion{}, nil
}

func (w *fakeWriter) PendingSections(ctx context.Context) ([]core.SectionID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]core.SectionID(nil), w.pending...), nil
}

func TestConductorTerminateCommitsRemainingProposals(t *testing.T) {
	policy := &scriptedPolicy{actions: []core.ConductorAction{
		{Kind: core.ActionComplete},
	}}
	writer := &fakeWriter{pending: []core.SectionID{core.SectionResearcher, core.SectionTerminal}}
	c := New(core.Scope{RunID: "r1"}, "obj", policy, &instantDispatcher{}, writer, &noopPublisher{}, 2)
	c.Start(context.Background())

	select {
	case status := <-c.Done():
		assert.Equal(t, core.RunStatusCompleted, status)
	case <-time.After(2 * time.Second):
		t.Fatal("conductor did not terminate")
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.ElementsMatch(t, []core.SectionID{core.SectionResearcher, core.SectionTerminal}, writer.committed)
}

func TestConductorDispatchEligibility(t *testing.T) {
	agenda := agendaWithOne("item-1")
	blocked := core.AgendaItem{ID: "item-2", Capability: core.CapabilityTerminal, Status: core.AgendaReady, DependsOn: []string{"item-1"}}
	require.False(t, blocked.Eligible(agenda), "item depending on a non-completed item must not be eligible")
}
