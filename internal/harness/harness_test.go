package harness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
)

type scriptedPlanner struct {
	plans     []core.AgentPlan
	idx       int
	answer    string
	planErr   error
	synthErr  error
}

func (p *scriptedPlanner) Plan(ctx context.Context, systemContext string, history []Turn, objective string) (core.AgentPlan, error) {
	if p.planErr != nil {
		return core.AgentPlan{}, p.planErr
	}
	if p.idx >= len(p.plans) {
		return core.AgentPlan{ObjectiveStatus: core.ObjectiveSatisfied}, nil
	}
	plan := p.plans[p.idx]
	p.idx++
	return plan, nil
}

func (p *scriptedPlanner) Synthesize(ctx context.Context, systemContext string, history []Turn, objective string) (string, error) {
	if p.synthErr != nil {
		return "", p.synthErr
	}
	return p.answer, nil
}

type recordingAdapter struct {
	role    core.Capability
	results map[string]core.ToolResult
	schemas []ToolSchema
	reports []core.TurnReport
}

func (a *recordingAdapter) GetRole() core.Capability { return a.role }
func (a *recordingAdapter) BuildSystemContext(objective string, scope core.Scope) string {
	return "system: " + objective
}
func (a *recordingAdapter) ExecuteTool(ctx context.Context, call core.ToolCall) core.ToolResult {
	if r, ok := a.results[call.Name]; ok {
		return r
	}
	return core.ToolResult{ToolCallID: call.ID, OK: true}
}
func (a *recordingAdapter) EmitTurnReport(report core.TurnReport) {
	a.reports = append(a.reports, report)
}
func (a *recordingAdapter) ToolSchemas() []ToolSchema { return a.schemas }

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, scope core.Scope, payload map[string]any) {
	p.events = append(p.events, topic)
}

func TestHarnessCompletesOnSatisfied(t *testing.T) {
	planner := &scriptedPlanner{answer: "done"}
	adapter := &recordingAdapter{role: core.CapabilityTerminal, results: map[string]core.ToolResult{}}
	pub := &recordingPublisher{}

	h := New(adapter, planner, pub, DefaultConfig())
	outcome := h.Run(context.Background(), "say hi", core.Scope{RunID: "r1"})

	require.Equal(t, core.OutcomeCompleted, outcome.Kind)
	assert.Equal(t, "done", outcome.Answer)
	assert.Contains(t, pub.events, core.TopicWorkerTaskStarted)
	assert.Contains(t, pub.events, core.TopicWorkerTaskCompleted)
}

func TestHarnessRunsToolCallsBeforeSatisfied(t *testing.T) {
	planner := &scriptedPlanner{
		plans: []core.AgentPlan{
			{ObjectiveStatus: core.ObjectiveInProgress, ToolCalls: []core.ToolCall{{ID: "1", Name: "ls", Arguments: map[string]any{}}}},
		},
		answer: "listed",
	}
	adapter := &recordingAdapter{
		role:    core.CapabilityTerminal,
		results: map[string]core.ToolResult{"ls": {OK: true}},
		schemas: []ToolSchema{{Name: "ls", Args: struct{}{}}},
	}
	pub := &recordingPublisher{}

	h := New(adapter, planner, pub, DefaultConfig())
	outcome := h.Run(context.Background(), "list files", core.Scope{RunID: "r1"})

	require.Equal(t, core.OutcomeCompleted, outcome.Kind)
	assert.Contains(t, pub.events, core.TopicWorkerTaskProgress)
}

func TestHarnessSchemaErrorBlocksWithoutRepair(t *testing.T) {
	planner := &scriptedPlanner{
		plans: []core.AgentPlan{
			{ObjectiveStatus: core.ObjectiveInProgress, ToolCalls: []core.ToolCall{{ID: "1", Name: ""}}},
		},
	}
	adapter := &recordingAdapter{role: core.CapabilityTerminal, results: map[string]core.ToolResult{}}
	h := New(adapter, planner, &recordingPublisher{}, DefaultConfig())

	outcome := h.Run(context.Background(), "bad call", core.Scope{RunID: "r1"})
	require.Equal(t, core.OutcomeBlocked, outcome.Kind)
	assert.Equal(t, core.FailureSchema, outcome.FailureKind)
}

func TestHarnessStepCapExceeded(t *testing.T) {
	planner := &scriptedPlanner{}
	for i := 0; i < 10; i++ {
		planner.plans = append(planner.plans, core.AgentPlan{ObjectiveStatus: core.ObjectiveInProgress})
	}
	adapter := &recordingAdapter{role: core.CapabilityTerminal}
	cfg := DefaultConfig()
	cfg.MaxSteps = 2
	h := New(adapter, planner, &recordingPublisher{}, cfg)

	outcome := h.Run(context.Background(), "loop forever", core.Scope{RunID: "r1"})
	require.Equal(t, core.OutcomeBlocked, outcome.Kind)
	assert.Equal(t, core.FailureStepCapExceeded, outcome.FailureKind)
}

func TestHarnessEvidenceFirstBlocksWithoutSuccessfulTool(t *testing.T) {
	planner := &scriptedPlanner{
		plans: []core.AgentPlan{
			{ObjectiveStatus: core.ObjectiveSatisfied},
		},
	}
	adapter := &recordingAdapter{role: core.CapabilityResearcher}
	cfg := DefaultConfig()
	cfg.EvidenceFirst = true
	h := New(adapter, planner, &recordingPublisher{}, cfg)

	outcome := h.Run(context.Background(), "what's today's weather", core.Scope{RunID: "r1"})
	require.Equal(t, core.OutcomeBlocked, outcome.Kind)
}

func TestHarnessCancellation(t *testing.T) {
	planner := &scriptedPlanner{}
	adapter := &recordingAdapter{role: core.CapabilityTerminal}
	h := New(adapter, planner, &recordingPublisher{}, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	time.Sleep(time.Millisecond)

	outcome := h.Run(ctx, "cancel me", core.Scope{RunID: "r1"})
	assert.Equal(t, core.OutcomeCancelled, outcome.Kind)
}

func TestHarnessSchemaRejectsUnknownArgument(t *testing.T) {
	planner := &scriptedPlanner{
		plans: []core.AgentPlan{
			{ObjectiveStatus: core.ObjectiveInProgress, ToolCalls: []core.ToolCall{
				{ID: "1", Name: "ls", Arguments: map[string]any{"path": ".", "recursive": true}},
			}},
		},
	}
	adapter := &recordingAdapter{
		role:    core.CapabilityTerminal,
		results: map[string]core.ToolResult{"ls": {OK: true}},
		schemas: []ToolSchema{{Name: "ls", Args: struct {
			Path string `json:"path"`
		}{}}},
	}
	h := New(adapter, planner, &recordingPublisher{}, DefaultConfig())

	outcome := h.Run(context.Background(), "list with extra arg", core.Scope{RunID: "r1"})
	require.Equal(t, core.OutcomeBlocked, outcome.Kind)
	assert.Equal(t, core.FailureSchema, outcome.FailureKind)
}

func TestBuildReportFoldsToolHistory(t *testing.T) {
	history := []Turn{
		{Result: core.ToolResult{OK: true, Output: map[string]any{"output": "hello from shell"}}},
		{Result: core.ToolResult{OK: true, Output: map[string]any{"findings": []map[string]any{
			{"url": "https://example.com", "title": "Example", "snippet": "a fact", "confidence": 0.9, "provider": "stub"},
		}}}},
		{Result: core.ToolResult{OK: false}},
	}

	report := buildReport(history)
	require.Len(t, report.Citations, 1)
	assert.Equal(t, "https://example.com", report.Citations[0].URL)
	assert.Equal(t, 0.9, report.Citations[0].Confidence)
	assert.Contains(t, report.Findings, "hello from shell")
	assert.Contains(t, report.Findings, "a fact")
	require.Len(t, report.Learnings, 1)
	assert.Equal(t, "2/3 tool calls succeeded", report.Learnings[0])
}

func TestHarnessPlannerErrorClassified(t *testing.T) {
	planner := &scriptedPlanner{planErr: &coreerr.ProviderError{Provider: "test", Transient: true, Cause: errors.New("boom")}}
	adapter := &recordingAdapter{role: core.CapabilityTerminal}
	h := New(adapter, planner, &recordingPublisher{}, DefaultConfig())

	outcome := h.Run(context.Background(), "fail", core.Scope{RunID: "r1"})
	require.Equal(t, core.OutcomeFailed, outcome.Kind)
	assert.Equal(t, core.FailureProviderTransient, outcome.FailureKind)
	assert.True(t, outcome.FailureRetriable)
}
