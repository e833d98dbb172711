// Package harness implements AgentHarness (§4.4): the single shared
// PLAN/EXECUTE/OBSERVE/SYNTHESIZE loop every worker call runs, parameterized
// by a role-specific AgentAdapter.
//
// Grounded directly on the teacher's internal/agent.AgenticLoop state
// machine (Init/Stream/Execute Tools/Complete/Continue), generalized from a
// chat-completion loop streaming tokens to a step-bounded, model-planned
// tool-call loop. The teacher's transcript_repair.go "repair a malformed
// tool call" behavior is deliberately not ported: an invalid call here ends
// the turn with a SchemaError, never a heuristic retry.
package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
)

// Planner is the model-facing half of an AgentAdapter: it proposes the next
// step (plan) and produces the final answer once the objective is satisfied
// (synthesize). Implementations call out to a model client; AgentHarness
// itself never talks to a model directly.
type Planner interface {
	Plan(ctx context.Context, systemContext string, history []Turn, objective string) (core.AgentPlan, error)
	Synthesize(ctx context.Context, systemContext string, history []Turn, objective string) (string, error)
}

// Turn is one (call, result) pair folded back into history, the OBSERVE
// step of the loop.
type Turn struct {
	Call   core.ToolCall
	Result core.ToolResult
}

// AgentAdapter is the role-specific plug-in point for AgentHarness (§4.4).
// TerminalAgent and ResearcherAgent each implement one.
type AgentAdapter interface {
	GetRole() core.Capability
	BuildSystemContext(objective string, scope core.Scope) string
	ExecuteTool(ctx context.Context, call core.ToolCall) core.ToolResult
	EmitTurnReport(report core.TurnReport)
	ToolSchemas() []ToolSchema
}

// Publisher is the narrow EventStore+EventBus facade AgentHarness uses to
// emit worker.task.* lifecycle events (§4.4 Lifecycle events).
type Publisher interface {
	Publish(ctx context.Context, topic string, scope core.Scope, payload map[string]any)
}

// Config bounds one AgentHarness call (§9 baseline defaults: 6 planner
// steps/worker, 30s/tool call, 120s/run model time).
type Config struct {
	MaxSteps           uint32
	StepDeadline       time.Duration
	RunDeadline        time.Duration
	EvidenceFirst       bool // §4.4 rule 4: refuse to synthesize with zero successful tool results
	ModelRequested      string
}

// DefaultConfig returns the baseline policy from SPEC_FULL.md §9.
func DefaultConfig() Config {
	return Config{
		MaxSteps:     6,
		StepDeadline: 30 * time.Second,
		RunDeadline:  120 * time.Second,
	}
}

// Harness runs exactly one AgentAdapter call to completion. It is
// cooperative and single-threaded within a call, matching §4.4's stated
// concurrency model; AgentHarness instances are ephemeral per capability
// call (§3.5) so a fresh Harness is constructed for every worker dispatch.
type Harness struct {
	adapter AgentAdapter
	planner Planner
	pub     Publisher
	cfg     Config
}

// New constructs a Harness for one capability call.
func New(adapter AgentAdapter, planner Planner, pub Publisher, cfg Config) *Harness {
	if cfg.MaxSteps == 0 {
		cfg = DefaultConfig()
	}
	return &Harness{adapter: adapter, planner: planner, pub: pub, cfg: cfg}
}

// Run executes the PLAN/EXECUTE/OBSERVE/SYNTHESIZE loop for objective under
// scope until it completes, is blocked, fails, or is cancelled (§4.4).
func (h *Harness) Run(ctx context.Context, objective string, scope core.Scope) core.HarnessOutcome {
	start := time.Now()
	h.emit(ctx, core.TopicWorkerTaskStarted, scope, map[string]any{
		"role": h.adapter.GetRole(), "objective": objective, "model_requested": h.cfg.ModelRequested,
	})

	runDeadline := ctxDeadline(ctx, h.cfg.RunDeadline)
	runCtx, cancel := context.WithDeadline(ctx, runDeadline)
	defer cancel()

	systemContext := h.adapter.BuildSystemContext(objective, scope)
	allowed := allowedArgs(h.adapter.ToolSchemas())
	var history []Turn
	var successfulTool bool
	var step uint32

	finish := func(outcome core.HarnessOutcome) core.HarnessOutcome {
		outcome.DurationMS = time.Since(start).Milliseconds()
		outcome.ModelRequested = h.cfg.ModelRequested
		topic := core.TopicWorkerTaskCompleted
		payload := map[string]any{
			"duration_ms":     outcome.DurationMS,
			"model_requested": outcome.ModelRequested,
			"model_used":      outcome.ModelUsed,
		}
		switch outcome.Kind {
		case core.OutcomeFailed:
			topic = core.TopicWorkerTaskFailed
		case core.OutcomeBlocked, core.OutcomeCancelled:
			topic = core.TopicWorkerTaskBlocked
		}
		if outcome.FailureKind != "" {
			payload["failure_kind"] = outcome.FailureKind
			payload["failure_retriable"] = outcome.FailureRetriable
			payload["failure_hint"] = outcome.FailureHint
		}
		h.emit(ctx, topic, scope, payload)
		return outcome
	}

	for {
		if runCtx.Err() != nil {
			if runCtx.Err() == context.Canceled {
				return finish(core.HarnessOutcome{Kind: core.OutcomeCancelled, FailureKind: core.FailureCancelled})
			}
			return finish(core.HarnessOutcome{Kind: core.OutcomeBlocked, FailureKind: core.FailureTimeout, FailureRetriable: true, CompletionReason: "timeout"})
		}
		if step >= h.cfg.MaxSteps {
			return finish(core.HarnessOutcome{Kind: core.OutcomeBlocked, FailureKind: core.FailureStepCapExceeded, CompletionReason: "step_cap_exceeded"})
		}

		plan, err := h.planner.Plan(runCtx, systemContext, history, objective)
		if err != nil {
			return finish(classifyPlannerErr(err))
		}

		switch plan.ObjectiveStatus {
		case core.ObjectiveSatisfied:
			if h.cfg.EvidenceFirst && !successfulTool {
				return finish(core.HarnessOutcome{Kind: core.OutcomeBlocked, FailureKind: core.FailurePlannerMalformed, CompletionReason: "evidence_first: no successful tool result"})
			}
			answer, err := h.planner.Synthesize(runCtx, systemContext, history, objective)
			if err != nil {
				return finish(classifyPlannerErr(err))
			}
			report := buildReport(history)
			h.adapter.EmitTurnReport(report)
			return finish(core.HarnessOutcome{Kind: core.OutcomeCompleted, Answer: answer, CompletionReason: plan.CompletionReason, Report: report})
		case core.ObjectiveBlocked:
			return finish(core.HarnessOutcome{Kind: core.OutcomeBlocked, CompletionReason: plan.CompletionReason})
		case core.ObjectiveInProgress:
			// fall through to EXECUTE
		default:
			return finish(core.HarnessOutcome{Kind: core.OutcomeBlocked, FailureKind: core.FailurePlannerMalformed, CompletionReason: "unknown objective_status"})
		}

		for _, call := range plan.ToolCalls {
			if !schemaValid(call, allowed) {
				return finish(core.HarnessOutcome{Kind: core.OutcomeBlocked, FailureKind: core.FailureSchema, CompletionReason: "schema_error"})
			}
			stepCtx, stepCancel := context.WithTimeout(runCtx, h.cfg.StepDeadline)
			result := h.adapter.ExecuteTool(stepCtx, call)
			stepCancel()
			if result.OK {
				successfulTool = true
			}
			history = append(history, Turn{Call: call, Result: result})
			h.emit(ctx, core.TopicWorkerTaskProgress, scope, map[string]any{
				"step": step, "tool": call.Name, "ok": result.OK,
			})
		}
		step++
	}
}

// buildReport folds a completed call's tool history into the structured
// findings/learnings/citations emitted to the adapter (§4.4 emit_turn_report).
// Output shapes are adapter-specific ("output" for TerminalAgent's shell
// output, "findings" for ResearcherAgent's web_search citations), so this
// reads both rather than assuming one.
func buildReport(history []Turn) core.TurnReport {
	var report core.TurnReport
	var ok, failed int
	for _, t := range history {
		if !t.Result.OK {
			failed++
			continue
		}
		ok++
		if out, found := t.Result.Output["output"]; found {
			if s, isStr := out.(string); isStr && s != "" {
				report.Findings = append(report.Findings, s)
			}
		}
		if raw, found := t.Result.Output["findings"]; found {
			if items, isSlice := raw.([]map[string]any); isSlice {
				for _, item := range items {
					citation := core.Citation{
						URL:      stringField(item, "url"),
						Title:    stringField(item, "title"),
						Snippet:  stringField(item, "snippet"),
						Provider: stringField(item, "provider"),
					}
					if conf, isFloat := item["confidence"].(float64); isFloat {
						citation.Confidence = conf
					}
					report.Citations = append(report.Citations, citation)
					if citation.Snippet != "" {
						report.Findings = append(report.Findings, citation.Snippet)
					}
				}
			}
		}
	}
	if ok > 0 || failed > 0 {
		report.Learnings = append(report.Learnings, fmt.Sprintf("%d/%d tool calls succeeded", ok, ok+failed))
	}
	return report
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// schemaValid enforces a closed schema per tool call (§4.4: "strict typed
// tool args... flat/positional fallbacks are rejected... does not try to
// repair"). A call is rejected if its name is undeclared or if Arguments
// carries any key outside the tool's declared property set.
func schemaValid(call core.ToolCall, allowed map[string]map[string]struct{}) bool {
	if call.Name == "" || call.Arguments == nil {
		return false
	}
	keys, known := allowed[call.Name]
	if !known {
		return false
	}
	for key := range call.Arguments {
		if _, ok := keys[key]; !ok {
			return false
		}
	}
	return true
}

func classifyPlannerErr(err error) core.HarnessOutcome {
	if classified, ok := err.(coreerr.Classified); ok {
		kind, retriable := classified.Classify()
		return core.HarnessOutcome{Kind: core.OutcomeFailed, FailureKind: kind, FailureRetriable: retriable, FailureHint: err.Error()}
	}
	return core.HarnessOutcome{Kind: core.OutcomeFailed, FailureKind: core.FailureProviderPermanent, FailureHint: err.Error()}
}

func (h *Harness) emit(ctx context.Context, topic string, scope core.Scope, payload map[string]any) {
	if h.pub != nil {
		h.pub.Publish(ctx, topic, scope, payload)
	}
}

func ctxDeadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < fallback {
			return d
		}
	}
	return time.Now().Add(fallback)
}
