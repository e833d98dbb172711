package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
)

// ModelClient is the minimal model-calling surface a ModelPlanner drives.
// Structurally identical to modelpolicy.ModelClient; declared locally so
// this package does not import modelpolicy (AgentHarness must not know how
// clients are selected, only how to call the one it was handed).
type ModelClient interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ModelPlanner implements Planner by asking a ModelClient for one
// AgentPlan JSON object per step, and a plain-text answer on Synthesize
// (§4.4 PLAN/SYNTHESIZE steps).
//
// Grounded on the teacher's internal/agent.AgenticLoop's turn-by-turn
// "ask the model for the next step" shape, narrowed to AgentHarness's
// strict typed-plan contract: a response that does not parse as
// AgentPlan is a SchemaError, never heuristically repaired (the teacher's
// transcript_repair.go behavior is deliberately not ported here, per
// harness.go's package doc).
type ModelPlanner struct {
	client ModelClient
}

// NewModelPlanner wires a Planner to client.
func NewModelPlanner(client ModelClient) *ModelPlanner {
	return &ModelPlanner{client: client}
}

func (p *ModelPlanner) Plan(ctx context.Context, systemContext string, history []Turn, objective string) (core.AgentPlan, error) {
	prompt := buildPlanPrompt(history, objective)
	out, err := p.client.Complete(ctx, systemContext+"\n\nReply with exactly one JSON AgentPlan object: "+
		`{"objective_status":"in_progress|satisfied|blocked","completion_reason":"...","tool_calls":[{"id":"...","name":"...","arguments":{}}]}.`, prompt)
	if err != nil {
		return core.AgentPlan{}, &coreerr.ProviderError{Provider: p.client.Name(), Transient: true, Cause: err}
	}
	var plan core.AgentPlan
	if err := json.Unmarshal([]byte(extractJSON(out)), &plan); err != nil {
		return core.AgentPlan{}, &coreerr.SchemaError{Tool: "plan", Reason: err.Error()}
	}
	return plan, nil
}

func (p *ModelPlanner) Synthesize(ctx context.Context, systemContext string, history []Turn, objective string) (string, error) {
	prompt := buildPlanPrompt(history, objective)
	out, err := p.client.Complete(ctx, systemContext+"\n\nThe objective is satisfied. Write the final answer as plain text.", prompt)
	if err != nil {
		return "", &coreerr.ProviderError{Provider: p.client.Name(), Transient: true, Cause: err}
	}
	return out, nil
}

func buildPlanPrompt(history []Turn, objective string) string {
	var sb strings.Builder
	sb.WriteString("Objective: ")
	sb.WriteString(objective)
	sb.WriteString("\n")
	for _, t := range history {
		sb.WriteString(fmt.Sprintf("tool_call %s(%v) -> ok=%v output=%v error=%q\n",
			t.Call.Name, t.Call.Arguments, t.Result.OK, t.Result.Output, t.Result.Error))
	}
	return sb.String()
}

// extractJSON trims any leading/trailing prose a model may wrap its JSON
// in, taking the outermost {...} span. Models are still expected to obey
// the system prompt's strict-JSON instruction; this only tolerates
// surrounding whitespace/code fences.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
