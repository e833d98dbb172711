package researcheragent

import (
	"context"
	"fmt"
	"time"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/harness"
)

// WebSearchArgs is web_search's closed argument schema (§4.4: unknown or
// extra fields are rejected, never repaired).
type WebSearchArgs struct {
	Query     string   `json:"query"`
	Mode      string   `json:"mode,omitempty"`
	Provider  string   `json:"provider,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// Adapter implements harness.AgentAdapter for the researcher capability
// (§4.4, §4.6). Its single tool, "web_search", is forbidden from ever
// reaching a shell; ExecuteTool never calls os/exec.
type Adapter struct {
	registry *Registry
}

// NewAdapter wires adapter to a provider registry.
func NewAdapter(registry *Registry) *Adapter {
	return &Adapter{registry: registry}
}

func (a *Adapter) GetRole() core.Capability { return core.CapabilityResearcher }

func (a *Adapter) BuildSystemContext(objective string, scope core.Scope) string {
	return fmt.Sprintf(
		"You are the researcher capability as of %s. Objective: %s. "+
			"You may only call web_search; you must not execute shell commands "+
			"or any capability outside web research.",
		time.Now().UTC().Format(time.RFC3339), objective,
	)
}

// ExecuteTool runs web_search. Arguments: query (string, required), mode
// (string, one of auto|explicit|all|list, defaults to auto), provider
// (string, required for explicit), providers ([]string, required for
// list). Anything else is a SchemaError.
func (a *Adapter) ExecuteTool(ctx context.Context, call core.ToolCall) core.ToolResult {
	if call.Name != "web_search" {
		return core.ToolResult{ToolCallID: call.ID, OK: false, FailureKind: core.FailureSchema, Error: fmt.Sprintf("unknown tool %q", call.Name)}
	}
	query, ok := call.Arguments["query"].(string)
	if !ok || query == "" {
		return core.ToolResult{ToolCallID: call.ID, OK: false, FailureKind: core.FailureSchema, Error: "web_search requires a string \"query\" argument"}
	}

	mode := ModeAuto
	if raw, ok := call.Arguments["mode"].(string); ok && raw != "" {
		mode = Mode(raw)
	}
	explicitName, _ := call.Arguments["provider"].(string)
	var list []string
	if raw, ok := call.Arguments["providers"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				list = append(list, s)
			}
		}
	}

	findings, err := a.registry.FanOut(ctx, mode, explicitName, list, query)
	if err != nil {
		return core.ToolResult{ToolCallID: call.ID, OK: false, FailureKind: core.FailureSchema, Error: err.Error()}
	}

	citations := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		citations = append(citations, map[string]any{
			"url": f.URL, "title": f.Title, "snippet": f.Snippet,
			"confidence": f.Confidence, "provider": f.Provider,
		})
	}
	return core.ToolResult{ToolCallID: call.ID, OK: true, Output: map[string]any{"findings": citations}}
}

func (a *Adapter) EmitTurnReport(report core.TurnReport) {}

func (a *Adapter) ToolSchemas() []harness.ToolSchema {
	return []harness.ToolSchema{{Name: "web_search", Args: WebSearchArgs{}}}
}
