package terminalagent

import (
	"context"
	"fmt"
	"time"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/harness"
)

// ShellExecArgs is shell_exec's closed argument schema (§4.4: unknown or
// extra fields are rejected, never repaired).
type ShellExecArgs struct {
	Command string `json:"command"`
}

// Adapter implements harness.AgentAdapter for the terminal capability
// (§4.4, §4.5). It owns exactly one Session and exposes a single strictly
// typed tool, "shell_exec", so AgentHarness's schema validation rejects
// anything else before it ever reaches the PTY.
type Adapter struct {
	session   *Session
	workspace string
}

// NewAdapter wires adapter to an already-started (or about-to-be-started)
// Session scoped to workspace, used to resolve relative commands.
func NewAdapter(session *Session, workspace string) *Adapter {
	return &Adapter{session: session, workspace: workspace}
}

func (a *Adapter) GetRole() core.Capability { return core.CapabilityTerminal }

// BuildSystemContext stamps role-correct guidance (§4.4): terminal must not
// attempt generic web research.
func (a *Adapter) BuildSystemContext(objective string, scope core.Scope) string {
	return fmt.Sprintf(
		"You are the terminal capability as of %s. Objective: %s. "+
			"You may only execute shell commands via shell_exec; you must not "+
			"attempt web research or any capability outside command execution.",
		time.Now().UTC().Format(time.RFC3339), objective,
	)
}

// ExecuteTool runs the one supported tool, shell_exec, against the owned
// PTY session. Any other tool name or a shell_exec call missing "command"
// is a SchemaError surfaced through ToolResult rather than executed.
func (a *Adapter) ExecuteTool(ctx context.Context, call core.ToolCall) core.ToolResult {
	if call.Name != "shell_exec" {
		return core.ToolResult{ToolCallID: call.ID, OK: false, FailureKind: core.FailureSchema, Error: fmt.Sprintf("unknown tool %q", call.Name)}
	}
	command, ok := call.Arguments["command"].(string)
	if !ok || command == "" {
		return core.ToolResult{ToolCallID: call.ID, OK: false, FailureKind: core.FailureSchema, Error: "shell_exec requires a string \"command\" argument"}
	}

	if _, err := a.session.Write([]byte(command + "\n")); err != nil {
		return core.ToolResult{ToolCallID: call.ID, OK: false, FailureKind: core.FailureProviderPermanent, Error: err.Error()}
	}

	out, cancel := a.session.Subscribe(256)
	defer cancel()

	var collected []byte
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, open := <-out:
			if !open {
				return core.ToolResult{ToolCallID: call.ID, OK: true, Output: map[string]any{"output": string(collected)}}
			}
			collected = append(collected, chunk...)
		case <-deadline:
			return core.ToolResult{ToolCallID: call.ID, OK: true, Output: map[string]any{"output": string(collected)}}
		case <-ctx.Done():
			return core.ToolResult{ToolCallID: call.ID, OK: false, FailureKind: core.FailureTimeout, Error: ctx.Err().Error()}
		}
	}
}

func (a *Adapter) EmitTurnReport(report core.TurnReport) {}

func (a *Adapter) ToolSchemas() []harness.ToolSchema {
	return []harness.ToolSchema{{Name: "shell_exec", Args: ShellExecArgs{}}}
}
