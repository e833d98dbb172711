package conductor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
	"github.com/choiros/choiros/internal/modelpolicy"
)

// ModelPolicy is the default Policy implementation: it asks the resolved
// conductor-role model client for the next ConductorAction, one tick at a
// time (§4.7). If no agenda item exists yet, it asks the model to plan one
// from the run objective instead.
//
// Grounded on the teacher's internal/multiagent orchestrator decision
// prompt shape (state serialized to JSON, model asked for one closed
// action), narrowed to §4.7's exact seven-variant ConductorAction.
type ModelPolicy struct {
	resolver *modelpolicy.Resolver
	role     core.Capability
}

// NewModelPolicy constructs a ModelPolicy that resolves its client through
// resolver under the conductor's own capability role (distinct from the
// Terminal/Researcher worker roles it dispatches).
func NewModelPolicy(resolver *modelpolicy.Resolver, role core.Capability) *ModelPolicy {
	return &ModelPolicy{resolver: resolver, role: role}
}

// decisionPrompt is the typed request handed to the model, serialized to
// JSON so the model sees exactly the fields §4.7 names.
type decisionPrompt struct {
	Objective string                        `json:"objective"`
	Agenda    map[string]core.AgendaItem     `json:"agenda"`
	Active    map[string]core.CapabilityCall `json:"active"`
}

func (p *ModelPolicy) Decide(ctx context.Context, state RunState) (core.ConductorAction, error) {
	client, err := p.resolver.Resolve(p.role)
	if err != nil {
		return core.ConductorAction{}, err
	}

	if len(state.Agenda) == 0 {
		return p.planInitialAgenda(ctx, client, state)
	}

	raw, err := json.Marshal(decisionPrompt{Objective: state.Objective, Agenda: state.Agenda, Active: state.Active})
	if err != nil {
		return core.ConductorAction{}, &coreerr.PersistError{Cause: err}
	}
	system := "You are the Conductor policy for a run. Reply with exactly one JSON " +
		"ConductorAction object: {\"kind\": one of dispatch|spawn_followup|retry|block|merge_canon|complete|await_worker, ...}. " +
		"Never invent a capability that is not terminal or researcher."
	out, err := client.Complete(ctx, system, string(raw))
	if err != nil {
		p.resolver.ReportFailure(client.Name())
		return core.ConductorAction{}, &coreerr.ProviderError{Provider: client.Name(), Transient: true, Cause: err}
	}
	p.resolver.ReportSuccess(client.Name())

	var action core.ConductorAction
	if err := json.Unmarshal([]byte(out), &action); err != nil {
		return core.ConductorAction{}, &coreerr.PlannerMalformedError{Raw: out}
	}
	if !validActionKind(action.Kind) {
		return core.ConductorAction{}, &coreerr.PlannerMalformedError{Raw: out}
	}
	return action, nil
}

// planInitialAgenda handles the first tick of a run, when Agenda is empty
// and there is nothing yet to Dispatch -- the model is asked to propose
// the first agenda item directly as a SpawnFollowup.
func (p *ModelPolicy) planInitialAgenda(ctx context.Context, client modelpolicy.ModelClient, state RunState) (core.ConductorAction, error) {
	system := "You are the Conductor policy starting a new run. Reply with exactly one JSON " +
		"ConductorAction of kind \"spawn_followup\" naming the first capability call " +
		"(terminal or researcher) needed to satisfy the objective."
	out, err := client.Complete(ctx, system, fmt.Sprintf(`{"objective":%q}`, state.Objective))
	if err != nil {
		p.resolver.ReportFailure(client.Name())
		return core.ConductorAction{}, &coreerr.ProviderError{Provider: client.Name(), Transient: true, Cause: err}
	}
	p.resolver.ReportSuccess(client.Name())

	var action core.ConductorAction
	if err := json.Unmarshal([]byte(out), &action); err != nil || action.Kind != core.ActionSpawnFollowup || action.Followup == nil {
		return core.ConductorAction{}, &coreerr.PlannerMalformedError{Raw: out}
	}
	return action, nil
}

func validActionKind(kind core.ConductorActionKind) bool {
	switch kind {
	case core.ActionDispatch, core.ActionSpawnFollowup, core.ActionRetry,
		core.ActionBlock, core.ActionMergeCanon, core.ActionComplete, core.ActionAwaitWorker:
		return true
	default:
		return false
	}
}
