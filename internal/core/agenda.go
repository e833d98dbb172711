package core

import "time"

// Capability identifies a worker role a Conductor can dispatch (§2, glossary).
type Capability string

const (
	CapabilityTerminal   Capability = "terminal"
	CapabilityResearcher Capability = "researcher"
)

// AgendaStatus is the lifecycle status of one AgendaItem (§3.4).
type AgendaStatus string

const (
	AgendaReady      AgendaStatus = "Ready"
	AgendaDispatched AgendaStatus = "Dispatched"
	AgendaWaiting    AgendaStatus = "Waiting"
	AgendaCompleted  AgendaStatus = "Completed"
	AgendaFailed     AgendaStatus = "Failed"
	AgendaBlocked    AgendaStatus = "Blocked"
)

// AgendaItem is one capability call proposed by Conductor policy (§3.4).
type AgendaItem struct {
	ID          string       `json:"id"`
	Capability  Capability   `json:"capability"`
	Objective   string       `json:"objective"`
	Status      AgendaStatus `json:"status"`
	DependsOn   []string     `json:"depends_on,omitempty"`
	Attempts    uint32       `json:"attempts"`
	MaxAttempts uint32       `json:"max_attempts"`
}

// Eligible reports whether the item can be dispatched given the current
// status of all agenda items (§4.7 Dispatch rules).
func (a AgendaItem) Eligible(byID map[string]AgendaItem) bool {
	if a.Status != AgendaReady {
		return false
	}
	for _, dep := range a.DependsOn {
		depItem, ok := byID[dep]
		if !ok || depItem.Status != AgendaCompleted {
			return false
		}
	}
	return true
}

// CapabilityCall is the transient record of one dispatched worker call
// (§3.4).
type CapabilityCall struct {
	ID         string     `json:"id"`
	AgendaID   string     `json:"agenda_id"`
	Capability Capability `json:"capability"`
	StartedAt  time.Time  `json:"started_at"`
	Status     AgendaStatus `json:"status"`
}

// Artifact is a durable output attached to a run by a worker or the
// Conductor (§3.4).
type Artifact struct {
	ID        string    `json:"id"`
	AgendaID  string    `json:"agenda_id,omitempty"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DecisionLogEntry records one Conductor tick for audit/trace purposes.
type DecisionLogEntry struct {
	At     time.Time       `json:"at"`
	Action ConductorAction `json:"action"`
	Detail string          `json:"detail,omitempty"`
}

// ConductorActionKind is the closed tagged-variant discriminator for
// Conductor policy decisions (§4.7, §9 "dynamic dispatch for planner
// output").
type ConductorActionKind string

const (
	ActionDispatch      ConductorActionKind = "dispatch"
	ActionSpawnFollowup ConductorActionKind = "spawn_followup"
	ActionRetry         ConductorActionKind = "retry"
	ActionBlock         ConductorActionKind = "block"
	ActionMergeCanon    ConductorActionKind = "merge_canon"
	ActionComplete      ConductorActionKind = "complete"
	ActionAwaitWorker   ConductorActionKind = "await_worker"
)

// ConductorAction is the bounded set of decisions the model policy may
// return on a Conductor tick (§4.7). Exactly the fields relevant to Kind
// are populated; an unknown/malformed Kind is rejected by the Conductor as
// Blocked(planner_malformed) (§9), never repaired or defaulted.
type ConductorAction struct {
	Kind ConductorActionKind `json:"kind"`

	AgendaIDs []string `json:"agenda_ids,omitempty"` // Dispatch

	Followup *AgendaItem `json:"followup,omitempty"` // SpawnFollowup

	RetryAgendaID string `json:"retry_agenda_id,omitempty"` // Retry

	BlockReason string `json:"block_reason,omitempty"` // Block

	SectionID SectionID `json:"section_id,omitempty"` // MergeCanon
}

// ObjectiveStatus is the model-reported worker completion status (§3.5).
type ObjectiveStatus string

const (
	ObjectiveInProgress ObjectiveStatus = "in_progress"
	ObjectiveSatisfied  ObjectiveStatus = "satisfied"
	ObjectiveBlocked    ObjectiveStatus = "blocked"
)

// DelegatedTaskResult is the typed result a worker returns to the
// Conductor on completion (§4.7 Completion handling).
type DelegatedTaskResult struct {
	AgendaID                 string          `json:"agenda_id"`
	ObjectiveStatus          ObjectiveStatus `json:"objective_status"`
	CompletionReason         string          `json:"completion_reason,omitempty"`
	RecommendedNextCapability *Capability    `json:"recommended_next_capability,omitempty"`
	RecommendedNextObjective string          `json:"recommended_next_objective,omitempty"`
	Artifacts                []Artifact      `json:"artifacts,omitempty"`
	DurationMS               int64           `json:"duration_ms"`
}
