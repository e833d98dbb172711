// Package modelpolicy implements the model policy resolver (§2, §4.4,
// §4.7): binding a (role, run) pair to a concrete model client.
//
// Grounded on the teacher's internal/agent/failover.go FailoverOrchestrator
// (named LLMProvider set, per-provider circuit-breaker state, ordered
// fallback), generalized from "pick the next healthy chat provider" to
// "resolve the configured client for a capability role, falling back in
// declared priority order, never silently substituting an unconfigured
// role".
package modelpolicy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
)

// ModelClient is the minimal model-calling surface AgentHarness's Planner
// implementations are built on.
type ModelClient interface {
	Name() string
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Binding configures the client priority list for one capability role.
type Binding struct {
	Role     core.Capability
	Clients  []ModelClient // tried in order; first healthy wins
}

type clientState struct {
	failures    int
	circuitOpen bool
	openedAt    time.Time
}

// Resolver resolves a role to a healthy ModelClient, tracking a simple
// failure-count circuit breaker per client so a persistently failing
// provider is skipped without operator intervention (§4.7 "resolves the
// model client via the model policy resolver for role = capability").
type Resolver struct {
	mu              sync.Mutex
	bindings        map[core.Capability][]ModelClient
	states          map[string]*clientState
	breakThreshold  int
	breakCooldown   time.Duration
}

// NewResolver constructs a Resolver from the configured bindings.
func NewResolver(bindings []Binding) *Resolver {
	r := &Resolver{
		bindings:       make(map[core.Capability][]ModelClient),
		states:         make(map[string]*clientState),
		breakThreshold: 3,
		breakCooldown:  30 * time.Second,
	}
	for _, b := range bindings {
		r.bindings[b.Role] = b.Clients
		for _, c := range b.Clients {
			r.states[c.Name()] = &clientState{}
		}
	}
	return r
}

// Resolve returns the first available client configured for role. No
// silent fallback to a different capability: an unconfigured role returns
// CapabilityUnavailableError (§4.7 Dispatch rules), and the caller
// (Conductor's policy) must either choose an alternative capability or
// Block with an explicit reason.
func (r *Resolver) Resolve(role core.Capability) (ModelClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients, ok := r.bindings[role]
	if !ok || len(clients) == 0 {
		return nil, &coreerr.CapabilityUnavailableError{Capability: role}
	}
	for _, c := range clients {
		st := r.states[c.Name()]
		if !st.circuitOpen || time.Since(st.openedAt) > r.breakCooldown {
			return c, nil
		}
	}
	return nil, &coreerr.CapabilityUnavailableError{Capability: role}
}

// ReportFailure records a failed call against client, opening its circuit
// once breakThreshold consecutive failures accrue.
func (r *Resolver) ReportFailure(clientName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[clientName]
	if !ok {
		return
	}
	st.failures++
	if st.failures >= r.breakThreshold {
		st.circuitOpen = true
		st.openedAt = time.Now()
	}
}

// ReportSuccess resets a client's failure count, closing its circuit.
func (r *Resolver) ReportSuccess(clientName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[clientName]; ok {
		st.failures = 0
		st.circuitOpen = false
	}
}

// StaticClient is a fixed-answer ModelClient used for tests and for
// roles that should never actually call a provider (e.g. a deterministic
// dry-run mode).
type StaticClient struct {
	ClientName string
	Answer     string
	Err        error
}

func (s *StaticClient) Name() string { return s.ClientName }

func (s *StaticClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if s.Err != nil {
		return "", fmt.Errorf("modelpolicy: static client %s: %w", s.ClientName, s.Err)
	}
	return s.Answer, nil
}
