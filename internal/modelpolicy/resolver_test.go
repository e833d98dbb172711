package modelpolicy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiros/choiros/internal/core"
)

func TestResolveUnconfiguredRoleIsUnavailable(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.Resolve(core.CapabilityTerminal)
	assert.Error(t, err)
}

func TestResolveReturnsConfiguredClient(t *testing.T) {
	client := &StaticClient{ClientName: "primary", Answer: "ok"}
	r := NewResolver([]Binding{{Role: core.CapabilityTerminal, Clients: []ModelClient{client}}})

	got, err := r.Resolve(core.CapabilityTerminal)
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Name())
}

func TestCircuitBreakerSkipsFailingClient(t *testing.T) {
	primary := &StaticClient{ClientName: "primary", Err: errors.New("down")}
	secondary := &StaticClient{ClientName: "secondary", Answer: "ok"}
	r := NewResolver([]Binding{{Role: core.CapabilityResearcher, Clients: []ModelClient{primary, secondary}}})

	for i := 0; i < 3; i++ {
		r.ReportFailure("primary")
	}

	got, err := r.Resolve(core.CapabilityResearcher)
	require.NoError(t, err)
	assert.Equal(t, "secondary", got.Name(), "open circuit on primary should fall through to the next configured client")
}
