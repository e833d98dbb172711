package researcheragent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiros/choiros/internal/core"
)

type fakeProvider struct {
	name     string
	findings []Finding
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Search(ctx context.Context, query string) ([]Finding, error) {
	return f.findings, nil
}

func TestFanOutAutoDedupesByURL(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeProvider{name: "a", findings: []Finding{{URL: "https://x.test/page", Confidence: 0.4, Provider: "a"}}})
	reg.Register(&fakeProvider{name: "b", findings: []Finding{{URL: "https://x.test/page/", Confidence: 0.9, Provider: "b"}}})

	out, err := reg.FanOut(context.Background(), ModeAuto, "", nil, "q")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].Provider, "higher-confidence duplicate should win")
}

func TestFanOutExplicitUnknownProvider(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.FanOut(context.Background(), ModeExplicit, "missing", nil, "q")
	assert.Error(t, err)
}

func TestFanOutListOrdersByConfidence(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeProvider{name: "a", findings: []Finding{{URL: "https://one.test", Confidence: 0.2}}})
	reg.Register(&fakeProvider{name: "b", findings: []Finding{{URL: "https://two.test", Confidence: 0.8}}})

	out, err := reg.FanOut(context.Background(), ModeList, "", []string{"a", "b"}, "q")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "https://two.test", out[0].URL)
}

func TestAdapterRejectsUnknownTool(t *testing.T) {
	a := NewAdapter(NewRegistry())
	res := a.ExecuteTool(context.Background(), core.ToolCall{ID: "1", Name: "shell_exec", Arguments: map[string]any{"command": "ls"}})
	assert.False(t, res.OK)
}
