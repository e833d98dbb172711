package runwriter

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choiros/choiros/internal/core"
)

// fakeEventStore is a minimal in-memory stand-in satisfying eventstore.Store
// for tests that only need RunWriter's emitted events recorded, not durable
// persistence.
type fakeEventStore struct {
	events []core.Event
	seq    uint64
}

func (f *fakeEventStore) Append(ctx context.Context, topic, actorID string, scope core.Scope, payload map[string]any, correlationID string) (uint64, error) {
	f.seq++
	f.events = append(f.events, core.Event{Seq: f.seq, Topic: topic, ActorID: actorID, Scope: scope, Payload: payload, CorrelationID: correlationID})
	return f.seq, nil
}

func (f *fakeEventStore) Query(ctx context.Context, actorID string, scope *core.Scope, sinceSeq uint64, limit int) ([]core.Event, error) {
	return f.events, nil
}

func (f *fakeEventStore) Subscribe(topicPattern string, scope *core.Scope) (<-chan core.Event, func()) {
	ch := make(chan core.Event)
	close(ch)
	return ch, func() {}
}

func (f *fakeEventStore) Close() error { return nil }

type fakeBus struct{ published []core.Event }

func (b *fakeBus) Publish(e core.Event) { b.published = append(b.published, e) }

func newTestWriter(t *testing.T) (*Writer, *fakeEventStore) {
	t.Helper()
	dir := t.TempDir()
	es := &fakeEventStore{}
	bus := &fakeBus{}
	w, err := Open(context.Background(), "run-1", "write a haiku", filepath.Join(dir, "runwriter.db"), dir, es, bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, es
}

func TestOpenBootstrapsVersionZero(t *testing.T) {
	w, es := newTestWriter(t)
	ctx := context.Background()

	head, err := w.GetHeadVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), head.VersionID)
	assert.Equal(t, core.VersionSourceSystem, head.Source)

	rev, err := w.GetRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rev)

	require.Len(t, es.events, 1)
	assert.Equal(t, core.TopicWriterRunStarted, es.events[0].Topic)
}

func TestApplyPatchDirectAdvancesRevisionAndHead(t *testing.T) {
	w, es := newTestWriter(t)
	ctx := context.Background()

	v, err := w.ApplyPatch(ctx, core.VersionSourceWriter, core.SectionConductor,
		[]core.PatchOp{{Op: core.OpInsert, Pos: 0, Text: "roses are red"}}, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.VersionID)
	assert.Contains(t, v.Content, "roses are red")
	assert.Contains(t, v.Content, core.SectionMarker(core.SectionConductor))

	rev, err := w.GetRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	head, err := w.GetHeadVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, v.VersionID, head.VersionID)

	var sawPatch bool
	for _, e := range es.events {
		if e.Topic == core.TopicWriterRunPatch {
			sawPatch = true
		}
	}
	assert.True(t, sawPatch)
}

func TestApplyPatchProposalLeavesCanonUntouched(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	before, err := w.GetHeadVersion(ctx)
	require.NoError(t, err)

	_, err = w.ApplyPatch(ctx, core.VersionSourceUserSave, core.SectionUser,
		[]core.PatchOp{{Op: core.OpInsert, Pos: 0, Text: "a pending draft"}}, true)
	require.NoError(t, err)

	after, err := w.GetHeadVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.VersionID, after.VersionID, "a proposal write must never advance head")

	pending, err := w.PendingSections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.SectionID{core.SectionUser}, pending)
}

func TestOverlayLifecycleCommit(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	head, err := w.GetHeadVersion(ctx)
	require.NoError(t, err)

	ov, err := w.CreateOverlay(ctx, head.VersionID, core.OverlayAuthorResearcher, core.OverlayKindProposal, core.SectionResearcher,
		[]core.PatchOp{{Op: core.OpInsert, Pos: 0, Text: "proposed text"}})
	require.NoError(t, err)
	assert.Equal(t, core.OverlayPending, ov.Status)

	_, err = w.ApplyPatch(ctx, core.VersionSourceWriter, core.SectionResearcher,
		[]core.PatchOp{{Op: core.OpInsert, Pos: 0, Text: "proposed text"}}, true)
	require.NoError(t, err)

	v, err := w.CommitProposal(ctx, core.SectionResearcher)
	require.NoError(t, err)
	assert.Contains(t, v.Content, "proposed text")

	_, err = w.CommitProposal(ctx, core.SectionResearcher)
	assert.Error(t, err, "committing a section with no pending proposal must fail")
}

func TestOverlayDiscardNeverTouchesHead(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	before, err := w.GetHeadVersion(ctx)
	require.NoError(t, err)

	ov, err := w.CreateOverlay(ctx, before.VersionID, core.OverlayAuthorUser, core.OverlayKindComment, core.SectionUser, nil)
	require.NoError(t, err)

	_, err = w.ApplyPatch(ctx, core.VersionSourceUserSave, core.SectionUser,
		[]core.PatchOp{{Op: core.OpInsert, Pos: 0, Text: "discard me"}}, true)
	require.NoError(t, err)

	require.NoError(t, w.DiscardProposal(ctx, core.SectionUser))

	after, err := w.GetHeadVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.VersionID, after.VersionID)

	_, err = w.ResolveOverlay(ctx, ov.OverlayID, core.OverlayApplied)
	assert.Error(t, err, "discard must already resolve the matching overlay to a terminal state")

	err = w.DiscardProposal(ctx, core.SectionUser)
	assert.Error(t, err, "discarding a section with no pending proposal must fail")
}

func TestCreateVersionSupersedesStaleOverlays(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	head, err := w.GetHeadVersion(ctx)
	require.NoError(t, err)

	ov, err := w.CreateOverlay(ctx, head.VersionID, core.OverlayAuthorTerminal, core.OverlayKindWorkerCompletion, core.SectionTerminal,
		[]core.PatchOp{{Op: core.OpInsert, Pos: 0, Text: "stale"}})
	require.NoError(t, err)

	_, err = w.CreateVersion(ctx, "user replaced everything", core.VersionSourceUserSave)
	require.NoError(t, err)

	list, err := w.ListVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = w.ResolveOverlay(ctx, ov.OverlayID, core.OverlayDiscarded)
	assert.Error(t, err, "overlay should already be superseded and therefore terminal")
}
