// Package runwriter implements the RunWriter component (§4.3): a
// single-writer-per-run actor owning one run's canonical document, its
// immutable version history, and the overlays proposed against it.
//
// The actor shape is grounded on the teacher's internal/process command
// queue (a single goroutine serializing work items submitted over a
// channel, each carrying its own result/error return path) generalized
// from a lane-keyed task queue to one mailbox per run, and on the
// teacher's internal/canvas stream Hub (a registered-subscriber channel
// registry) for the document-change fan-out.
package runwriter

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
	"github.com/choiros/choiros/internal/eventstore"
)

// Bus is the subset of EventBus behavior RunWriter needs to publish
// lifecycle events in addition to appending them to the EventStore.
type Bus interface {
	Publish(core.Event)
}

// cmdKind tags the closed set of mailbox commands a Writer actor accepts.
type cmdKind int

const (
	cmdApplyPatch cmdKind = iota
	cmdCreateOverlay
	cmdResolveOverlay
	cmdCreateVersion
	cmdCommitProposal
	cmdDiscardProposal
	cmdGetHeadVersion
	cmdGetVersion
	cmdListVersions
	cmdGetRevision
	cmdPendingSections
)

// command is the single mailbox message type, carrying only the fields its
// Kind uses -- the same tagged-struct-over-interface pattern used for
// core.ConductorAction.
type command struct {
	kind cmdKind

	// ApplyPatch / CreateVersion
	ops      []core.PatchOp
	content  string
	source   core.VersionSource
	sectionID core.SectionID
	proposal bool

	// CreateOverlay
	author      core.OverlayAuthor
	overlayKind core.OverlayKind
	baseVersion uint64

	// ResolveOverlay
	overlayID string
	resolve   core.OverlayStatus

	// GetVersion
	versionID uint64

	reply chan result
}

type result struct {
	doc      core.RunDocument
	version  core.DocumentVersion
	overlay  core.Overlay
	list     []core.DocumentVersion
	sections []core.SectionID
	revision uint64
	err      error
}

// Writer is a live RunWriter actor for exactly one run. Construct with
// Open; callers interact with it only through its exported methods, which
// marshal requests onto the actor's mailbox so all mutation is serialized
// through a single goroutine (§4.3: "no other component may write to the
// head version directly").
type Writer struct {
	runID string
	mail  chan command
	done  chan struct{}

	store *store
	es    eventstore.Store
	bus   Bus

	docRoot string
}

// Open starts (or resumes) the RunWriter actor for runID, bootstrapping a
// fresh document at revision 0 if one is not already persisted.
func Open(ctx context.Context, runID, objective, dbPath, docRoot string, es eventstore.Store, bus Bus) (*Writer, error) {
	st, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		runID:   runID,
		mail:    make(chan command, 32),
		done:    make(chan struct{}),
		store:   st,
		es:      es,
		bus:     bus,
		docRoot: docRoot,
	}

	doc, exists, err := st.loadDocument(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !exists {
		doc = &core.RunDocument{
			RunID:           runID,
			Objective:       objective,
			Status:          core.RunStatusInitializing,
			DocumentPath:    filepath.Join(docRoot, runID+".md"),
			Sections:        make(map[core.SectionID]string, len(core.SectionOrder)),
			ProposalBuffers: make(map[core.SectionID]string, len(core.SectionOrder)),
		}
		v0 := core.DocumentVersion{VersionID: 0, CreatedAt: time.Now().UTC(), Source: core.VersionSourceSystem, Content: core.RenderCanon(doc.Sections)}
		doc.Versions = append(doc.Versions, v0)
		doc.HeadVersionID = 0
		doc.Status = core.RunStatusRunning
		if err := st.createDocument(ctx, doc); err != nil {
			return nil, err
		}
		if err := st.insertVersion(ctx, runID, v0); err != nil {
			return nil, err
		}
		if err := writeDocumentFile(doc.DocumentPath, 0, core.RenderDraft(doc.Sections, doc.ProposalBuffers)); err != nil {
			return nil, err
		}
		w.emit(ctx, core.TopicWriterRunStarted, map[string]any{"objective": objective})
	} else {
		if doc.Sections == nil {
			doc.Sections = make(map[core.SectionID]string, len(core.SectionOrder))
		}
		if doc.ProposalBuffers == nil {
			doc.ProposalBuffers = make(map[core.SectionID]string, len(core.SectionOrder))
		}
		if len(doc.Sections) == 0 {
			if head, ok := doc.HeadVersion(); ok {
				doc.Sections = core.ParseSections(head.Content)
			}
		}
	}

	go w.run(*doc)
	return w, nil
}

func (w *Writer) emit(ctx context.Context, topic string, payload map[string]any) {
	scope := core.Scope{RunID: w.runID}
	if w.es != nil {
		seq, err := w.es.Append(ctx, topic, "runwriter", scope, payload, "")
		if err == nil && w.bus != nil {
			w.bus.Publish(core.Event{Seq: seq, Topic: topic, ActorID: "runwriter", Scope: scope, Payload: payload, Timestamp: time.Now().UTC()})
		}
	}
}

// Close stops the actor's goroutine and releases its database handle. It
// does not delete persisted state.
func (w *Writer) Close() error {
	close(w.mail)
	<-w.done
	return w.store.close()
}

func (w *Writer) send(cmd command) result {
	cmd.reply = make(chan result, 1)
	w.mail <- cmd
	return <-cmd.reply
}

// run is the actor loop: exactly one goroutine ever mutates doc.
func (w *Writer) run(doc core.RunDocument) {
	defer close(w.done)
	ctx := context.Background()
	for cmd := range w.mail {
		switch cmd.kind {
		case cmdApplyPatch:
			w.handleApplyPatch(ctx, &doc, cmd)
		case cmdCreateOverlay:
			w.handleCreateOverlay(ctx, &doc, cmd)
		case cmdResolveOverlay:
			w.handleResolveOverlay(ctx, &doc, cmd)
		case cmdCreateVersion:
			w.handleCreateVersion(ctx, &doc, cmd)
		case cmdCommitProposal:
			w.handleCommitProposal(ctx, &doc, cmd)
		case cmdDiscardProposal:
			w.handleDiscardProposal(ctx, &doc, cmd)
		case cmdGetHeadVersion:
			v, _ := doc.HeadVersion()
			cmd.reply <- result{version: v}
		case cmdGetVersion:
			v, ok := doc.Version(cmd.versionID)
			if !ok {
				cmd.reply <- result{err: coreerr.ErrNotFound}
				continue
			}
			cmd.reply <- result{version: v}
		case cmdListVersions:
			cmd.reply <- result{list: append([]core.DocumentVersion(nil), doc.Versions...)}
		case cmdGetRevision:
			cmd.reply <- result{revision: doc.Revision}
		case cmdPendingSections:
			var ids []core.SectionID
			for _, id := range core.SectionOrder {
				if doc.ProposalBuffers[id] != "" {
					ids = append(ids, id)
				}
			}
			cmd.reply <- result{sections: ids}
		}
	}
}

// handleApplyPatch implements §4.3's ApplyPatch{source, section_id, ops,
// proposal}: a proposal write lands in the section's proposal buffer (live
// in draft.md under a "<!-- proposal -->" region, never canon); a direct
// write mutates the section's canon content and commits a new
// DocumentVersion the same tick.
func (w *Writer) handleApplyPatch(ctx context.Context, doc *core.RunDocument, cmd command) {
	if !core.ValidSectionID(cmd.sectionID) {
		cmd.reply <- result{err: fmt.Errorf("runwriter: unknown section %q", cmd.sectionID)}
		return
	}

	if cmd.proposal {
		next, err := applyOps(doc.ProposalBuffers[cmd.sectionID], cmd.ops)
		if err != nil {
			cmd.reply <- result{err: err}
			return
		}
		doc.ProposalBuffers[cmd.sectionID] = next
		if err := w.store.saveProposal(ctx, w.runID, cmd.sectionID, next); err != nil {
			cmd.reply <- result{err: err}
			return
		}
		doc.Revision++
		if err := w.store.saveRevisionAndHead(ctx, w.runID, doc.HeadVersionID, doc.Revision, doc.Status); err != nil {
			cmd.reply <- result{err: err}
			return
		}
		if err := writeDocumentFile(doc.DocumentPath, doc.Revision, core.RenderDraft(doc.Sections, doc.ProposalBuffers)); err != nil {
			cmd.reply <- result{err: err}
			return
		}
		w.emit(ctx, core.TopicWriterRunPatch, map[string]any{
			"revision": doc.Revision, "section_id": cmd.sectionID, "proposal": true, "source": cmd.source,
		})
		head, _ := doc.HeadVersion()
		cmd.reply <- result{version: head, doc: *doc}
		return
	}

	next, err := applyOps(doc.Sections[cmd.sectionID], cmd.ops)
	if err != nil {
		cmd.reply <- result{err: err}
		return
	}
	source := cmd.source
	if source == "" {
		source = core.VersionSourceWriter
	}
	newVersion, err := w.commitCanon(ctx, doc, cmd.sectionID, next, source)
	if err != nil {
		cmd.reply <- result{err: err}
		return
	}
	w.emit(ctx, core.TopicWriterRunPatch, map[string]any{
		"revision": doc.Revision, "version_id": newVersion.VersionID, "section_id": cmd.sectionID, "proposal": false,
	})
	cmd.reply <- result{version: newVersion, doc: *doc}
}

// commitCanon sets sectionID's canon content to content, renders the whole
// document's canon-only markdown as a new immutable DocumentVersion, and
// persists both the section table and the new version atomically from the
// actor's point of view (single goroutine, no concurrent writers). Shared by
// the direct ApplyPatch path and CommitProposal.
func (w *Writer) commitCanon(ctx context.Context, doc *core.RunDocument, sectionID core.SectionID, content string, source core.VersionSource) (core.DocumentVersion, error) {
	head, ok := doc.HeadVersion()
	if !ok {
		return core.DocumentVersion{}, fmt.Errorf("runwriter: no head version")
	}
	doc.Sections[sectionID] = content
	newVersion := core.DocumentVersion{
		VersionID:     head.VersionID + 1,
		ParentVersion: &head.VersionID,
		CreatedAt:     time.Now().UTC(),
		Source:        source,
		Content:       core.RenderCanon(doc.Sections),
	}
	if err := w.store.insertVersion(ctx, w.runID, newVersion); err != nil {
		return core.DocumentVersion{}, err
	}
	if err := w.store.saveSection(ctx, w.runID, sectionID, content); err != nil {
		return core.DocumentVersion{}, err
	}
	doc.Versions = append(doc.Versions, newVersion)
	doc.HeadVersionID = newVersion.VersionID
	doc.Revision++
	if err := w.store.saveRevisionAndHead(ctx, w.runID, doc.HeadVersionID, doc.Revision, doc.Status); err != nil {
		return core.DocumentVersion{}, err
	}
	if err := writeDocumentFile(doc.DocumentPath, doc.Revision, core.RenderDraft(doc.Sections, doc.ProposalBuffers)); err != nil {
		return core.DocumentVersion{}, err
	}
	return newVersion, nil
}

// handleCreateOverlay persists a new pending overlay against baseVersion
// without touching the head (§4.3: overlays never mutate the head).
func (w *Writer) handleCreateOverlay(ctx context.Context, doc *core.RunDocument, cmd command) {
	if _, ok := doc.Version(cmd.baseVersion); !ok {
		cmd.reply <- result{err: fmt.Errorf("runwriter: unknown base version %d", cmd.baseVersion)}
		return
	}
	ov := core.Overlay{
		OverlayID:     core.NewID(),
		BaseVersionID: cmd.baseVersion,
		Author:        cmd.author,
		Kind:          cmd.overlayKind,
		SectionID:     cmd.sectionID,
		DiffOps:       cmd.ops,
		Status:        core.OverlayPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := w.store.insertOverlay(ctx, w.runID, ov); err != nil {
		cmd.reply <- result{err: err}
		return
	}
	doc.Overlays = append(doc.Overlays, ov)
	cmd.reply <- result{overlay: ov}
}

// handleResolveOverlay transitions an overlay out of pending. Once
// terminal, an overlay's status can never change again (§3.3 invariant);
// superseding happens automatically whenever a new version is created
// while other overlays still target an older base (see handleCreateVersion).
func (w *Writer) handleResolveOverlay(ctx context.Context, doc *core.RunDocument, cmd command) {
	ov, ok := doc.Overlay(cmd.overlayID)
	if !ok {
		cmd.reply <- result{err: coreerr.ErrNotFound}
		return
	}
	if ov.Status.IsTerminal() {
		cmd.reply <- result{err: coreerr.ErrOverlayTerminal}
		return
	}
	now := time.Now().UTC()
	ov.Status = cmd.resolve
	ov.ResolvedAt = &now
	if err := w.store.updateOverlayStatus(ctx, w.runID, ov.OverlayID, ov.Status, ov.ResolvedAt); err != nil {
		cmd.reply <- result{err: err}
		return
	}
	cmd.reply <- result{overlay: *ov}
}

// handleCreateVersion implements the user-save path (§4.3): a new version
// is recorded directly from externally supplied content (not derived via
// patch ops), becomes head, and every overlay still pending against an
// older base is superseded.
func (w *Writer) handleCreateVersion(ctx context.Context, doc *core.RunDocument, cmd command) {
	head, _ := doc.HeadVersion()
	newVersion := core.DocumentVersion{
		VersionID:     head.VersionID + 1,
		ParentVersion: &head.VersionID,
		CreatedAt:     time.Now().UTC(),
		Source:        cmd.source,
		Content:       cmd.content,
	}
	if err := w.store.insertVersion(ctx, w.runID, newVersion); err != nil {
		cmd.reply <- result{err: err}
		return
	}
	doc.Versions = append(doc.Versions, newVersion)
	doc.HeadVersionID = newVersion.VersionID
	doc.Revision++
	doc.Sections = core.ParseSections(cmd.content)
	for _, id := range core.SectionOrder {
		_ = w.store.saveSection(ctx, w.runID, id, doc.Sections[id])
	}

	now := time.Now().UTC()
	for i := range doc.Overlays {
		ov := &doc.Overlays[i]
		if ov.Status == core.OverlayPending && ov.BaseVersionID < newVersion.VersionID {
			ov.Status = core.OverlaySuperseded
			ov.ResolvedAt = &now
			_ = w.store.updateOverlayStatus(ctx, w.runID, ov.OverlayID, ov.Status, ov.ResolvedAt)
		}
	}

	if err := w.store.saveRevisionAndHead(ctx, w.runID, doc.HeadVersionID, doc.Revision, doc.Status); err != nil {
		cmd.reply <- result{err: err}
		return
	}
	if err := writeDocumentFile(doc.DocumentPath, doc.Revision, core.RenderDraft(doc.Sections, doc.ProposalBuffers)); err != nil {
		cmd.reply <- result{err: err}
		return
	}
	w.emit(ctx, core.TopicWriterRunPatch, map[string]any{"revision": doc.Revision, "version_id": newVersion.VersionID, "source": cmd.source})
	cmd.reply <- result{version: newVersion, doc: *doc}
}

// handleCommitProposal folds sectionID's pending proposal buffer into its
// canon content, creating a new DocumentVersion the same way the direct
// ApplyPatch path does (§4.3 CommitProposal{section_id}: "the sole path by
// which proposals become canon", §4.6). Any overlay still pending against
// this section is marked applied as part of the same commit, so the
// overlay audit trail (§3.3) tracks the section's provenance.
func (w *Writer) handleCommitProposal(ctx context.Context, doc *core.RunDocument, cmd command) {
	if !core.ValidSectionID(cmd.sectionID) {
		cmd.reply <- result{err: fmt.Errorf("runwriter: unknown section %q", cmd.sectionID)}
		return
	}
	pending := doc.ProposalBuffers[cmd.sectionID]
	if pending == "" {
		cmd.reply <- result{err: fmt.Errorf("runwriter: no pending proposal for section %q", cmd.sectionID)}
		return
	}
	doc.ProposalBuffers[cmd.sectionID] = ""

	newVersion, err := w.commitCanon(ctx, doc, cmd.sectionID, pending, core.VersionSourceWriter)
	if err != nil {
		cmd.reply <- result{err: err}
		return
	}
	if err := w.store.clearProposal(ctx, w.runID, cmd.sectionID); err != nil {
		cmd.reply <- result{err: err}
		return
	}

	now := time.Now().UTC()
	for i := range doc.Overlays {
		ov := &doc.Overlays[i]
		if ov.Status == core.OverlayPending && ov.SectionID == cmd.sectionID {
			ov.Status = core.OverlayApplied
			ov.ResolvedAt = &now
			_ = w.store.updateOverlayStatus(ctx, w.runID, ov.OverlayID, ov.Status, ov.ResolvedAt)
		} else if ov.Status == core.OverlayPending && ov.BaseVersionID < newVersion.VersionID {
			ov.Status = core.OverlaySuperseded
			ov.ResolvedAt = &now
			_ = w.store.updateOverlayStatus(ctx, w.runID, ov.OverlayID, ov.Status, ov.ResolvedAt)
		}
	}

	w.emit(ctx, core.TopicWriterRunPatch, map[string]any{"revision": doc.Revision, "version_id": newVersion.VersionID, "section_id": cmd.sectionID, "committed": true})
	cmd.reply <- result{version: newVersion, doc: *doc}
}

// handleDiscardProposal clears sectionID's pending proposal buffer without
// ever touching canon, and marks any overlay pending against that section
// discarded.
func (w *Writer) handleDiscardProposal(ctx context.Context, doc *core.RunDocument, cmd command) {
	if !core.ValidSectionID(cmd.sectionID) {
		cmd.reply <- result{err: fmt.Errorf("runwriter: unknown section %q", cmd.sectionID)}
		return
	}
	if doc.ProposalBuffers[cmd.sectionID] == "" {
		cmd.reply <- result{err: fmt.Errorf("runwriter: no pending proposal for section %q", cmd.sectionID)}
		return
	}
	doc.ProposalBuffers[cmd.sectionID] = ""
	if err := w.store.clearProposal(ctx, w.runID, cmd.sectionID); err != nil {
		cmd.reply <- result{err: err}
		return
	}
	doc.Revision++
	if err := w.store.saveRevisionAndHead(ctx, w.runID, doc.HeadVersionID, doc.Revision, doc.Status); err != nil {
		cmd.reply <- result{err: err}
		return
	}
	if err := writeDocumentFile(doc.DocumentPath, doc.Revision, core.RenderDraft(doc.Sections, doc.ProposalBuffers)); err != nil {
		cmd.reply <- result{err: err}
		return
	}

	now := time.Now().UTC()
	for i := range doc.Overlays {
		ov := &doc.Overlays[i]
		if ov.Status == core.OverlayPending && ov.SectionID == cmd.sectionID {
			ov.Status = core.OverlayDiscarded
			ov.ResolvedAt = &now
			_ = w.store.updateOverlayStatus(ctx, w.runID, ov.OverlayID, ov.Status, ov.ResolvedAt)
		}
	}

	w.emit(ctx, core.TopicWriterRunPatch, map[string]any{"revision": doc.Revision, "section_id": cmd.sectionID, "discarded": true})
	cmd.reply <- result{doc: *doc}
}

// ApplyPatch applies ops against sectionID (§4.3 ApplyPatch{source,
// section_id, ops, proposal}). proposal=false mutates the section's canon
// content directly and commits a new DocumentVersion; proposal=true writes
// into the section's pending proposal buffer instead, leaving canon (and
// the version history) untouched until a later CommitProposal.
func (w *Writer) ApplyPatch(ctx context.Context, source core.VersionSource, sectionID core.SectionID, ops []core.PatchOp, proposal bool) (core.DocumentVersion, error) {
	r := w.send(command{kind: cmdApplyPatch, source: source, sectionID: sectionID, ops: ops, proposal: proposal})
	return r.version, r.err
}

// CreateOverlay records a new pending overlay against baseVersion, tagged
// with the section it proposes to change.
func (w *Writer) CreateOverlay(ctx context.Context, baseVersion uint64, author core.OverlayAuthor, kind core.OverlayKind, sectionID core.SectionID, ops []core.PatchOp) (core.Overlay, error) {
	r := w.send(command{kind: cmdCreateOverlay, baseVersion: baseVersion, author: author, overlayKind: kind, sectionID: sectionID, ops: ops})
	return r.overlay, r.err
}

// ResolveOverlay transitions overlayID to a terminal status other than
// applied (use CommitProposal for the apply path).
func (w *Writer) ResolveOverlay(ctx context.Context, overlayID string, status core.OverlayStatus) (core.Overlay, error) {
	r := w.send(command{kind: cmdResolveOverlay, overlayID: overlayID, resolve: status})
	return r.overlay, r.err
}

// CreateVersion records content as a new head version directly (the
// user-save path), superseding stale pending overlays.
func (w *Writer) CreateVersion(ctx context.Context, content string, source core.VersionSource) (core.DocumentVersion, error) {
	r := w.send(command{kind: cmdCreateVersion, content: content, source: source})
	return r.version, r.err
}

// CommitProposal folds sectionID's pending proposal buffer into canon and
// marks it applied (§4.3 CommitProposal{section_id}).
func (w *Writer) CommitProposal(ctx context.Context, sectionID core.SectionID) (core.DocumentVersion, error) {
	r := w.send(command{kind: cmdCommitProposal, sectionID: sectionID})
	return r.version, r.err
}

// DiscardProposal clears sectionID's pending proposal buffer without ever
// touching canon (§4.3 DiscardProposal{section_id}).
func (w *Writer) DiscardProposal(ctx context.Context, sectionID core.SectionID) error {
	r := w.send(command{kind: cmdDiscardProposal, sectionID: sectionID})
	return r.err
}

// PendingSections returns the sections that currently hold a non-empty
// proposal buffer -- used at Conductor termination (§4.7) to find
// "remaining approved overlays" that still need a CommitProposal before the
// run's final status is emitted.
func (w *Writer) PendingSections(ctx context.Context) ([]core.SectionID, error) {
	r := w.send(command{kind: cmdPendingSections})
	return r.sections, r.err
}

// GetHeadVersion returns the current canonical version.
func (w *Writer) GetHeadVersion(ctx context.Context) (core.DocumentVersion, error) {
	r := w.send(command{kind: cmdGetHeadVersion})
	return r.version, r.err
}

// GetVersion looks up a specific version by id.
func (w *Writer) GetVersion(ctx context.Context, id uint64) (core.DocumentVersion, error) {
	r := w.send(command{kind: cmdGetVersion, versionID: id})
	return r.version, r.err
}

// ListVersions returns every version recorded for this run, oldest first.
func (w *Writer) ListVersions(ctx context.Context) ([]core.DocumentVersion, error) {
	r := w.send(command{kind: cmdListVersions})
	return r.list, r.err
}

// GetRevision returns the document's current monotonic revision counter.
func (w *Writer) GetRevision(ctx context.Context) (uint64, error) {
	r := w.send(command{kind: cmdGetRevision})
	return r.revision, r.err
}

// DocumentPath returns the run document's on-disk path (§6 Persisted
// state layout: conductor/runs/{run_id}/draft.md). It never changes for
// the lifetime of the Writer, so it is safe to read without going through
// the mailbox.
func (w *Writer) DocumentPath() string {
	return filepath.Join(w.docRoot, w.runID+".md")
}

// RunID returns the run this Writer owns.
func (w *Writer) RunID() string { return w.runID }
