package core

import (
	"strings"
	"time"
)

// SectionID names one of the document's canonical sections (§6 persisted
// state layout: "## Conductor", "## Researcher", "## Terminal", "## User").
// ApplyPatch, CommitProposal and DiscardProposal (§4.3) all key off a
// SectionID rather than an overlay id: an overlay is an audit record of who
// proposed a change and against which base version, a section is where that
// change lives in the rendered document.
type SectionID string

const (
	SectionConductor  SectionID = "conductor"
	SectionResearcher SectionID = "researcher"
	SectionTerminal   SectionID = "terminal"
	SectionUser       SectionID = "user"
)

// SectionOrder is the fixed rendering order of canonical sections (§6).
var SectionOrder = []SectionID{SectionConductor, SectionResearcher, SectionTerminal, SectionUser}

// sectionMarkers maps each SectionID to its heading in draft.md.
var sectionMarkers = map[SectionID]string{
	SectionConductor:  "## Conductor",
	SectionResearcher: "## Researcher",
	SectionTerminal:   "## Terminal",
	SectionUser:       "## User",
}

// ValidSectionID reports whether id names one of the document's canonical
// sections.
func ValidSectionID(id SectionID) bool {
	_, ok := sectionMarkers[id]
	return ok
}

// SectionMarker returns the markdown heading that opens id's region in
// draft.md.
func SectionMarker(id SectionID) string {
	return sectionMarkers[id]
}

// VersionSource identifies who produced a DocumentVersion (§3.3).
type VersionSource string

const (
	VersionSourceWriter   VersionSource = "writer"
	VersionSourceUserSave VersionSource = "user_save"
	VersionSourceSystem   VersionSource = "system"
)

// OverlayAuthor identifies who proposed an Overlay (§3.3).
type OverlayAuthor string

const (
	OverlayAuthorUser       OverlayAuthor = "user"
	OverlayAuthorResearcher OverlayAuthor = "researcher"
	OverlayAuthorTerminal   OverlayAuthor = "terminal"
	OverlayAuthorWriter     OverlayAuthor = "writer"
)

// OverlayKind categorizes an Overlay (§3.3).
type OverlayKind string

const (
	OverlayKindComment          OverlayKind = "comment"
	OverlayKindProposal         OverlayKind = "proposal"
	OverlayKindWorkerCompletion OverlayKind = "worker_completion"
)

// OverlayStatus is the terminal-DAG status of an Overlay (§3.3).
type OverlayStatus string

const (
	OverlayPending    OverlayStatus = "pending"
	OverlaySuperseded OverlayStatus = "superseded"
	OverlayApplied    OverlayStatus = "applied"
	OverlayDiscarded  OverlayStatus = "discarded"
)

// IsTerminal reports whether an overlay in this status can never change
// again (§3.3 invariant: pending -> {applied, superseded, discarded}, once
// terminal no return).
func (s OverlayStatus) IsTerminal() bool {
	return s != OverlayPending
}

// OpKind identifies the variant held by a PatchOp (§3.3).
type OpKind string

const (
	OpInsert  OpKind = "insert"
	OpDelete  OpKind = "delete"
	OpReplace OpKind = "replace"
	OpRetain  OpKind = "retain"
)

// PatchOp is the closed sum type `Insert | Delete | Replace | Retain` from
// §3.3, represented as a tagged struct rather than an interface so it
// serializes directly to/from JSON without a custom marshaler per variant.
type PatchOp struct {
	Op   OpKind `json:"op"`
	Pos  int    `json:"pos"`
	Len  int    `json:"len,omitempty"`
	Text string `json:"text,omitempty"`
}

// DocumentVersion is one immutable canonical snapshot of a run document
// (§3.3). Versions are never mutated once created; a content edit always
// produces a new version with the edited one as parent.
type DocumentVersion struct {
	VersionID      uint64        `json:"version_id"`
	ParentVersion  *uint64       `json:"parent_version_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	Source         VersionSource `json:"source"`
	Content        string        `json:"content"`
}

// Overlay is a tentative diff against a base version (§3.3).
type Overlay struct {
	OverlayID     string        `json:"overlay_id"`
	BaseVersionID uint64        `json:"base_version_id"`
	Author        OverlayAuthor `json:"author"`
	Kind          OverlayKind   `json:"kind"`
	SectionID     SectionID     `json:"section_id,omitempty"`
	DiffOps       []PatchOp     `json:"diff_ops"`
	Status        OverlayStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	ResolvedAt    *time.Time    `json:"resolved_at,omitempty"`
}

// RunDocument is the full per-run document state owned by one RunWriter
// (§3.3). It is never shared across actors; only the owning RunWriter may
// mutate it.
type RunDocument struct {
	RunID          string            `json:"run_id"`
	Objective      string            `json:"objective"`
	HeadVersionID  uint64            `json:"head_version_id"`
	Versions       []DocumentVersion `json:"versions"`
	Overlays       []Overlay         `json:"overlays"`
	Revision       uint64            `json:"revision"`
	Status         RunStatus         `json:"status"`
	DocumentPath   string            `json:"document_path"`

	// Sections holds each canonical section's committed (canon) content.
	// A DocumentVersion's Content is always RenderCanon(Sections) taken at
	// the moment the version was created (§3.3, §6).
	Sections map[SectionID]string `json:"sections"`

	// ProposalBuffers holds each section's pending, uncommitted content
	// (§4.3 ApplyPatch{proposal: true}). Never part of a DocumentVersion;
	// only rendered into draft.md's live "<!-- proposal -->" regions until
	// CommitProposal folds it into Sections or DiscardProposal clears it.
	ProposalBuffers map[SectionID]string `json:"proposal_buffers"`
}

// HeadVersion returns the current canonical version, or false if the
// document has not bootstrapped a version yet.
func (d *RunDocument) HeadVersion() (DocumentVersion, bool) {
	for i := len(d.Versions) - 1; i >= 0; i-- {
		if d.Versions[i].VersionID == d.HeadVersionID {
			return d.Versions[i], true
		}
	}
	return DocumentVersion{}, false
}

// Version looks up a specific version by id.
func (d *RunDocument) Version(id uint64) (DocumentVersion, bool) {
	for _, v := range d.Versions {
		if v.VersionID == id {
			return v, true
		}
	}
	return DocumentVersion{}, false
}

// Overlay looks up an overlay by id.
func (d *RunDocument) Overlay(id string) (*Overlay, bool) {
	for i := range d.Overlays {
		if d.Overlays[i].OverlayID == id {
			return &d.Overlays[i], true
		}
	}
	return nil, false
}

// RenderCanon renders sections into the flat markdown stored on a
// DocumentVersion: canonical content only, no pending proposals (§3.3).
func RenderCanon(sections map[SectionID]string) string {
	var b strings.Builder
	for _, id := range SectionOrder {
		b.WriteString(SectionMarker(id))
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(sections[id], "\n"))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// RenderDraft renders sections plus any pending proposal buffers into the
// full draft.md layout: each section whose buffer carries pending content
// gets a trailing "<!-- proposal -->...<!-- /proposal -->" region so a
// reader can see what is live but not yet canon (§6).
func RenderDraft(sections, proposals map[SectionID]string) string {
	var b strings.Builder
	for _, id := range SectionOrder {
		b.WriteString(SectionMarker(id))
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(sections[id], "\n"))
		b.WriteString("\n")
		if pending := proposals[id]; pending != "" {
			b.WriteString("\n<!-- proposal -->\n")
			b.WriteString(strings.TrimRight(pending, "\n"))
			b.WriteString("\n<!-- /proposal -->\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// ParseSections recovers a section map from markdown previously produced by
// RenderCanon (used to rebuild RunDocument.Sections from a version's Content
// when a RunWriter resumes an existing run).
func ParseSections(content string) map[SectionID]string {
	sections := make(map[SectionID]string, len(SectionOrder))
	lines := strings.Split(content, "\n")
	var current SectionID
	var buf []string
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimRight(strings.Join(buf, "\n"), "\n")
		}
	}
	for _, line := range lines {
		if id, ok := sectionForMarker(line); ok {
			flush()
			current = id
			buf = buf[:0]
			continue
		}
		if current != "" {
			buf = append(buf, line)
		}
	}
	flush()
	return sections
}

func sectionForMarker(line string) (SectionID, bool) {
	trimmed := strings.TrimSpace(line)
	for _, id := range SectionOrder {
		if trimmed == sectionMarkers[id] {
			return id, true
		}
	}
	return "", false
}
