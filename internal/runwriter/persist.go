package runwriter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
)

// store is the SQLite-backed persistence for run versions/overlays/document
// metadata, grounded on the teacher's database/sql pooling idiom
// (internal/storage, adapted from Postgres to an embedded SQLite file the
// same way eventstore does).
type store struct {
	db *sql.DB
}

func openStore(dbPath string) (*store, error) {
	if err := Migrate(dbPath); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("runwriter: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &store{db: db}, nil
}

func (s *store) loadDocument(ctx context.Context, runID string) (*core.RunDocument, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT objective, head_version_id, revision, status, document_path FROM run_documents WHERE run_id = ?`, runID)
	doc := &core.RunDocument{RunID: runID}
	if err := row.Scan(&doc.Objective, &doc.HeadVersionID, &doc.Revision, &doc.Status, &doc.DocumentPath); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, &coreerr.PersistError{Cause: err}
	}

	vrows, err := s.db.QueryContext(ctx,
		`SELECT version_id, parent_version_id, created_at, source, content FROM run_versions WHERE run_id = ? ORDER BY version_id ASC`, runID)
	if err != nil {
		return nil, false, &coreerr.PersistError{Cause: err}
	}
	defer vrows.Close()
	for vrows.Next() {
		var v core.DocumentVersion
		var parent sql.NullInt64
		var createdAt string
		if err := vrows.Scan(&v.VersionID, &parent, &createdAt, &v.Source, &v.Content); err != nil {
			return nil, false, &coreerr.PersistError{Cause: err}
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if parent.Valid {
			p := uint64(parent.Int64)
			v.ParentVersion = &p
		}
		doc.Versions = append(doc.Versions, v)
	}

	orows, err := s.db.QueryContext(ctx,
		`SELECT overlay_id, base_version_id, author, kind, section_id, diff_ops, status, created_at, resolved_at FROM run_overlays WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, false, &coreerr.PersistError{Cause: err}
	}
	defer orows.Close()
	for orows.Next() {
		var o core.Overlay
		var createdAt string
		var resolvedAt sql.NullString
		var diffOpsRaw string
		if err := orows.Scan(&o.OverlayID, &o.BaseVersionID, &o.Author, &o.Kind, &o.SectionID, &diffOpsRaw, &o.Status, &createdAt, &resolvedAt); err != nil {
			return nil, false, &coreerr.PersistError{Cause: err}
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, resolvedAt.String)
			o.ResolvedAt = &t
		}
		_ = json.Unmarshal([]byte(diffOpsRaw), &o.DiffOps)
		doc.Overlays = append(doc.Overlays, o)
	}

	doc.Sections = make(map[core.SectionID]string, len(core.SectionOrder))
	srows, err := s.db.QueryContext(ctx, `SELECT section_id, content FROM run_sections WHERE run_id = ?`, runID)
	if err != nil {
		return nil, false, &coreerr.PersistError{Cause: err}
	}
	defer srows.Close()
	for srows.Next() {
		var id, content string
		if err := srows.Scan(&id, &content); err != nil {
			return nil, false, &coreerr.PersistError{Cause: err}
		}
		doc.Sections[core.SectionID(id)] = content
	}

	doc.ProposalBuffers = make(map[core.SectionID]string, len(core.SectionOrder))
	prows, err := s.db.QueryContext(ctx, `SELECT section_id, content FROM run_proposals WHERE run_id = ?`, runID)
	if err != nil {
		return nil, false, &coreerr.PersistError{Cause: err}
	}
	defer prows.Close()
	for prows.Next() {
		var id, content string
		if err := prows.Scan(&id, &content); err != nil {
			return nil, false, &coreerr.PersistError{Cause: err}
		}
		doc.ProposalBuffers[core.SectionID(id)] = content
	}

	return doc, true, nil
}

// saveSection upserts one canonical section's committed content.
func (s *store) saveSection(ctx context.Context, runID string, sectionID core.SectionID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_sections (run_id, section_id, content) VALUES (?,?,?)
		 ON CONFLICT(run_id, section_id) DO UPDATE SET content = excluded.content`,
		runID, string(sectionID), content)
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	return nil
}

// saveProposal upserts one section's pending proposal buffer.
func (s *store) saveProposal(ctx context.Context, runID string, sectionID core.SectionID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_proposals (run_id, section_id, content) VALUES (?,?,?)
		 ON CONFLICT(run_id, section_id) DO UPDATE SET content = excluded.content`,
		runID, string(sectionID), content)
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	return nil
}

// clearProposal deletes a section's pending proposal buffer once it has
// been committed or discarded.
func (s *store) clearProposal(ctx context.Context, runID string, sectionID core.SectionID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_proposals WHERE run_id = ? AND section_id = ?`, runID, string(sectionID))
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	return nil
}

func (s *store) createDocument(ctx context.Context, doc *core.RunDocument) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_documents (run_id, objective, head_version_id, revision, status, document_path) VALUES (?,?,?,?,?,?)`,
		doc.RunID, doc.Objective, doc.HeadVersionID, doc.Revision, doc.Status, doc.DocumentPath)
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	return nil
}

func (s *store) saveRevisionAndHead(ctx context.Context, runID string, head uint64, revision uint64, status core.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_documents SET head_version_id = ?, revision = ?, status = ? WHERE run_id = ?`,
		head, revision, status, runID)
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	return nil
}

func (s *store) insertVersion(ctx context.Context, runID string, v core.DocumentVersion) error {
	var parent any
	if v.ParentVersion != nil {
		parent = *v.ParentVersion
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_versions (run_id, version_id, parent_version_id, created_at, source, content) VALUES (?,?,?,?,?,?)`,
		runID, v.VersionID, parent, v.CreatedAt.Format(time.RFC3339Nano), v.Source, v.Content)
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	return nil
}

func (s *store) insertOverlay(ctx context.Context, runID string, o core.Overlay) error {
	diffOps, err := json.Marshal(o.DiffOps)
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_overlays (run_id, overlay_id, base_version_id, author, kind, section_id, diff_ops, status, created_at, resolved_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		runID, o.OverlayID, o.BaseVersionID, o.Author, o.Kind, string(o.SectionID), string(diffOps), o.Status, o.CreatedAt.Format(time.RFC3339Nano), nil)
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	return nil
}

func (s *store) updateOverlayStatus(ctx context.Context, runID, overlayID string, status core.OverlayStatus, resolvedAt *time.Time) error {
	var resolved any
	if resolvedAt != nil {
		resolved = resolvedAt.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_overlays SET status = ?, resolved_at = ? WHERE run_id = ? AND overlay_id = ?`,
		status, resolved, runID, overlayID)
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	return nil
}

func (s *store) close() error { return s.db.Close() }

// writeDocumentFile atomically persists the rendered markdown to disk via a
// temp-file-plus-rename, embedding the revision header (§4.3), grounded on
// the teacher's artifact local store atomic-write pattern
// (internal/artifacts/local_store.go).
func writeDocumentFile(path string, revision uint64, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	rendered := fmt.Sprintf("<!-- revision:%d -->\n%s", revision, content)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".draft-*.tmp")
	if err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(rendered); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &coreerr.PersistError{Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &coreerr.PersistError{Cause: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &coreerr.PersistError{Cause: err}
	}
	// Sidecar revision file for Writer optimistic concurrency (§6).
	revPath := path + ".rev"
	if err := os.WriteFile(revPath, []byte(fmt.Sprintf("%d", revision)), 0o644); err != nil {
		return &coreerr.PersistError{Cause: err}
	}
	return nil
}
