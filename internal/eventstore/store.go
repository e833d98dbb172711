// Package eventstore implements the append-only, persistent event log
// specified in §4.1. It is explicitly trace-only (§4.1, §8.1 invariant 8):
// no other component may read it to decide normal-path control flow.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/choiros/choiros/internal/core"
	"github.com/choiros/choiros/internal/coreerr"
)

// Store is the EventStore contract from §4.1.
type Store interface {
	Append(ctx context.Context, topic, actorID string, scope core.Scope, payload map[string]any, correlationID string) (uint64, error)
	Query(ctx context.Context, actorID string, scope *core.Scope, sinceSeq uint64, limit int) ([]core.Event, error)
	Subscribe(topicPattern string, scope *core.Scope) (<-chan core.Event, func())
	Close() error
}

// sqliteStore is the SQLite-backed Store implementation, grounded on the
// teacher's internal/storage cockroach stores (same database/sql pooling
// idiom) adapted to a single append-only table and a local file instead of
// a multi-table relational schema over a network database.
type sqliteStore struct {
	db *sql.DB

	notify notifier
}

// notifier is implemented by the EventBus package; the EventStore does not
// import EventBus to avoid a cyclic dependency. Callers (ApplicationSupervisor
// wiring) pass a notifier when constructing the store so append() can drive
// live Subscribe without EventStore depending on EventBus's types, and so
// EventBus can depend on EventStore's published Event type instead. Per
// §4.2 "Relation to EventStore", EventStore.Subscribe is realized by
// delegating to this same bus -- there is no second fan-out implementation.
type notifier interface {
	publishFromStore(e core.Event)
	subscribeFromStore(topicPattern string, scope *core.Scope) (<-chan core.Event, func())
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema is migrated.
func Open(path string) (Store, error) {
	if err := Migrate(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: serialize writers, matches append-only single-writer semantics
	return &sqliteStore{db: db}, nil
}

// Bus is the subset of EventBus behavior the EventStore needs to drive live
// subscriptions from appended rows.
type Bus interface {
	Publish(core.Event)
	Subscribe(topicPattern string, scope *core.Scope) (<-chan core.Event, func())
}

// SetNotifier wires a live-subscription fan-out target. Used by
// ApplicationSupervisor to hand the store's append stream to the EventBus.
func SetNotifier(s Store, n Bus) {
	ss, ok := s.(*sqliteStore)
	if !ok || n == nil {
		return
	}
	ss.notify = notifyAdapter{n}
}

type notifyAdapter struct {
	n Bus
}

func (a notifyAdapter) publishFromStore(e core.Event) { a.n.Publish(e) }
func (a notifyAdapter) subscribeFromStore(topicPattern string, scope *core.Scope) (<-chan core.Event, func()) {
	return a.n.Subscribe(topicPattern, scope)
}

func (s *sqliteStore) Append(ctx context.Context, topic, actorID string, scope core.Scope, payload map[string]any, correlationID string) (uint64, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, &coreerr.PersistError{Cause: fmt.Errorf("marshal payload: %w", err)}
	}
	eventID := core.NewID()
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, timestamp, topic, actor_id, session_id, thread_id, run_id, payload, correlation_id)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		eventID, now.Format(time.RFC3339Nano), topic, actorID,
		nullable(scope.SessionID), nullable(scope.ThreadID), nullable(scope.RunID),
		string(raw), nullable(correlationID),
	)
	if err != nil {
		return 0, &coreerr.PersistError{Cause: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &coreerr.PersistError{Cause: err}
	}
	seq := uint64(id)

	if s.notify != nil {
		s.notify.publishFromStore(core.Event{
			Seq: seq, EventID: eventID, Timestamp: now, Topic: topic,
			ActorID: actorID, Scope: scope, Payload: payload, CorrelationID: correlationID,
		})
	}
	return seq, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Query returns events in strict seq order (§4.1). When scope is fully
// specified every returned row matches the exact triple; when scope is
// nil, both scoped and legacy (null-scope) rows are returned, per §3.1.
func (s *sqliteStore) Query(ctx context.Context, actorID string, scope *core.Scope, sinceSeq uint64, limit int) ([]core.Event, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT seq, event_id, timestamp, topic, actor_id, session_id, thread_id, run_id, payload, correlation_id FROM events WHERE 1=1`)
	args := []any{}

	if actorID != "" {
		sb.WriteString(" AND actor_id = ?")
		args = append(args, actorID)
	}
	if sinceSeq > 0 {
		sb.WriteString(" AND seq > ?")
		args = append(args, sinceSeq)
	}
	if scope != nil {
		if scope.SessionID != "" {
			sb.WriteString(" AND session_id = ?")
			args = append(args, scope.SessionID)
		}
		if scope.ThreadID != "" {
			sb.WriteString(" AND thread_id = ?")
			args = append(args, scope.ThreadID)
		}
		if scope.RunID != "" {
			sb.WriteString(" AND run_id = ?")
			args = append(args, scope.RunID)
		}
	}
	sb.WriteString(" ORDER BY seq ASC")
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, &coreerr.PersistError{Cause: err}
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		var (
			ev                                  core.Event
			ts                                   string
			sessionID, threadID, runID, corrID   sql.NullString
			payloadRaw                            string
		)
		if err := rows.Scan(&ev.Seq, &ev.EventID, &ts, &ev.Topic, &ev.ActorID,
			&sessionID, &threadID, &runID, &payloadRaw, &corrID); err != nil {
			return nil, &coreerr.PersistError{Cause: err}
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		ev.Scope = core.Scope{SessionID: sessionID.String, ThreadID: threadID.String, RunID: runID.String}
		ev.CorrelationID = corrID.String
		_ = json.Unmarshal([]byte(payloadRaw), &ev.Payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Subscribe implements §4.1's "emits events from now forward; no replay"
// by delegating to the wired EventBus (see Bus/SetNotifier). A store used
// standalone, with no bus wired, has nothing to subscribe to and returns a
// closed channel.
func (s *sqliteStore) Subscribe(topicPattern string, scope *core.Scope) (<-chan core.Event, func()) {
	if s.notify != nil {
		return s.notify.subscribeFromStore(topicPattern, scope)
	}
	ch := make(chan core.Event)
	close(ch)
	return ch, func() {}
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
