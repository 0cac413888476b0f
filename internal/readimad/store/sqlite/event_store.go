package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/EmbeddedMhawar/Readimad/internal/db"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/store"
)

type EventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewEventStore(db *sql.DB, writer *dbpkg.Worker) *EventStore {
	return &EventStore{db: db, writer: writer}
}

// RecordEvents appends recs in one transaction.
func (s *EventStore) RecordEvents(ctx context.Context, recs []store.EventRecord) error {
	if len(recs) == 0 {
		return nil
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO ledger_events(
  kind, key_hash, batch_id, status, outcome, reason, occurred_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`)
		if err != nil {
			return fmt.Errorf("RecordEvents prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range recs {
			occurredMs := nowMs
			if !r.OccurredAt.IsZero() {
				occurredMs = r.OccurredAt.UTC().UnixMilli()
			}

			var batchID any
			if r.BatchID != "" {
				batchID = r.BatchID
			}
			var reason any
			if r.Reason != "" {
				reason = r.Reason
			}

			if _, err := stmt.ExecContext(ctx,
				string(r.Kind), r.Key[:], batchID, int64(r.Status), r.Outcome, reason, occurredMs,
			); err != nil {
				return fmt.Errorf("RecordEvents insert: %w", err)
			}
		}
		return nil
	})
}

// EventsForKey returns the audit trail of key, oldest first.
func (s *EventStore) EventsForKey(ctx context.Context, key identity.Key) ([]store.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, batch_id, status, outcome, reason, occurred_at_ms
FROM ledger_events
WHERE key_hash = ?
ORDER BY occurred_at_ms, event_id;
`, key[:])
	if err != nil {
		return nil, fmt.Errorf("EventsForKey query: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		var (
			kind       string
			batchID    sql.NullString
			status     int64
			outcome    string
			reason     sql.NullString
			occurredMs int64
		)
		if err := rows.Scan(&kind, &batchID, &status, &outcome, &reason, &occurredMs); err != nil {
			return nil, fmt.Errorf("EventsForKey scan: %w", err)
		}
		out = append(out, store.EventRecord{
			Kind:       store.EventKind(kind),
			Key:        key,
			BatchID:    batchID.String,
			Status:     ledger.StatusFromCode(status),
			Outcome:    outcome,
			Reason:     reason.String,
			OccurredAt: time.UnixMilli(occurredMs).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("EventsForKey rows: %w", err)
	}
	return out, nil
}

// PruneOlderThan deletes events with occurred_at_ms before cutoff and
// returns the number of rows deleted. Uses idx_ledger_events_time.
func (s *EventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM ledger_events
WHERE occurred_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
