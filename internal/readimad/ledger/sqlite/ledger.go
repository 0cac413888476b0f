package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/EmbeddedMhawar/Readimad/internal/db"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
)

// Ledger stores entries in the ledger_entries table. Reads go straight to
// the pool; every transition runs as one transaction on the writer.
type Ledger struct {
	db     *sql.DB
	writer *dbpkg.Worker
	now    func() time.Time
}

func New(db *sql.DB, writer *dbpkg.Worker) *Ledger {
	return &Ledger{db: db, writer: writer, now: func() time.Time { return time.Now().UTC() }}
}

func (l *Ledger) RegisterAsAuthentic(ctx context.Context, key identity.Key) (ledger.Outcome, error) {
	var out ledger.Outcome
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = registerTx(ctx, tx, key, l.now().UnixMilli())
		return err
	})
	if err != nil {
		return ledger.OutcomeNone, ledger.Classify(err)
	}
	return out, nil
}

// RegisterBatch registers every key in a single transaction. Rejected keys
// are recorded and skipped; only an infrastructure failure aborts the
// transaction, in which case every key reports it.
func (l *Ledger) RegisterBatch(ctx context.Context, keys []identity.Key) ledger.BatchResult {
	if len(keys) == 0 {
		return ledger.BatchResult{}
	}

	var res ledger.BatchResult
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		nowMs := l.now().UnixMilli()
		res = ledger.BatchResult{Results: make([]ledger.KeyResult, len(keys))}
		for i, k := range keys {
			out, err := registerTx(ctx, tx, k, nowMs)
			if err != nil && !ledger.IsTransition(err) {
				return err
			}
			res.Results[i] = ledger.KeyResult{Key: k, Outcome: out, Err: err}
		}
		return nil
	})
	if err != nil {
		return ledger.FailAll(keys, ledger.Unavailable(err))
	}
	return res
}

func registerTx(ctx context.Context, tx *sql.Tx, key identity.Key, nowMs int64) (ledger.Outcome, error) {
	st, err := statusTx(ctx, tx, key)
	if err != nil {
		return ledger.OutcomeNone, err
	}

	switch st {
	case ledger.StatusAuthentic:
		return ledger.OutcomeAlreadyAuthentic, nil
	case ledger.StatusRedeemed:
		return ledger.OutcomeNone, ledger.ErrCannotReauthenticateRedeemed
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO ledger_entries(key_hash, status, registered_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?);
`, key[:], int64(ledger.StatusAuthentic), nowMs, nowMs); err != nil {
		return ledger.OutcomeNone, fmt.Errorf("RegisterAsAuthentic insert: %w", err)
	}
	return ledger.OutcomeCreated, nil
}

func (l *Ledger) MarkRedeemed(ctx context.Context, key identity.Key) error {
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		st, err := statusTx(ctx, tx, key)
		if err != nil {
			return err
		}

		switch st {
		case ledger.StatusRedeemed:
			return ledger.ErrAlreadyRedeemed
		case ledger.StatusUnknown:
			return ledger.ErrNotAuthentic
		}

		nowMs := l.now().UnixMilli()
		if _, err := tx.ExecContext(ctx, `
UPDATE ledger_entries
SET status = ?,
    redeemed_at_ms = ?,
    updated_at_ms = ?
WHERE key_hash = ? AND status = ?;
`, int64(ledger.StatusRedeemed), nowMs, nowMs, key[:], int64(ledger.StatusAuthentic)); err != nil {
			return fmt.Errorf("MarkRedeemed update: %w", err)
		}
		return nil
	})
	return ledger.Classify(err)
}

func (l *Ledger) GetStatus(ctx context.Context, key identity.Key) (ledger.Status, error) {
	var code int64
	err := l.db.QueryRowContext(ctx, `
SELECT status FROM ledger_entries WHERE key_hash = ?;
`, key[:]).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.StatusUnknown, nil
	}
	if err != nil {
		return ledger.StatusUnknown, ledger.Unavailable(fmt.Errorf("GetStatus query: %w", err))
	}
	return ledger.StatusFromCode(code), nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return ledger.Unavailable(err)
	}
	return nil
}

// Must be called inside the writer's transaction.
func statusTx(ctx context.Context, tx *sql.Tx, key identity.Key) (ledger.Status, error) {
	var code int64
	err := tx.QueryRowContext(ctx, `
SELECT status FROM ledger_entries WHERE key_hash = ?;
`, key[:]).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.StatusUnknown, nil
	}
	if err != nil {
		return ledger.StatusUnknown, fmt.Errorf("read status: %w", err)
	}
	return ledger.StatusFromCode(code), nil
}
