package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SignalDedupStore durably tracks processed strategy signal_ids against the
// signal_dedup table (migrations/0004_signal_dedup.sql), so a Cortex
// restart does not re-admit a signal still inside its strategy's retry
// window (spec §4.I: "Dedup cache is durable (backed by a key-value
// store)").
type SignalDedupStore struct {
	store *BaseStore
	ttl   time.Duration
}

// NewSignalDedupStore wraps db for the signal_dedup table. ttl is the
// retention window a signal_id is remembered for, matching the gate's
// former in-memory DedupTTL.
func NewSignalDedupStore(db *sql.DB, ttl time.Duration) *SignalDedupStore {
	return &SignalDedupStore{store: NewBaseStore(db, "signal_dedup"), ttl: ttl}
}

// SeenOrMark reports whether signalID is already marked and unexpired;
// otherwise it records it and returns false. The insert is a single
// conflict-checked statement so two Cortex replicas racing on the same
// signal_id never both admit it.
func (s *SignalDedupStore) SeenOrMark(ctx context.Context, signalID string) (bool, error) {
	seconds := int64(s.ttl.Seconds())

	const insert = `
		INSERT INTO signal_dedup (signal_id, first_seen_at, expires_at)
		VALUES ($1, now(), now() + ($2 || ' seconds')::interval)
		ON CONFLICT (signal_id) DO NOTHING`
	res, err := s.store.ExecContext(ctx, insert, signalID, seconds)
	if err != nil {
		return false, fmt.Errorf("signal_dedup: insert %s: %w", signalID, err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("signal_dedup: rows affected: %w", err)
	} else if rows == 1 {
		return false, nil
	}

	// The row already existed. An expired row is not a duplicate: a
	// signal_id reused after its retry window has passed must still be
	// admitted, so refresh it in place rather than reporting a match.
	const refresh = `
		UPDATE signal_dedup
		SET first_seen_at = now(), expires_at = now() + ($2 || ' seconds')::interval
		WHERE signal_id = $1 AND expires_at < now()`
	res, err = s.store.ExecContext(ctx, refresh, signalID, seconds)
	if err != nil {
		return false, fmt.Errorf("signal_dedup: refresh expired %s: %w", signalID, err)
	}
	refreshed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("signal_dedup: rows affected: %w", err)
	}
	return refreshed == 0, nil
}
