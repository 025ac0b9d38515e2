package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hoptrade/motorcortex/internal/replay"
)

// ReplayCacheStore persists replay.Guard's per-issuer nonce/term state to
// the replay_cache table (migrations/0007_replay_cache.sql), the
// nonce-cache snapshot spec §6's "Persistent state layout" requires.
type ReplayCacheStore struct {
	store *BaseStore
}

// NewReplayCacheStore wraps db for the replay_cache table.
func NewReplayCacheStore(db *sql.DB) *ReplayCacheStore {
	return &ReplayCacheStore{store: NewBaseStore(db, "replay_cache")}
}

// LoadAll returns every issuer's last-persisted snapshot, for Guard.LoadSnapshot
// at boot.
func (s *ReplayCacheStore) LoadAll(ctx context.Context) (map[string]replay.IssuerSnapshot, error) {
	rows, err := s.store.QueryContext(ctx, `SELECT issuer, last_nonce, last_term FROM replay_cache`)
	if err != nil {
		return nil, fmt.Errorf("replay_cache: load all: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]replay.IssuerSnapshot)
	for rows.Next() {
		var issuer string
		var s2 replay.IssuerSnapshot
		if err := rows.Scan(&issuer, &s2.LastNonce, &s2.LastTerm); err != nil {
			return nil, fmt.Errorf("replay_cache: scan row: %w", err)
		}
		snapshot[issuer] = s2
	}
	return snapshot, rows.Err()
}

// Flush upserts every issuer in snapshot, one statement per issuer inside a
// single transaction so a periodic flush never leaves a partial write.
func (s *ReplayCacheStore) Flush(ctx context.Context, snapshot map[string]replay.IssuerSnapshot) error {
	if len(snapshot) == 0 {
		return nil
	}
	return s.store.WithTx(ctx, func(txCtx context.Context) error {
		const q = `
			INSERT INTO replay_cache (issuer, last_nonce, last_term, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (issuer) DO UPDATE SET
				last_nonce = EXCLUDED.last_nonce,
				last_term = EXCLUDED.last_term,
				updated_at = now()`
		for issuer, snap := range snapshot {
			if _, err := s.store.ExecContext(txCtx, q, issuer, snap.LastNonce, snap.LastTerm); err != nil {
				return fmt.Errorf("replay_cache: upsert %s: %w", issuer, err)
			}
		}
		return nil
	})
}
