package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hoptrade/motorcortex/infrastructure/state"
)

// StateBackend implements state.PersistenceBackend against the
// process_state table (pkg/storage/postgres/migrations/0006_process_state.sql),
// so the armed interlock and circuit breaker resume their last-persisted
// value across a restart instead of silently reopening at their zero state
// (spec §4.E step 1 / §4.F: a restart must not re-arm or de-escalate).
type StateBackend struct {
	store *BaseStore
}

// NewStateBackend wraps db for the process_state table.
func NewStateBackend(db *sql.DB) *StateBackend {
	return &StateBackend{store: NewBaseStore(db, "process_state")}
}

func (b *StateBackend) Save(ctx context.Context, key string, data []byte) error {
	const q = `
		INSERT INTO process_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	_, err := b.store.ExecContext(ctx, q, key, data)
	if err != nil {
		return fmt.Errorf("state: save %s: %w", key, err)
	}
	return nil
}

func (b *StateBackend) Load(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT value FROM process_state WHERE key = $1`
	var data []byte
	err := b.store.QueryRowContext(ctx, q, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, state.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: load %s: %w", key, err)
	}
	return data, nil
}

func (b *StateBackend) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM process_state WHERE key = $1`
	_, err := b.store.ExecContext(ctx, q, key)
	if err != nil {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

func (b *StateBackend) List(ctx context.Context, prefix string) ([]string, error) {
	const q = `SELECT key FROM process_state WHERE key LIKE $1`
	rows, err := b.store.QueryContext(ctx, q, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("state: list %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("state: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *StateBackend) Close(ctx context.Context) error {
	return nil
}
