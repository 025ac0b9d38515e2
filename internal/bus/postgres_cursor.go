package bus

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hoptrade/motorcortex/pkg/storage/postgres"
)

// PostgresCursorStore persists subscriber cursors to the bus_cursors table
// (pkg/storage/postgres/migrations/0004_signal_dedup.sql), so a restarted
// consumer resumes from its last acknowledged sequence instead of from
// zero (spec §4.A failure semantics).
type PostgresCursorStore struct {
	store *postgres.BaseStore
}

// NewPostgresCursorStore wraps db for the bus_cursors table.
func NewPostgresCursorStore(db *sql.DB) *PostgresCursorStore {
	return &PostgresCursorStore{store: postgres.NewBaseStore(db, "bus_cursors")}
}

func (p *PostgresCursorStore) Load(ctx context.Context, subscriberID string, stream Stream) (uint64, error) {
	const q = `SELECT last_acked_seq FROM bus_cursors WHERE subscriber_id = $1 AND stream = $2`
	var seq int64
	err := p.store.QueryRowContext(ctx, q, subscriberID, string(stream)).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("bus: load cursor: %w", err)
	}
	return uint64(seq), nil
}

func (p *PostgresCursorStore) Save(ctx context.Context, subscriberID string, stream Stream, seq uint64) error {
	const q = `
		INSERT INTO bus_cursors (subscriber_id, stream, last_acked_seq)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_id, stream) DO UPDATE SET last_acked_seq = EXCLUDED.last_acked_seq`
	_, err := p.store.ExecContext(ctx, q, subscriberID, string(stream), int64(seq))
	if err != nil {
		return fmt.Errorf("bus: save cursor: %w", err)
	}
	return nil
}
