package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/hoptrade/motorcortex/infrastructure/state"
)

func TestStateBackend_SaveThenLoadRoundTrips(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO process_state").WithArgs("motor:armed_state", []byte("ARMED")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT value FROM process_state").WithArgs("motor:armed_state").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("ARMED")))

	b := NewStateBackend(db)
	require.NoError(t, b.Save(context.Background(), "motor:armed_state", []byte("ARMED")))

	got, err := b.Load(context.Background(), "motor:armed_state")
	require.NoError(t, err)
	require.Equal(t, []byte("ARMED"), got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStateBackend_LoadMissingKeyReturnsErrNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT value FROM process_state").WithArgs("motor:breaker_state").
		WillReturnError(sql.ErrNoRows)

	b := NewStateBackend(db)
	_, err = b.Load(context.Background(), "motor:breaker_state")
	require.ErrorIs(t, err, state.ErrNotFound)
}
