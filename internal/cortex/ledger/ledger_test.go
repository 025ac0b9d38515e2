package ledger

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/hoptrade/motorcortex/internal/envelope"
)

func testFill() envelope.FillEvent {
	return envelope.FillEvent{
		FillID:    "fill-X",
		IntentID:  "intent-1",
		OrderID:   "order-1",
		Symbol:    "BTC-USD",
		Side:      envelope.SideBuy,
		FilledQty: "0.5",
		FillPrice: "60000",
		FilledAt:  1700000000000,
		AccountID: "acct-1",
	}
}

func TestProcessFill_InsertsFillAndBothLedgerEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("fill-X").WillReturnRows(
		sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO fills").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	l := New(db)
	require.NoError(t, l.ProcessFill(context.Background(), testFill()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessFill_DuplicateFillIDIsIdempotentSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("fill-X").WillReturnRows(
		sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	l := New(db)
	require.NoError(t, l.ProcessFill(context.Background(), testFill()))
	require.NoError(t, mock.ExpectationsWereMet(), "duplicate fill must not attempt any insert")
}

func TestPostingLegs_BuySideDebitsBaseCreditsQuote(t *testing.T) {
	debit, credit, debitAmt, creditAmt := postingLegs(testFill())
	require.Equal(t, "BTC", debit)
	require.Equal(t, "USD", credit)
	require.Equal(t, "0.5", debitAmt)
	require.Equal(t, "30000", creditAmt)
}

func TestPostingLegs_SellSideIsMirrored(t *testing.T) {
	fill := testFill()
	fill.Side = envelope.SideSell

	debit, credit, _, _ := postingLegs(fill)
	require.Equal(t, "USD", debit)
	require.Equal(t, "BTC", credit)
}
