package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperDriver_SubmitOrderIsIdempotentOnKey(t *testing.T) {
	d := NewPaperDriver()
	ctx := context.Background()
	req := OrderRequest{IdempotencyKey: "intent-1", Symbol: "BTC-USD", Side: "buy", Quantity: "0.1"}

	first, err := d.SubmitOrder(ctx, req)
	require.NoError(t, err)

	second, err := d.SubmitOrder(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID, "resubmission with the same idempotency key must not create a second order")
}

func TestPaperDriver_DistinctKeysCreateDistinctOrders(t *testing.T) {
	d := NewPaperDriver()
	ctx := context.Background()

	a, err := d.SubmitOrder(ctx, OrderRequest{IdempotencyKey: "intent-1"})
	require.NoError(t, err)
	b, err := d.SubmitOrder(ctx, OrderRequest{IdempotencyKey: "intent-2"})
	require.NoError(t, err)

	assert.NotEqual(t, a.OrderID, b.OrderID)
}

func TestPaperDriver_FetchPositionsReportsSeeded(t *testing.T) {
	d := NewPaperDriver()
	d.SetPosition(Position{Symbol: "ETH-USD", Size: "2.5"})

	positions, err := d.FetchPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "ETH-USD", positions[0].Symbol)
}

func TestSubmitError_RetryableClassification(t *testing.T) {
	retryable := &SubmitError{Class: ClassRetryable, Err: assert.AnError}
	fatal := &SubmitError{Class: ClassFatal, Err: assert.AnError}

	assert.True(t, retryable.Retryable())
	assert.False(t, fatal.Retryable())
}
