package approvers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoptrade/motorcortex/internal/envelope"
	"github.com/hoptrade/motorcortex/internal/policy"
)

func testPolicy() *policy.Document {
	return &policy.Document{Symbols: []policy.SymbolLimits{{Symbol: "BTC-USD"}}}
}

func TestSymbolWhitelist_RejectsUnknownSymbol(t *testing.T) {
	a := &SymbolWhitelist{Policy: testPolicy()}
	ok, reason, err := a.Approve(context.Background(), envelope.SignalEvent{Symbol: "DOGE-USD"})
	require.NoError(t, err)
	require.False(t, ok)
	require.NotEmpty(t, reason)
}

func TestSymbolWhitelist_ApprovesListedSymbol(t *testing.T) {
	a := &SymbolWhitelist{Policy: testPolicy()}
	ok, _, err := a.Approve(context.Background(), envelope.SignalEvent{Symbol: "BTC-USD"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestActiveStrategies_RejectsDisabledStrategy(t *testing.T) {
	a := NewActiveStrategies("momentum")
	ok, _, err := a.Approve(context.Background(), envelope.SignalEvent{Strategy: "mean_reversion"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestActiveStrategies_SetActiveTakesEffectImmediately(t *testing.T) {
	a := NewActiveStrategies()
	ok, _, _ := a.Approve(context.Background(), envelope.SignalEvent{Strategy: "momentum"})
	require.False(t, ok)

	a.SetActive("momentum", true)
	ok, _, _ = a.Approve(context.Background(), envelope.SignalEvent{Strategy: "momentum"})
	require.True(t, ok)
}

func TestOpaque_PropagatesDenialReason(t *testing.T) {
	a := &Opaque{Name: "regime", Check: func(ctx context.Context, s envelope.SignalEvent) (bool, error) { return false, nil }}
	ok, reason, err := a.Approve(context.Background(), envelope.SignalEvent{})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "regime denied", reason)
}

func TestAlwaysApprove_NeverBlocks(t *testing.T) {
	ok, err := AlwaysApprove(context.Background(), envelope.SignalEvent{})
	require.NoError(t, err)
	require.True(t, ok)
}
