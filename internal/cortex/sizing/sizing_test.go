package sizing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoptrade/motorcortex/internal/envelope"
	"github.com/hoptrade/motorcortex/internal/policy"
)

func TestFixedFraction_SizesAsFractionOfMaxNotional(t *testing.T) {
	doc := &policy.Document{Symbols: []policy.SymbolLimits{{Symbol: "BTC-USD", MaxNotional: "1000"}}}
	s := &FixedFraction{Policy: doc, Fraction: 0.1}

	qty, err := s.Size(context.Background(), envelope.SignalEvent{Symbol: "BTC-USD"})
	require.NoError(t, err)
	require.Equal(t, "100", qty)
}

func TestFixedFraction_RejectsUnknownSymbol(t *testing.T) {
	doc := &policy.Document{}
	s := &FixedFraction{Policy: doc}
	_, err := s.Size(context.Background(), envelope.SignalEvent{Symbol: "DOGE-USD"})
	require.Error(t, err)
}
