package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoptrade/motorcortex/internal/motor/drift"
	"github.com/hoptrade/motorcortex/internal/motor/exchange"
	"github.com/hoptrade/motorcortex/internal/motor/shadow"
	"github.com/hoptrade/motorcortex/internal/policy"
)

type stubPublisher struct {
	calls int
}

func (s *stubPublisher) PublishDrift(ctx context.Context, symbol, shadowValue, exchangeValue string) error {
	s.calls++
	return nil
}

func testPolicy() *policy.Document {
	return &policy.Document{
		Symbols: []policy.SymbolLimits{
			{Symbol: "BTC-USD", DriftTolerance: "0.01"},
		},
	}
}

func TestTick_WithinToleranceDoesNotPublishOrReplace(t *testing.T) {
	driver := exchange.NewPaperDriver()
	driver.SetPosition(exchange.Position{Symbol: "BTC-USD", Size: "1.000"})
	store := shadow.New()
	store.Replace("BTC-USD", shadow.Position{Symbol: "BTC-USD", Size: "1.005"})
	pub := &stubPublisher{}

	r := New(driver, store, nil, pub, testPolicy(), nil)
	require.NoError(t, r.Tick(context.Background()))

	assert.Equal(t, 0, pub.calls)
	assert.Equal(t, "1.005", store.Get("BTC-USD").Size)
}

func TestTick_BeyondToleranceReplacesWithExchangeValue(t *testing.T) {
	driver := exchange.NewPaperDriver()
	driver.SetPosition(exchange.Position{Symbol: "BTC-USD", Size: "2.000"})
	store := shadow.New()
	store.Replace("BTC-USD", shadow.Position{Symbol: "BTC-USD", Size: "1.000"})
	pub := &stubPublisher{}

	r := New(driver, store, nil, pub, testPolicy(), nil)
	require.NoError(t, r.Tick(context.Background()))

	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, "2.000", store.Get("BTC-USD").Size, "exchange is truth")
}

func TestTick_DivergenceFeedsDriftDetector(t *testing.T) {
	driver := exchange.NewPaperDriver()
	driver.SetPosition(exchange.Position{Symbol: "BTC-USD", Size: "5.000"})
	store := shadow.New()
	store.Replace("BTC-USD", shadow.Position{Symbol: "BTC-USD", Size: "1.000"})

	escalated := false
	detector := drift.New(drift.Thresholds{SoftMagnitude: 1.0}, escalatorFunc(func(symbol string, magnitude float64) {
		escalated = true
	}))

	r := New(driver, store, detector, &stubPublisher{}, testPolicy(), nil)
	require.NoError(t, r.Tick(context.Background()))

	assert.True(t, escalated)
}

type escalatorFunc func(symbol string, magnitude float64)

func (f escalatorFunc) EscalateToDefensive(symbol string, magnitude float64) { f(symbol, magnitude) }
