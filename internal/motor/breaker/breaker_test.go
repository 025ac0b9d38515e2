package breaker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoptrade/motorcortex/infrastructure/state"
	"github.com/hoptrade/motorcortex/internal/motor/armed"
	"github.com/hoptrade/motorcortex/internal/policy"
)

type stubFlattener struct{ calls int }

func (s *stubFlattener) FlattenAll(ctx context.Context) error {
	s.calls++
	return nil
}

func thresholds() policy.BreakerThresholds {
	return policy.BreakerThresholds{
		DailyLossWarn:      "0.02",
		DailyLossHalt:      "0.05",
		DailyLossEmergency: "0.10",
		ConsecutiveLosses:  3,
		ElevatedRejectRate: "0.25",
	}
}

func newTestBreaker(t *testing.T) (*Breaker, *armed.Interlock, *stubFlattener) {
	ctx := context.Background()
	backend := state.NewMemoryBackend(0)
	il, err := armed.New(ctx, backend)
	require.NoError(t, err)
	require.NoError(t, il.Arm(ctx))

	flat := &stubFlattener{}
	b, err := New(ctx, backend, thresholds(), il, flat)
	require.NoError(t, err)
	return b, il, flat
}

func TestEvaluate_EscalatesToCautiousOnWarnThreshold(t *testing.T) {
	b, _, _ := newTestBreaker(t)
	ctx := context.Background()

	require.NoError(t, b.Evaluate(ctx, Signals{DailyLossPct: "0.03"}))
	assert.Equal(t, Cautious, b.Current())
	assert.Equal(t, 0.5, SizeMultiplier(b.Current()))
	assert.True(t, PlacementAllowed(b.Current()))
}

func TestEvaluate_IsMonotonic_NeverAutoDeescalates(t *testing.T) {
	b, _, _ := newTestBreaker(t)
	ctx := context.Background()

	require.NoError(t, b.Evaluate(ctx, Signals{DailyLossPct: "0.06"}))
	assert.Equal(t, Defensive, b.Current())

	require.NoError(t, b.Evaluate(ctx, Signals{DailyLossPct: "0.0"}))
	assert.Equal(t, Defensive, b.Current(), "improved signal must not de-escalate automatically")
}

func TestEvaluate_EmergencyFlattensAndDisarms(t *testing.T) {
	b, il, flat := newTestBreaker(t)
	ctx := context.Background()

	require.NoError(t, b.Evaluate(ctx, Signals{DailyLossPct: "0.12"}))
	assert.Equal(t, Emergency, b.Current())
	assert.False(t, PlacementAllowed(b.Current()))
	assert.Equal(t, 1, flat.calls)
	assert.False(t, il.IsArmed())
}

func TestReset_IsOnlyDeescalationPath(t *testing.T) {
	b, _, _ := newTestBreaker(t)
	ctx := context.Background()

	require.NoError(t, b.Evaluate(ctx, Signals{DailyLossPct: "0.06"}))
	assert.Equal(t, Defensive, b.Current())

	require.NoError(t, b.Reset(ctx, Normal))
	assert.Equal(t, Normal, b.Current())
}

func TestEvaluate_DriftDetectedForcesDefensive(t *testing.T) {
	b, _, _ := newTestBreaker(t)
	ctx := context.Background()

	require.NoError(t, b.Evaluate(ctx, Signals{DriftDetected: true}))
	assert.Equal(t, Defensive, b.Current())
}
