package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoptrade/motorcortex/infrastructure/state"
	"github.com/hoptrade/motorcortex/internal/envelope"
	"github.com/hoptrade/motorcortex/internal/motor/armed"
	"github.com/hoptrade/motorcortex/internal/motor/breaker"
	"github.com/hoptrade/motorcortex/internal/motor/exchange"
	"github.com/hoptrade/motorcortex/internal/motor/shadow"
	"github.com/hoptrade/motorcortex/internal/policy"
	"github.com/hoptrade/motorcortex/internal/ratelimit"
	"github.com/hoptrade/motorcortex/internal/replay"
)

var testSecret = []byte("test-shared-secret")

type recordingPublisher struct {
	rejections []envelope.RejectionEvent
	accepted   []string
}

func (r *recordingPublisher) PublishRejection(ctx context.Context, evt envelope.RejectionEvent) error {
	r.rejections = append(r.rejections, evt)
	return nil
}

func (r *recordingPublisher) PublishAccepted(ctx context.Context, intentID, orderID string) error {
	r.accepted = append(r.accepted, intentID)
	return nil
}

func testPolicyDoc() *policy.Document {
	return &policy.Document{
		Version: "1",
		Symbols: []policy.SymbolLimits{
			{Symbol: "BTC-USD", MaxNotional: "10", MaxLeverage: "5"},
		},
		Breaker: policy.BreakerThresholds{},
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *recordingPublisher) {
	ctx := context.Background()
	backend := state.NewMemoryBackend(0)
	il, err := armed.New(ctx, backend)
	require.NoError(t, err)

	doc := testPolicyDoc()
	hash, err := doc.Hash()
	require.NoError(t, err)

	br, err := breaker.New(ctx, backend, doc.Breaker, il, nil)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	pl := &Pipeline{
		Armed:       il,
		Replay:      replay.NewGuard(time.Hour, nil),
		Policy:      doc,
		PolicyHash:  hash,
		Breaker:     br,
		RateLimiter: ratelimit.New(ratelimit.DefaultConfig()),
		Driver:      exchange.NewPaperDriver(),
		Shadow:      shadow.New(),
		Secret:      testSecret,
		BrainID:     "cortex-1",
		Publisher:   pub,
	}
	return pl, pub
}

func buildSignedIntent(t *testing.T, policyHash string, issuedAt, nonce, term int64, tamper bool) []byte {
	payload := envelope.IntentPayload{
		IntentID:      "75b2-test",
		Symbol:        "BTC-USD",
		Side:          envelope.SideBuy,
		OrderType:     envelope.OrderTypeMarket,
		Quantity:      "1",
		Leverage:      "2",
		PolicyHash:    policyHash,
		BrainInstance: "cortex-1",
		LeaderTerm:    term,
	}
	intent := envelope.Intent{
		IntentPayload: payload,
		IssuedAt:      issuedAt,
		Nonce:         nonce,
		Issuer:        "cortex-1",
	}
	sig, err := envelope.SignIntent(testSecret, intent)
	require.NoError(t, err)
	if tamper {
		sig = sig[:len(sig)-2] + "00"
	}
	intent.Signature = sig

	raw, err := json.Marshal(intent)
	require.NoError(t, err)
	return raw
}

func TestProcess_DisarmedRejectsEveryIntent(t *testing.T) {
	pl, pub := newTestPipeline(t)
	raw := buildSignedIntent(t, pl.PolicyHash, time.Now().UnixMilli(), 1, 1, false)

	_, err := pl.Process(context.Background(), raw)

	require.Error(t, err)
	rerr, ok := envelope.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, envelope.ReasonSystemDisarmed, rerr.Reason)
	require.Len(t, pub.rejections, 1)
	assert.Equal(t, "75b2-test", pub.rejections[0].IntentID)
}

func TestProcess_PolicyMismatchMaskedByDisarm(t *testing.T) {
	pl, pub := newTestPipeline(t)
	raw := buildSignedIntent(t, "wrong-hash-entirely", time.Now().UnixMilli(), 1, 1, false)

	_, err := pl.Process(context.Background(), raw)

	rerr, ok := envelope.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, envelope.ReasonSystemDisarmed, rerr.Reason, "interlock must precede policy hash check")
	assert.Equal(t, envelope.ReasonSystemDisarmed, pub.rejections[0].Reason)
}

func TestProcess_HMACFailAfterArmed(t *testing.T) {
	pl, _ := newTestPipeline(t)
	require.NoError(t, pl.Armed.Arm(context.Background()))
	raw := buildSignedIntent(t, pl.PolicyHash, time.Now().UnixMilli(), 1, 1, true)

	_, err := pl.Process(context.Background(), raw)

	rerr, ok := envelope.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, envelope.ReasonHMACInvalid, rerr.Reason)
	assert.Empty(t, pl.Shadow.Get("BTC-USD").LastSyncedAtMs)
}

func TestProcess_NonceReplayOnResubmission(t *testing.T) {
	pl, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, pl.Armed.Arm(ctx))
	raw := buildSignedIntent(t, pl.PolicyHash, time.Now().UnixMilli(), 42, 1, false)

	_, err := pl.Process(ctx, raw)
	require.NoError(t, err)

	_, err = pl.Process(ctx, raw)
	rerr, ok := envelope.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, envelope.ReasonNonceReplay, rerr.Reason)
}

func TestProcess_AcceptedIntentSubmitsToExchange(t *testing.T) {
	pl, pub := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, pl.Armed.Arm(ctx))
	raw := buildSignedIntent(t, pl.PolicyHash, time.Now().UnixMilli(), 1, 1, false)

	orderID, err := pl.Process(ctx, raw)

	require.NoError(t, err)
	assert.NotEmpty(t, orderID)
	assert.Equal(t, []string{"75b2-test"}, pub.accepted)
}

func TestProcess_TimestampSkewBoundary(t *testing.T) {
	pl, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, pl.Armed.Arm(ctx))
	now := time.Now()
	pl.Now = func() time.Time { return now }

	withinBound := buildSignedIntent(t, pl.PolicyHash, now.Add(-TimestampSkew).UnixMilli(), 1, 1, false)
	_, err := pl.Process(ctx, withinBound)
	require.NoError(t, err)

	beyondBound := buildSignedIntent(t, pl.PolicyHash, now.Add(-TimestampSkew-time.Millisecond).UnixMilli(), 2, 1, false)
	_, err = pl.Process(ctx, beyondBound)
	rerr, ok := envelope.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, envelope.ReasonTimestampSkew, rerr.Reason)
}

func TestProcess_UnknownSymbolRejected(t *testing.T) {
	pl, _ := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, pl.Armed.Arm(ctx))

	payload := envelope.IntentPayload{
		IntentID:      "unknown-symbol-1",
		Symbol:        "DOGE-USD",
		Side:          envelope.SideBuy,
		OrderType:     envelope.OrderTypeMarket,
		Quantity:      "1",
		PolicyHash:    pl.PolicyHash,
		BrainInstance: "cortex-1",
		LeaderTerm:    1,
	}
	intent := envelope.Intent{IntentPayload: payload, IssuedAt: time.Now().UnixMilli(), Nonce: 1, Issuer: "cortex-1"}
	sig, err := envelope.SignIntent(testSecret, intent)
	require.NoError(t, err)
	intent.Signature = sig
	raw, err := json.Marshal(intent)
	require.NoError(t, err)

	_, err = pl.Process(ctx, raw)
	rerr, ok := envelope.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, envelope.ReasonUnknownSymbol, rerr.Reason)
}
