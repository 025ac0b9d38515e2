package signalgate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoptrade/motorcortex/internal/envelope"
)

type fixedSizer struct{ qty string }

func (f fixedSizer) Size(ctx context.Context, signal envelope.SignalEvent) (string, error) {
	return f.qty, nil
}

type allowAll struct{}

func (allowAll) Approve(ctx context.Context, signal envelope.SignalEvent) (bool, string, error) {
	return true, "", nil
}

type denyWithReason struct{ reason string }

func (d denyWithReason) Approve(ctx context.Context, signal envelope.SignalEvent) (bool, string, error) {
	return false, d.reason, nil
}

type fixedTerm struct{ term int64 }

func (f fixedTerm) Term() int64 { return f.term }

type capturingPublisher struct {
	intents []envelope.Intent
}

func (c *capturingPublisher) PublishIntent(ctx context.Context, intent envelope.Intent) error {
	c.intents = append(c.intents, intent)
	return nil
}

func testSignal() envelope.SignalEvent {
	return envelope.SignalEvent{
		SignalID: "sig-1",
		Phase:    "entry",
		Symbol:   "BTC-USD",
		Strategy: "fractal-break",
		Side:     envelope.SideBuy,
		IssuedAt: time.Now().UnixMilli(),
	}
}

func TestHandle_ApprovedSignalPublishesSignedIntent(t *testing.T) {
	pub := &capturingPublisher{}
	gate := New(Config{
		DedupTTL:   time.Minute,
		Approvers:  []Approver{allowAll{}},
		Sizer:      fixedSizer{qty: "0.5"},
		PolicyHash: "abc123",
		Secret:     []byte("secret"),
		Issuer:     "cortex-1",
		BrainID:    "cortex-1",
		LeaderTerm: fixedTerm{term: 4},
		Publisher:  pub,
	})

	published, reason, err := gate.Handle(context.Background(), testSignal())

	require.NoError(t, err)
	assert.True(t, published)
	assert.Empty(t, reason)
	require.Len(t, pub.intents, 1)
	assert.Equal(t, "0.5", pub.intents[0].Quantity)
	assert.Equal(t, int64(4), pub.intents[0].LeaderTerm)
	assert.NotEmpty(t, pub.intents[0].Signature)
}

func TestHandle_DuplicateSignalIDIsNoOp(t *testing.T) {
	pub := &capturingPublisher{}
	gate := New(Config{
		DedupTTL:  time.Minute,
		Approvers: []Approver{allowAll{}},
		Sizer:     fixedSizer{qty: "1"},
		Publisher: pub,
	})
	ctx := context.Background()
	sig := testSignal()

	_, _, err := gate.Handle(ctx, sig)
	require.NoError(t, err)

	published, reason, err := gate.Handle(ctx, sig)
	require.NoError(t, err)
	assert.False(t, published)
	assert.Equal(t, "duplicate signal_id", reason)
	assert.Len(t, pub.intents, 1, "second handling must not publish again")
}

func TestHandle_DeniedByApproverNeverPublishes(t *testing.T) {
	pub := &capturingPublisher{}
	gate := New(Config{
		DedupTTL:  time.Minute,
		Approvers: []Approver{allowAll{}, denyWithReason{reason: "portfolio exposure exceeded"}},
		Sizer:     fixedSizer{qty: "1"},
		Publisher: pub,
	})

	published, reason, err := gate.Handle(context.Background(), testSignal())

	require.NoError(t, err)
	assert.False(t, published)
	assert.Equal(t, "portfolio exposure exceeded", reason)
	assert.Empty(t, pub.intents)
}

func TestHandle_NonceIsMonotonicallyIncreasing(t *testing.T) {
	pub := &capturingPublisher{}
	gate := New(Config{
		DedupTTL:  time.Minute,
		Approvers: []Approver{allowAll{}},
		Sizer:     fixedSizer{qty: "1"},
		Publisher: pub,
	})
	ctx := context.Background()

	first := testSignal()
	second := testSignal()
	second.SignalID = "sig-2"

	_, _, err := gate.Handle(ctx, first)
	require.NoError(t, err)
	_, _, err = gate.Handle(ctx, second)
	require.NoError(t, err)

	require.Len(t, pub.intents, 2)
	assert.Less(t, pub.intents[0].Nonce, pub.intents[1].Nonce)
}
