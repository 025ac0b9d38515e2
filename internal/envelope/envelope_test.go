package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_SortsKeysAndIsStable(t *testing.T) {
	payload := IntentPayload{
		IntentID:   "75b2",
		Symbol:     "BTC-USD",
		Side:       SideBuy,
		OrderType:  OrderTypeMarket,
		Quantity:   "1.5",
		PolicyHash: "abc123",
		LeaderTerm: 7,
	}

	first, err := payload.CanonicalJSON()
	require.NoError(t, err)
	second, err := payload.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(first, &decoded))
	assert.Equal(t, "75b2", decoded["intent_id"])
}

func TestCanonicalJSON_RoundTrip(t *testing.T) {
	intent := Intent{
		IntentPayload: IntentPayload{
			IntentID:   "abc",
			Symbol:     "ETH-USD",
			Side:       SideSell,
			OrderType:  OrderTypeLimit,
			Quantity:   "2",
			LimitPrice: "3000.50",
			PolicyHash: "deadbeef",
			LeaderTerm: 1,
		},
		IssuedAt: 1000,
		Nonce:    1,
		Issuer:   "brain-1",
	}

	encoded, err := intent.CanonicalJSON()
	require.NoError(t, err)

	var decoded Intent
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, intent, decoded)
}

func TestSignIntent_VerifyRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	intent := Intent{
		IntentPayload: IntentPayload{
			IntentID:   "abc",
			Symbol:     "ETH-USD",
			Side:       SideSell,
			OrderType:  OrderTypeLimit,
			Quantity:   "2",
			PolicyHash: "deadbeef",
			LeaderTerm: 1,
		},
		IssuedAt: 1000,
		Nonce:    1,
		Issuer:   "brain-1",
	}

	sig, err := SignIntent(secret, intent)
	require.NoError(t, err)
	intent.Signature = sig

	ok, err := VerifyIntent(secret, intent)
	require.NoError(t, err)
	assert.True(t, ok)

	intent.Quantity = "3"
	ok, err = VerifyIntent(secret, intent)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyOperatorCommand(t *testing.T) {
	secret := []byte("operator-secret-key-000000000000")
	cmd := OperatorCommand{
		CommandID: "cmd-1",
		ActorID:   "operator-1",
		Action:    ActionArm,
		Timestamp: 1700000000000,
	}
	cmd.Signature = SignOperatorCommand(secret, cmd)
	assert.True(t, VerifyOperatorCommand(secret, cmd))

	cmd.Action = ActionDisarm
	assert.False(t, VerifyOperatorCommand(secret, cmd))
}

func TestReasonTransient(t *testing.T) {
	assert.True(t, ReasonRateLimited.Transient())
	assert.False(t, ReasonSystemDisarmed.Transient())
}
