package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckNonce_MonotonicPerIssuer(t *testing.T) {
	g := NewGuard(time.Hour, nil)

	assert.True(t, g.CheckNonce("issuer-a", 42))
	assert.False(t, g.CheckNonce("issuer-a", 42), "equal nonce must be rejected")
	assert.False(t, g.CheckNonce("issuer-a", 41), "lower nonce must be rejected")
	assert.True(t, g.CheckNonce("issuer-a", 43))

	assert.True(t, g.CheckNonce("issuer-b", 1), "different issuer has independent nonce space")
}

func TestCheckTerm_EqualAcceptedLowerRejected(t *testing.T) {
	g := NewGuard(time.Hour, nil)

	assert.True(t, g.CheckTerm("brain-1", 5))
	assert.True(t, g.CheckTerm("brain-1", 5), "equal term must be accepted")
	assert.False(t, g.CheckTerm("brain-1", 4), "lower term must be rejected")
	assert.True(t, g.CheckTerm("brain-1", 6))
}
