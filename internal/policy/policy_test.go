package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
version: "1"
symbols:
  - symbol: BTC-USD
    max_notional: "100000"
    max_leverage: "5"
    drift_tolerance: "0.01"
strategy_daily_loss_cap:
  momentum: "5000"
breaker:
  daily_loss_warn: "1000"
  daily_loss_halt: "5000"
  daily_loss_emergency: "10000"
  consecutive_losses: 5
  elevated_reject_rate: "0.2"
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoad_AndHashStable(t *testing.T) {
	path := writeSample(t)

	doc, err := Load(path)
	require.NoError(t, err)
	assert.True(t, doc.SymbolAllowed("BTC-USD"))
	assert.False(t, doc.SymbolAllowed("ETH-USD"))

	h1, err := doc.Hash()
	require.NoError(t, err)
	h2, err := doc.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	reloaded, err := Load(path)
	require.NoError(t, err)
	h3, err := reloaded.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h3, "hash must be stable across independent loads")
}

func TestHashGate_MatchAndMismatch(t *testing.T) {
	var lastExpected, lastGot string
	alarms := 0
	gate := NewHashGate("hash-a", func(expected, got string) {
		alarms++
		lastExpected, lastGot = expected, got
	})

	assert.False(t, gate.ReadyToEmit())

	gate.observe("hash-b")
	assert.False(t, gate.ReadyToEmit())
	assert.Equal(t, 1, alarms)
	assert.Equal(t, "hash-a", lastExpected)
	assert.Equal(t, "hash-b", lastGot)

	gate.observe("hash-a")
	assert.True(t, gate.ReadyToEmit())
}
