// Package policy loads the canonical risk-parameter document and computes
// its deterministic hash for cross-process parity between Motor and
// Cortex, per spec §3/§4.B. The document is authored as YAML
// (gopkg.in/yaml.v3, matching the teacher's config-loading convention) and
// hashed over its canonical JSON serialization with sorted keys.
package policy

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hoptrade/motorcortex/internal/envelope"
)

// SymbolLimits bounds one symbol's trading parameters.
type SymbolLimits struct {
	Symbol        string `yaml:"symbol" json:"symbol"`
	MaxNotional   string `yaml:"max_notional" json:"max_notional"`
	MaxLeverage   string `yaml:"max_leverage" json:"max_leverage"`
	DriftTolerance string `yaml:"drift_tolerance" json:"drift_tolerance"`
}

// BreakerThresholds configures the four-state circuit breaker's entry
// conditions (spec §4.F).
type BreakerThresholds struct {
	DailyLossWarn      string `yaml:"daily_loss_warn" json:"daily_loss_warn"`
	DailyLossHalt       string `yaml:"daily_loss_halt" json:"daily_loss_halt"`
	DailyLossEmergency string `yaml:"daily_loss_emergency" json:"daily_loss_emergency"`
	ConsecutiveLosses  int    `yaml:"consecutive_losses" json:"consecutive_losses"`
	ElevatedRejectRate string `yaml:"elevated_reject_rate" json:"elevated_reject_rate"`
}

// Document is the canonical policy: symbol whitelist with per-symbol
// limits, per-strategy daily loss caps, and breaker thresholds.
type Document struct {
	Version            string            `yaml:"version" json:"version"`
	Symbols            []SymbolLimits    `yaml:"symbols" json:"symbols"`
	StrategyDailyLossCap map[string]string `yaml:"strategy_daily_loss_cap" json:"strategy_daily_loss_cap"`
	Breaker            BreakerThresholds `yaml:"breaker" json:"breaker"`
}

// CanonicalJSON returns the sorted-key JSON encoding used for hashing.
func (d Document) CanonicalJSON() ([]byte, error) {
	return envelope.Canonical(d)
}

// Hash returns the hex-encoded SHA-256 digest of the document's canonical
// JSON serialization (spec §3: "Hash is over the canonical JSON
// serialization with sorted keys").
func (d Document) Hash() (string, error) {
	canonical, err := d.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return envelope.HashPolicy(canonical), nil
}

// SymbolAllowed reports whether symbol is in the whitelist.
func (d Document) SymbolAllowed(symbol string) bool {
	for _, s := range d.Symbols {
		if s.Symbol == symbol {
			return true
		}
	}
	return false
}

// Limits returns the SymbolLimits for symbol, or false if not whitelisted.
func (d Document) Limits(symbol string) (SymbolLimits, bool) {
	for _, s := range d.Symbols {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return SymbolLimits{}, false
}

// Load reads and parses a Document from a YAML file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
