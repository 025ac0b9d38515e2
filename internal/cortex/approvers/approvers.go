// Package approvers implements the concrete links in the Cortex's signal
// approval chain (spec §4.I): symbol whitelist, active-strategy set, and a
// generic opaque wrapper for the exposure/oracle/flow-validator/regime
// checks the spec treats as black-box yes/no verdicts out of this
// module's scope.
package approvers

import (
	"context"

	"github.com/hoptrade/motorcortex/internal/envelope"
	"github.com/hoptrade/motorcortex/internal/policy"
)

// SymbolWhitelist rejects signals for a symbol absent from the policy
// document.
type SymbolWhitelist struct {
	Policy *policy.Document
}

func (a *SymbolWhitelist) Approve(ctx context.Context, signal envelope.SignalEvent) (bool, string, error) {
	if a.Policy.SymbolAllowed(signal.Symbol) {
		return true, "", nil
	}
	return false, "symbol not on whitelist", nil
}

// ActiveStrategies rejects signals from a strategy not currently enabled.
// The set is a plain map so an operator toggling a strategy off takes
// effect on the next signal with no restart (spec §4.I: "strategy active").
type ActiveStrategies struct {
	active map[string]bool
}

// NewActiveStrategies builds an ActiveStrategies approver from an initial
// enabled set.
func NewActiveStrategies(enabled ...string) *ActiveStrategies {
	m := make(map[string]bool, len(enabled))
	for _, s := range enabled {
		m[s] = true
	}
	return &ActiveStrategies{active: m}
}

func (a *ActiveStrategies) Approve(ctx context.Context, signal envelope.SignalEvent) (bool, string, error) {
	if a.active[signal.Strategy] {
		return true, "", nil
	}
	return false, "strategy not active", nil
}

// SetActive enables or disables a strategy at runtime.
func (a *ActiveStrategies) SetActive(strategy string, enabled bool) {
	a.active[strategy] = enabled
}

// Opaque wraps a verdict function behind a named Approver, used for the
// portfolio-exposure, oracle/flow-validator, and regime checks spec §4.I
// treats as opaque yes/no inputs this module does not itself compute.
type Opaque struct {
	Name  string
	Check func(ctx context.Context, signal envelope.SignalEvent) (bool, error)
}

func (a *Opaque) Approve(ctx context.Context, signal envelope.SignalEvent) (bool, string, error) {
	ok, err := a.Check(ctx, signal)
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}
	return false, a.Name + " denied", nil
}

// AlwaysApprove is the default Opaque check for a seam that has nothing
// wired to it yet: it approves unconditionally rather than silently
// blocking every signal.
func AlwaysApprove(ctx context.Context, signal envelope.SignalEvent) (bool, error) {
	return true, nil
}
