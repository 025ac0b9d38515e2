// Package breaker implements the four-state circuit breaker from spec
// §4.F: NORMAL, CAUTIOUS, DEFENSIVE, EMERGENCY, each with a placement
// permission and a position-sizing multiplier. Escalation is automatic and
// monotonic; de-escalation only ever happens through an explicit operator
// Reset. Entering EMERGENCY triggers a best-effort flatten of every open
// position and drives the armed interlock to DISARMED. State is persisted
// the same way the armed interlock persists its state, via
// infrastructure/state.PersistenceBackend, so a restart resumes at the
// last-known severity rather than silently re-opening at NORMAL.
package breaker

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/hoptrade/motorcortex/infrastructure/state"
	"github.com/hoptrade/motorcortex/internal/motor/armed"
	"github.com/hoptrade/motorcortex/internal/policy"
)

// State is the breaker's current severity.
type State string

const (
	Normal    State = "NORMAL"
	Cautious  State = "CAUTIOUS"
	Defensive State = "DEFENSIVE"
	Emergency State = "EMERGENCY"
)

const stateKey = "motor:breaker_state"

var rank = map[State]int{
	Normal:    0,
	Cautious:  1,
	Defensive: 2,
	Emergency: 3,
}

// PlacementAllowed reports whether new orders may be placed while in s.
func PlacementAllowed(s State) bool {
	return s == Normal || s == Cautious
}

// SizeMultiplier returns the position-sizing multiplier applied to new
// orders while in s.
func SizeMultiplier(s State) float64 {
	switch s {
	case Normal:
		return 1.0
	case Cautious:
		return 0.5
	default:
		return 0.0
	}
}

// Flattener performs a best-effort close of every open position, used on
// EMERGENCY entry. Implementations place market orders sized off current
// shadow-state per symbol (spec §9 open question: market chosen over
// aggressive-limit, with a small notional cap per order left to the
// flattener's own implementation).
type Flattener interface {
	FlattenAll(ctx context.Context) error
}

// Signals is one reconciliation tick's worth of inputs to Evaluate.
type Signals struct {
	DailyLossPct       string
	ConsecutiveLosses  int
	RejectRatePct      string
	DriftDetected      bool
}

// Breaker tracks severity and enforces monotonic escalation.
type Breaker struct {
	mu         sync.RWMutex
	backend    state.PersistenceBackend
	current    State
	thresholds policy.BreakerThresholds
	armedGate  *armed.Interlock
	flattener  Flattener

	// OnTransition, if set, is invoked after every persisted state change
	// (from, to) including Reset de-escalations. Used to feed the
	// breaker-transition counter and state gauge; nil is a valid no-op.
	OnTransition func(from, to State)
}

// New loads any persisted breaker state (defaulting to NORMAL) and
// returns a Breaker wired to armedGate and flattener for EMERGENCY entry.
func New(ctx context.Context, backend state.PersistenceBackend, thresholds policy.BreakerThresholds, armedGate *armed.Interlock, flattener Flattener) (*Breaker, error) {
	b := &Breaker{
		backend:    backend,
		current:    Normal,
		thresholds: thresholds,
		armedGate:  armedGate,
		flattener:  flattener,
	}
	data, err := backend.Load(ctx, stateKey)
	if err == state.ErrNotFound {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("breaker: load persisted state: %w", err)
	}
	b.current = State(data)
	return b, nil
}

// Current returns the breaker's current severity.
func (b *Breaker) Current() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Evaluate computes the target severity implied by sig against the
// configured thresholds and escalates if the target outranks the current
// state. It never de-escalates; only Reset does that.
func (b *Breaker) Evaluate(ctx context.Context, sig Signals) error {
	target := b.targetState(sig)

	b.mu.RLock()
	shouldEscalate := rank[target] > rank[b.current]
	b.mu.RUnlock()
	if !shouldEscalate {
		return nil
	}
	return b.transition(ctx, target)
}

// EscalateToDefensive satisfies internal/motor/drift.Escalator: a
// persistent drift finding on any symbol forces at least DEFENSIVE,
// regardless of loss thresholds. Context is backgrounded since the Drift
// Detector calls this synchronously from its own classification path.
func (b *Breaker) EscalateToDefensive(symbol string, magnitude float64) {
	_ = b.Evaluate(context.Background(), Signals{DriftDetected: true})
}

func (b *Breaker) targetState(sig Signals) State {
	if crossesThreshold(sig.DailyLossPct, b.thresholds.DailyLossEmergency) {
		return Emergency
	}
	if crossesThreshold(sig.DailyLossPct, b.thresholds.DailyLossHalt) || sig.DriftDetected {
		return Defensive
	}
	if crossesThreshold(sig.DailyLossPct, b.thresholds.DailyLossWarn) ||
		(b.thresholds.ConsecutiveLosses > 0 && sig.ConsecutiveLosses >= b.thresholds.ConsecutiveLosses) ||
		crossesThreshold(sig.RejectRatePct, b.thresholds.ElevatedRejectRate) {
		return Cautious
	}
	return Normal
}

// crossesThreshold reports whether value (a decimal string) meets or
// exceeds limit. An unset or unparseable limit never trips.
func crossesThreshold(value, limit string) bool {
	if limit == "" {
		return false
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false
	}
	l, err := strconv.ParseFloat(limit, 64)
	if err != nil {
		return false
	}
	return v >= l
}

// Reset is the only path by which severity may decrease; it requires an
// explicit operator command upstream (spec §4.F: "de-escalation requires
// an explicit operator command").
func (b *Breaker) Reset(ctx context.Context, to State) error {
	if _, ok := rank[to]; !ok {
		return fmt.Errorf("breaker: unknown target state %q", to)
	}
	return b.persist(ctx, to)
}

func (b *Breaker) transition(ctx context.Context, to State) error {
	if err := b.persist(ctx, to); err != nil {
		return err
	}
	if to == Emergency {
		var flattenErr error
		if b.flattener != nil {
			if err := b.flattener.FlattenAll(ctx); err != nil {
				flattenErr = fmt.Errorf("breaker: flatten-all on emergency entry: %w", err)
			}
		}
		if b.armedGate != nil {
			if err := b.armedGate.Disarm(ctx); err != nil {
				return fmt.Errorf("breaker: disarm on emergency entry: %w", err)
			}
		}
		return flattenErr
	}
	return nil
}

func (b *Breaker) persist(ctx context.Context, to State) error {
	b.mu.Lock()
	if b.current == to {
		b.mu.Unlock()
		return nil
	}
	if err := b.backend.Save(ctx, stateKey, []byte(to)); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("breaker: persist transition: %w", err)
	}
	from := b.current
	b.current = to
	b.mu.Unlock()

	if b.OnTransition != nil {
		b.OnTransition(from, to)
	}
	return nil
}
