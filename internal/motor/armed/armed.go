// Package armed implements the Armed State interlock from spec §3/§4.E
// step 1: a durable tri-state (DISARMED, ARMED, HALTED) that gates every
// order placement, defaulting closed. Transitions persist to a durable
// store before the caller is acknowledged, using the teacher's
// infrastructure/state.PersistenceBackend (Save/Load) so a restart
// never silently re-arms.
package armed

import (
	"context"
	"fmt"
	"sync"

	"github.com/hoptrade/motorcortex/infrastructure/state"
)

// State is the armed-state value.
type State string

const (
	Disarmed State = "DISARMED"
	Armed    State = "ARMED"
	Halted   State = "HALTED"
)

const stateKey = "motor:armed_state"

// Interlock is the process-wide armed-state gate. Exactly one instance
// exists per Motor process; the pipeline's first step reads Current()
// with zero parsing of the intent beyond its id (spec §4.E step 1).
type Interlock struct {
	mu      sync.RWMutex
	backend state.PersistenceBackend
	current State
}

// New loads the persisted armed state (defaulting to Disarmed if none was
// ever written) and returns an Interlock.
func New(ctx context.Context, backend state.PersistenceBackend) (*Interlock, error) {
	i := &Interlock{backend: backend, current: Disarmed}

	data, err := backend.Load(ctx, stateKey)
	if err == state.ErrNotFound {
		return i, nil
	}
	if err != nil {
		return nil, fmt.Errorf("armed: load persisted state: %w", err)
	}
	i.current = State(data)
	return i, nil
}

// Current returns the armed state without blocking on I/O.
func (i *Interlock) Current() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.current
}

// Transition moves the interlock to `to`, persisting before returning.
// Writing the same value twice is a no-op that still succeeds (spec §8
// idempotence: "armed_state written twice to the same value is a no-op").
func (i *Interlock) Transition(ctx context.Context, to State) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.current == to {
		return nil
	}

	if err := i.backend.Save(ctx, stateKey, []byte(to)); err != nil {
		return fmt.Errorf("armed: persist transition: %w", err)
	}
	i.current = to
	return nil
}

// Arm transitions to ARMED.
func (i *Interlock) Arm(ctx context.Context) error { return i.Transition(ctx, Armed) }

// Disarm transitions to DISARMED.
func (i *Interlock) Disarm(ctx context.Context) error { return i.Transition(ctx, Disarmed) }

// Halt transitions to HALTED. Per spec §4.F/§5, HALT is authoritative; it
// is used by the operator's halt command. The breaker's EMERGENCY entry
// calls Disarm, not Halt.
func (i *Interlock) Halt(ctx context.Context) error { return i.Transition(ctx, Halted) }

// IsArmed reports whether the interlock currently permits placement.
func (i *Interlock) IsArmed() bool {
	return i.Current() == Armed
}
