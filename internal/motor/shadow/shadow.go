// Package shadow holds the Motor's local belief about each (account,
// symbol) position (spec §3, §4.G). It is updated from three sources —
// order acknowledgement, fill event, and reconciliation pull — and each
// update carries a version_counter; concurrent updates to the same symbol
// are serialized by a per-symbol lock so the three sources never race.
package shadow

import (
	"sync"
)

// Position is the Motor's local (account, symbol) record.
type Position struct {
	Symbol         string
	AccountID      string
	Size           string
	AvgEntryPrice  string
	UnrealizedPnL  string
	RealizedPnL    string
	StopLoss       string
	TakeProfit     string
	LastSyncedAtMs int64
	VersionCounter int64
}

type entry struct {
	mu       sync.Mutex
	position Position
}

// Store is the per-process table of shadow positions, keyed by symbol and
// serialized per symbol so order-ack, fill, and reconciliation updates to
// the same symbol never interleave.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) entryFor(symbol string) *entry {
	s.mu.RLock()
	e, ok := s.entries[symbol]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[symbol]; ok {
		return e
	}
	e = &entry{position: Position{Symbol: symbol}}
	s.entries[symbol] = e
	return e
}

// Get returns the current position for symbol, or the zero value if none
// has ever been recorded.
func (s *Store) Get(symbol string) Position {
	e := s.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// Update applies mutate to symbol's position under its per-symbol lock and
// increments VersionCounter. mutate receives the position by value and
// returns the new value; Symbol is preserved regardless of what mutate
// sets it to.
func (s *Store) Update(symbol string, mutate func(Position) Position) Position {
	e := s.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	next := mutate(e.position)
	next.Symbol = symbol
	next.VersionCounter = e.position.VersionCounter + 1
	e.position = next
	return e.position
}

// Replace overwrites symbol's position outright — used by the Reconciler,
// for which the exchange is truth (spec §4.G step 2).
func (s *Store) Replace(symbol string, position Position) Position {
	return s.Update(symbol, func(Position) Position { return position })
}

// All returns a snapshot of every tracked symbol's position.
func (s *Store) All() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Position, 0, len(s.entries))
	for _, e := range s.entries {
		e.mu.Lock()
		out = append(out, e.position)
		e.mu.Unlock()
	}
	return out
}
