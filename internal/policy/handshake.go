package policy

import (
	"sync"
	"sync/atomic"
)

// Advertiser is the subset of the bus a HashGate needs: publish Motor's
// hash, and subscribe to future advertisements (e.g. after Motor restarts
// with a reloaded policy).
type Advertiser interface {
	PublishPolicyHash(hash string) error
	SubscribePolicyHash(func(hash string)) (unsubscribe func(), err error)
}

// HashGate implements the "policy advertised" handshake from spec §4.B: a
// freshly promoted Cortex leader refuses to emit intents until it has
// observed a Motor-advertised hash equal to its own loaded policy hash. On
// mismatch it stays non-processing and raises an alarm, rather than ever
// emitting an intent the Motor would reject anyway.
type HashGate struct {
	ownHash string

	mu       sync.RWMutex
	matched  atomic.Bool
	alarm    func(expected, got string)
	unsub    func()
}

// NewHashGate creates a gate for ownHash (this process's loaded policy
// hash). alarm is invoked (if non-nil) every time an advertised hash fails
// to match.
func NewHashGate(ownHash string, alarm func(expected, got string)) *HashGate {
	return &HashGate{ownHash: ownHash, alarm: alarm}
}

// Start subscribes to policy-hash advertisements via adv and begins
// evaluating them. Call Stop to unsubscribe.
func (g *HashGate) Start(adv Advertiser) error {
	unsub, err := adv.SubscribePolicyHash(g.observe)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.unsub = unsub
	g.mu.Unlock()
	return nil
}

// Stop unsubscribes from advertisements.
func (g *HashGate) Stop() {
	g.mu.RLock()
	unsub := g.unsub
	g.mu.RUnlock()
	if unsub != nil {
		unsub()
	}
}

func (g *HashGate) observe(hash string) {
	if hash == g.ownHash {
		g.matched.Store(true)
		return
	}
	g.matched.Store(false)
	if g.alarm != nil {
		g.alarm(g.ownHash, hash)
	}
}

// ReadyToEmit reports whether this process has observed a matching
// advertised hash and may therefore emit intents. Before the first
// advertisement arrives, or after a mismatch, this is false.
func (g *HashGate) ReadyToEmit() bool {
	return g.matched.Load()
}
