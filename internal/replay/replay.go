// Package replay guards against nonce replay and leader-term regression,
// adapted from the teacher's infrastructure/security.ReplayProtection
// (seen-set + time-window cleanup) but generalized from a flat
// seen-request-id set to two per-issuer monotonic counters, matching spec
// §4.E steps 5-6: nonce must strictly increase per issuer, leader_term must
// not decrease per issuer.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// IssuerSnapshot is one issuer's last-accepted nonce and term, as persisted
// by a Store.
type IssuerSnapshot struct {
	LastNonce int64
	LastTerm  int64
}

// Store durably snapshots Guard's per-issuer state (spec §6 "Persistent
// state layout": "nonce-cache snapshot (periodically flushed)"), so a
// restarted Motor does not re-admit a nonce it had already accepted and
// thereby violate §8's unique(issuer, nonce) invariant.
type Store interface {
	LoadAll(ctx context.Context) (map[string]IssuerSnapshot, error)
	Flush(ctx context.Context, snapshot map[string]IssuerSnapshot) error
}

// issuerState is the last-seen nonce and leader term for one issuer, plus
// the time it was last touched (for 24h-retention cleanup).
type issuerState struct {
	lastNonce int64
	lastTerm  int64
	touchedAt time.Time
}

// Guard enforces per-issuer nonce monotonicity and leader-term fencing.
// One Guard instance is shared by the whole pipeline; it is safe for
// concurrent use across issuers, and serializes per issuer internally so
// concurrent intents from the same issuer cannot race past each other.
type Guard struct {
	mu        sync.Mutex
	issuers   map[string]*issuerState
	retention time.Duration
	logger    *logrus.Logger
}

// NewGuard creates a Guard whose sweep drops issuers idle for longer than
// retention (spec default: 24h). The sweep runs only on checks made while
// the number of tracked issuers is a multiple of 256.
func NewGuard(retention time.Duration, logger *logrus.Logger) *Guard {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Guard{
		issuers:   make(map[string]*issuerState),
		retention: retention,
		logger:    logger,
	}
}

// CheckNonce returns true and records nonce if nonce is strictly greater
// than the last nonce seen from issuer (or this is the first nonce from
// issuer). It returns false without recording if nonce <= last seen —
// the boundary case "nonce equal to last-seen" is therefore always
// rejected, matching spec §8.
func (g *Guard) CheckNonce(issuer string, nonce int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cleanupLocked()

	st, ok := g.issuers[issuer]
	if !ok {
		g.issuers[issuer] = &issuerState{lastNonce: nonce, lastTerm: -1, touchedAt: time.Now()}
		return true
	}

	if nonce <= st.lastNonce {
		if g.logger != nil {
			g.logger.WithFields(logrus.Fields{"issuer": issuer, "nonce": nonce}).Warn("nonce replay rejected")
		}
		return false
	}

	st.lastNonce = nonce
	st.touchedAt = time.Now()
	return true
}

// CheckTerm returns true and records term if term is greater than or equal
// to the last accepted term from issuer (or this is the first term seen).
// Equal terms are accepted (a leader may issue many intents in one term);
// a lower term means a fenced-out leader and is rejected.
func (g *Guard) CheckTerm(issuer string, term int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cleanupLocked()

	st, ok := g.issuers[issuer]
	if !ok {
		g.issuers[issuer] = &issuerState{lastNonce: -1, lastTerm: term, touchedAt: time.Now()}
		return true
	}

	if term < st.lastTerm {
		if g.logger != nil {
			g.logger.WithFields(logrus.Fields{"issuer": issuer, "term": term, "last_term": st.lastTerm}).Warn("fenced-out leader term rejected")
		}
		return false
	}

	st.lastTerm = term
	st.touchedAt = time.Now()
	return true
}

func (g *Guard) cleanupLocked() {
	if len(g.issuers)%256 != 0 {
		return
	}
	now := time.Now()
	for issuer, st := range g.issuers {
		if now.Sub(st.touchedAt) > g.retention {
			delete(g.issuers, issuer)
		}
	}
}

// Size returns the number of tracked issuers.
func (g *Guard) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.issuers)
}

// LoadSnapshot seeds the guard from store's last-flushed state. Call once
// at boot, before the pipeline starts accepting intents, so a restart
// resumes nonce/term enforcement instead of reopening at zero state.
func (g *Guard) LoadSnapshot(ctx context.Context, store Store) error {
	snapshot, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("replay: load snapshot: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	for issuer, s := range snapshot {
		g.issuers[issuer] = &issuerState{lastNonce: s.LastNonce, lastTerm: s.LastTerm, touchedAt: now}
	}
	return nil
}

// RunFlusher periodically persists the guard's issuer state to store until
// ctx is cancelled, flushing once more on the way out. A crash between
// flushes loses at most one interval of nonce history, never the
// unique(issuer, nonce) invariant itself, since an unflushed nonce simply
// has not been accepted as far as store is concerned.
func (g *Guard) RunFlusher(ctx context.Context, store Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; use a fresh context so the final
			// flush can still reach the store during shutdown.
			if err := g.flush(context.Background(), store); err != nil && g.logger != nil {
				g.logger.WithError(err).Warn("replay: final snapshot flush failed")
			}
			return
		case <-ticker.C:
			if err := g.flush(ctx, store); err != nil && g.logger != nil {
				g.logger.WithError(err).Warn("replay: snapshot flush failed")
			}
		}
	}
}

func (g *Guard) flush(ctx context.Context, store Store) error {
	g.mu.Lock()
	snapshot := make(map[string]IssuerSnapshot, len(g.issuers))
	for issuer, st := range g.issuers {
		snapshot[issuer] = IssuerSnapshot{LastNonce: st.lastNonce, LastTerm: st.lastTerm}
	}
	g.mu.Unlock()
	return store.Flush(ctx, snapshot)
}
