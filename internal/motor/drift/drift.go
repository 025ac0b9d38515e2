// Package drift classifies shadow-state divergence observed by the
// Reconciler into transient or persistent (spec §4.H) and escalates the
// breaker when divergence looks structural rather than a one-off
// observation. It also tracks the three auxiliary rates spec §4.H names
// as breaker inputs: HMAC reject rate, exchange reject rate, and
// reconnection frequency.
package drift

import (
	"sync"
	"time"
)

// Classification is the Drift Detector's verdict for one observation.
type Classification string

const (
	Transient  Classification = "transient"
	Persistent Classification = "persistent"
)

// Observation is one symbol's divergence between shadow and exchange
// state, as measured by the Reconciler.
type Observation struct {
	Symbol    string
	Magnitude float64 // absolute |shadow - exchange|, in the unit the caller already normalized to
}

// Thresholds configures what counts as persistent.
type Thresholds struct {
	// SoftMagnitude: a single observation at or above this magnitude is
	// persistent on its own, regardless of direction history.
	SoftMagnitude float64
	// RepeatCount: this many same-direction observations in a row for a
	// symbol makes the latest one persistent even below SoftMagnitude.
	RepeatCount int
}

type symbolHistory struct {
	lastSign     int // -1, 0, +1
	repeatStreak int
}

// Detector classifies drift and escalates an Escalator on persistent
// findings.
type Detector struct {
	mu         sync.Mutex
	thresholds Thresholds
	history    map[string]*symbolHistory
	escalator  Escalator
}

// Escalator is the subset of the breaker the Drift Detector depends on.
type Escalator interface {
	EscalateToDefensive(symbol string, magnitude float64)
}

// New returns a Detector that calls escalator.EscalateToDefensive whenever
// it classifies an observation as persistent.
func New(thresholds Thresholds, escalator Escalator) *Detector {
	return &Detector{
		thresholds: thresholds,
		history:    make(map[string]*symbolHistory),
		escalator:  escalator,
	}
}

// Classify records obs against its symbol's history and returns the
// classification. Signed drift (positive = shadow overstated, negative =
// shadow understated) should be passed via signedValue so repeat-direction
// streaks can be tracked; magnitude is compared against SoftMagnitude.
func (d *Detector) Classify(symbol string, signedValue float64, magnitude float64) Classification {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.history[symbol]
	if !ok {
		h = &symbolHistory{}
		d.history[symbol] = h
	}

	sign := 0
	switch {
	case signedValue > 0:
		sign = 1
	case signedValue < 0:
		sign = -1
	}

	if sign != 0 && sign == h.lastSign {
		h.repeatStreak++
	} else {
		h.repeatStreak = 1
	}
	h.lastSign = sign

	class := Transient
	if magnitude >= d.thresholds.SoftMagnitude {
		class = Persistent
	} else if d.thresholds.RepeatCount > 0 && h.repeatStreak >= d.thresholds.RepeatCount {
		class = Persistent
	}

	if class == Persistent && d.escalator != nil {
		d.escalator.EscalateToDefensive(symbol, magnitude)
	}
	return class
}

// RateTracker is a sliding-window event-per-second rate used for HMAC
// reject rate, exchange reject rate, and reconnection frequency — the
// auxiliary signals spec §4.H feeds into the breaker alongside drift.
type RateTracker struct {
	mu     sync.Mutex
	window time.Duration
	events []time.Time
}

// NewRateTracker returns a RateTracker counting events in the trailing
// window.
func NewRateTracker(window time.Duration) *RateTracker {
	return &RateTracker{window: window}
}

// Record marks one event occurring now.
func (r *RateTracker) Record(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, now)
	r.prune(now)
}

// RatePerSecond returns the trailing window's event count divided by the
// window length in seconds.
func (r *RateTracker) RatePerSecond(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	if r.window <= 0 {
		return 0
	}
	return float64(len(r.events)) / r.window.Seconds()
}

func (r *RateTracker) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for ; i < len(r.events); i++ {
		if r.events[i].After(cutoff) {
			break
		}
	}
	r.events = r.events[i:]
}
