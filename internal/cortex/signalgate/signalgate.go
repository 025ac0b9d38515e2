// Package signalgate implements the Cortex's signal approval chain (spec
// §4.I): deduplicate incoming strategy signals by signal_id, run each
// fresh signal through an ordered chain of approvers, and on approval
// construct, sign, and publish an Intent Envelope. The gate never talks to
// an exchange; its only side effect is a signed command on the bus.
package signalgate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hoptrade/motorcortex/internal/cache"
	"github.com/hoptrade/motorcortex/internal/envelope"
	"github.com/hoptrade/motorcortex/internal/policy"
)

// Approver is one link in the approval chain (spec §4.I: symbol allowed,
// strategy active, portfolio exposure, oracle/flow-validator permission,
// regime permits). Each is opaque beyond a yes/no verdict and a reason.
type Approver interface {
	Approve(ctx context.Context, signal envelope.SignalEvent) (ok bool, reason string, err error)
}

// Sizer computes the quantity for an approved signal. Position sizing
// logic belongs to the research/optimization engine per spec §1's
// out-of-scope list; Sizer is the seam a concrete implementation plugs
// into without the gate needing to know how.
type Sizer interface {
	Size(ctx context.Context, signal envelope.SignalEvent) (quantity string, err error)
}

// IntentPublisher publishes a signed intent to the commands stream.
type IntentPublisher interface {
	PublishIntent(ctx context.Context, intent envelope.Intent) error
}

// LeaderTermSource supplies the fencing term to stamp on every intent this
// process issues (spec §4.D).
type LeaderTermSource interface {
	Term() int64
}

// Dedup decides whether a signal_id has already been processed. Production
// wiring backs this with a durable key-value store (postgres.SignalDedupStore)
// so a Cortex restart does not re-admit a signal still inside its
// strategy's retry window (spec §4.I: "Dedup cache is durable").
type Dedup interface {
	SeenOrMark(ctx context.Context, key string) (bool, error)
}

// memoryDedup adapts the in-memory TTL cache to Dedup, for tests and
// single-process development where no durable store is wired.
type memoryDedup struct {
	*cache.DedupCache
}

func (m memoryDedup) SeenOrMark(_ context.Context, key string) (bool, error) {
	return m.DedupCache.SeenOrMark(key), nil
}

// Gate is the Cortex's signal-to-intent funnel.
type Gate struct {
	dedup       Dedup
	approvers   []Approver
	sizer       Sizer
	policy      *policy.Document
	policyHash  string
	secret      []byte
	issuer      string
	brainID     string
	leaderTerm  LeaderTermSource
	publisher   IntentPublisher
	nonceSeq    int64
	orderType   envelope.OrderType
}

// Config carries Gate's fixed dependencies.
type Config struct {
	DedupTTL   time.Duration
	Dedup      Dedup // optional; defaults to an in-memory cache over DedupTTL
	Approvers  []Approver
	Sizer      Sizer
	Policy     *policy.Document
	PolicyHash string
	Secret     []byte
	Issuer     string
	BrainID    string
	LeaderTerm LeaderTermSource
	Publisher  IntentPublisher
}

// New constructs a Gate. DedupTTL should be at least the longest strategy
// retry window (spec §4.I); it is only consulted when Dedup is nil.
func New(cfg Config) *Gate {
	dedup := cfg.Dedup
	if dedup == nil {
		dedup = memoryDedup{cache.New(cfg.DedupTTL)}
	}
	return &Gate{
		dedup:      dedup,
		approvers:  cfg.Approvers,
		sizer:      cfg.Sizer,
		policy:     cfg.Policy,
		policyHash: cfg.PolicyHash,
		secret:     cfg.Secret,
		issuer:     cfg.Issuer,
		brainID:    cfg.BrainID,
		leaderTerm: cfg.LeaderTerm,
		publisher:  cfg.Publisher,
		orderType:  envelope.OrderTypeMarket,
	}
}

// Handle deduplicates signal and, if fresh and every approver passes,
// builds and publishes a signed Intent. It returns (published, reason,
// err): published is false with a non-empty reason whenever dedup or an
// approver stopped the signal short of an intent; err is reserved for
// infrastructure faults (signing, publish, approver errors).
func (g *Gate) Handle(ctx context.Context, signal envelope.SignalEvent) (published bool, reason string, err error) {
	seen, err := g.dedup.SeenOrMark(ctx, signal.SignalID)
	if err != nil {
		return false, "", fmt.Errorf("signalgate: dedup check failed: %w", err)
	}
	if seen {
		return false, "duplicate signal_id", nil
	}

	for _, approver := range g.approvers {
		ok, why, aerr := approver.Approve(ctx, signal)
		if aerr != nil {
			return false, "", fmt.Errorf("signalgate: approver error: %w", aerr)
		}
		if !ok {
			return false, why, nil
		}
	}

	quantity, err := g.sizer.Size(ctx, signal)
	if err != nil {
		return false, "", fmt.Errorf("signalgate: sizing failed: %w", err)
	}

	term := int64(0)
	if g.leaderTerm != nil {
		term = g.leaderTerm.Term()
	}

	payload := envelope.IntentPayload{
		IntentID:      signal.SignalID,
		Symbol:        signal.Symbol,
		Side:          signal.Side,
		OrderType:     g.orderType,
		Quantity:      quantity,
		PolicyHash:    g.policyHash,
		BrainInstance: g.brainID,
		LeaderTerm:    term,
	}

	intent := envelope.Intent{
		IntentPayload: payload,
		IssuedAt:      time.Now().UnixMilli(),
		Nonce:         atomic.AddInt64(&g.nonceSeq, 1),
		Issuer:        g.issuer,
	}

	sig, err := envelope.SignIntent(g.secret, intent)
	if err != nil {
		return false, "", fmt.Errorf("signalgate: sign intent: %w", err)
	}
	intent.Signature = sig

	if err := g.publisher.PublishIntent(ctx, intent); err != nil {
		return false, "", fmt.Errorf("signalgate: publish intent: %w", err)
	}
	return true, "", nil
}
