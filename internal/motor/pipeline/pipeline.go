// Package pipeline implements the Motor's ordered intent validation chain
// (spec §4.E), the single path by which a signed intent becomes an
// exchange order. Every step either passes the intent to the next step or
// terminates with a specific rejection reason; the ordering itself is an
// invariant — e.g. the Armed Interlock precedes every other check so a
// disarmed system never leaks detail about why an intent would otherwise
// have failed (spec §8 scenario 2).
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/hoptrade/motorcortex/internal/envelope"
	"github.com/hoptrade/motorcortex/internal/motor/armed"
	"github.com/hoptrade/motorcortex/internal/motor/breaker"
	"github.com/hoptrade/motorcortex/internal/motor/exchange"
	"github.com/hoptrade/motorcortex/internal/motor/shadow"
	"github.com/hoptrade/motorcortex/internal/policy"
	"github.com/hoptrade/motorcortex/internal/ratelimit"
	"github.com/hoptrade/motorcortex/internal/replay"
	"github.com/hoptrade/motorcortex/internal/retry"
)

// TimestampSkew is the maximum permitted |now - issued_at| (spec §4.E
// step 3 / §5: "HMAC timestamp window 300 s").
const TimestampSkew = 300_000 * time.Millisecond

// ExchangeDeadline bounds a single exchange submit attempt (spec §5).
const ExchangeDeadline = 2 * time.Second

// Publisher emits the two terminal events the pipeline produces.
type Publisher interface {
	PublishRejection(ctx context.Context, evt envelope.RejectionEvent) error
	PublishAccepted(ctx context.Context, intentID, orderID string) error
}

// Clock lets tests pin "now" instead of depending on wall-clock time.
type Clock func() time.Time

// Pipeline holds every dependency a validation step reads from.
type Pipeline struct {
	Armed       *armed.Interlock
	Replay      *replay.Guard
	Policy      *policy.Document
	PolicyHash  string
	Breaker     *breaker.Breaker
	RateLimiter *ratelimit.Limiter
	Driver      exchange.Driver
	Shadow      *shadow.Store
	Secret      []byte
	BrainID     string
	Publisher   Publisher
	Logger      *logrus.Entry
	Now         Clock
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// intentIDPeek extracts intent_id without validating anything else, used
// only to populate rejection events for envelopes that fail before or
// during parsing (spec §4.E: "every rejection emits a Rejection Event
// containing the extracted intent_id (if retrievable)").
func intentIDPeek(raw []byte) string {
	var peek struct {
		IntentID string `json:"intent_id"`
	}
	_ = json.Unmarshal(raw, &peek)
	return peek.IntentID
}

// Process runs raw through all twelve steps. On acceptance it returns the
// exchange order id; on rejection it returns a *envelope.RejectionError
// (already published) as err; any other error indicates an infrastructure
// fault (publish failure, exchange call context error) rather than a
// validation outcome.
func (p *Pipeline) Process(ctx context.Context, raw []byte) (orderID string, err error) {
	intentID := intentIDPeek(raw)

	reject := func(reason envelope.Reason, message string, details map[string]string) (string, error) {
		rerr := envelope.Reject(reason, message)
		for k, v := range details {
			rerr.WithDetail(k, v)
		}
		evt := envelope.RejectionEvent{
			IntentID:      intentID,
			Reason:        reason,
			BrainInstance: p.BrainID,
			Timestamp:     p.now().UnixMilli(),
		}
		if v, ok := details["expected_policy_hash"]; ok {
			evt.ExpectedPolicyHash = v
		}
		if v, ok := details["got_policy_hash"]; ok {
			evt.GotPolicyHash = v
		}
		if p.Publisher != nil {
			if perr := p.Publisher.PublishRejection(ctx, evt); perr != nil {
				return "", fmt.Errorf("pipeline: publish rejection: %w", perr)
			}
		}
		return "", rerr
	}

	// Step 1: Armed Interlock. Precedes every other check, including
	// parsing, so a disarmed system never reveals more than
	// system_disarmed about an otherwise-invalid intent.
	if !p.Armed.IsArmed() {
		return reject(envelope.ReasonSystemDisarmed, "system is not armed", nil)
	}

	// Step 2: Envelope Parse & Schema.
	var intent envelope.Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return reject(envelope.ReasonMalformed, "envelope did not parse as JSON", nil)
	}
	if missing := missingRequiredFields(intent); missing != "" {
		return reject(envelope.ReasonMalformed, "missing required field: "+missing, nil)
	}
	intentID = intent.IntentID

	// Step 3: Timestamp Skew.
	skew := p.now().UnixMilli() - intent.IssuedAt
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Millisecond > TimestampSkew {
		return reject(envelope.ReasonTimestampSkew, "issued_at outside the accepted skew window", nil)
	}

	// Step 4: HMAC Verify (constant-time).
	valid, err := envelope.VerifyIntent(p.Secret, intent)
	if err != nil || !valid {
		return reject(envelope.ReasonHMACInvalid, "signature verification failed", nil)
	}

	// Step 5: Nonce Replay.
	if !p.Replay.CheckNonce(intent.Issuer, intent.Nonce) {
		return reject(envelope.ReasonNonceReplay, "nonce already seen from this issuer", nil)
	}

	// Step 6: Term Monotonicity. A fenced-out leader's stale term is, for
	// the issuer, indistinguishable from a replayed command — no
	// dedicated reason exists in the taxonomy, so it is folded into
	// nonce_replay (documented decision; the alternative of inventing a
	// new reason would break the closed taxonomy spec §7 defines).
	if !p.Replay.CheckTerm(intent.Issuer, intent.LeaderTerm) {
		return reject(envelope.ReasonNonceReplay, "leader_term below last accepted term", nil)
	}

	// Step 7: Policy Hash.
	if intent.PolicyHash != p.PolicyHash {
		return reject(envelope.ReasonPolicyHashMismatch, "policy hash mismatch", map[string]string{
			"expected_policy_hash": p.PolicyHash,
			"got_policy_hash":      intent.PolicyHash,
		})
	}

	// Step 8: Circuit Breaker.
	breakerState := p.Breaker.Current()
	if !breaker.PlacementAllowed(breakerState) {
		return reject(envelope.ReasonCircuitOpen, "circuit breaker forbids placement", map[string]string{
			"breaker_state": string(breakerState),
		})
	}
	sizeMultiplier := breaker.SizeMultiplier(breakerState)

	// Step 9: Symbol & Leverage Whitelist.
	limits, ok := p.Policy.Limits(intent.Symbol)
	if !ok {
		return reject(envelope.ReasonUnknownSymbol, "symbol is not on the whitelist", nil)
	}
	if limits.MaxLeverage != "" && intent.Leverage != "" {
		leverage, lerr := strconv.ParseFloat(intent.Leverage, 64)
		maxLeverage, merr := strconv.ParseFloat(limits.MaxLeverage, 64)
		if lerr == nil && merr == nil && leverage > maxLeverage {
			return reject(envelope.ReasonRiskExceeded, "leverage exceeds policy cap", nil)
		}
	}

	// Step 10: Rate Limiter.
	if !p.RateLimiter.Allow() {
		return reject(envelope.ReasonRateLimited, "exchange token bucket exhausted", nil)
	}

	// Step 11: Risk Guard — notional vs. policy cap, scaled by the
	// breaker's current size multiplier.
	if limits.MaxNotional != "" && intent.Quantity != "" {
		qty, qerr := strconv.ParseFloat(intent.Quantity, 64)
		maxNotional, merr := strconv.ParseFloat(limits.MaxNotional, 64)
		if qerr == nil && merr == nil && sizeMultiplier > 0 {
			if qty > maxNotional*sizeMultiplier {
				return reject(envelope.ReasonRiskExceeded, "order exceeds breaker-scaled notional cap", nil)
			}
		}
	}

	// Step 12: Exchange Submit.
	req := exchange.OrderRequest{
		IdempotencyKey: intent.IntentID,
		Symbol:         intent.Symbol,
		Side:           string(intent.Side),
		OrderType:      string(intent.OrderType),
		Quantity:       intent.Quantity,
		LimitPrice:     intent.LimitPrice,
		Leverage:       intent.Leverage,
	}

	var ack exchange.OrderAck
	submitErr := retry.Do(ctx, retry.ExchangeSubmitConfig(), func() error {
		submitCtx, cancel := context.WithTimeout(ctx, ExchangeDeadline)
		defer cancel()
		var e error
		ack, e = p.Driver.SubmitOrder(submitCtx, req)
		if e != nil {
			var subErr *exchange.SubmitError
			if asSubmitError(e, &subErr) && !subErr.Retryable() {
				return backoff.Permanent(e)
			}
			return e
		}
		return nil
	})
	if submitErr != nil {
		return reject(envelope.ReasonExchangeRejected, "exchange rejected the order", nil)
	}

	// Shadow state update (i): order acknowledged by exchange (spec §4.G).
	// The actual size change arrives via the fill event; this marks the
	// symbol as freshly touched so the Reconciler's next tick has a
	// meaningful LastSyncedAtMs to compare against.
	p.Shadow.Update(intent.Symbol, func(pos shadow.Position) shadow.Position {
		pos.LastSyncedAtMs = p.now().UnixMilli()
		return pos
	})

	if p.Publisher != nil {
		if perr := p.Publisher.PublishAccepted(ctx, intent.IntentID, ack.OrderID); perr != nil {
			return ack.OrderID, fmt.Errorf("pipeline: publish acceptance: %w", perr)
		}
	}
	return ack.OrderID, nil
}

func missingRequiredFields(i envelope.Intent) string {
	switch {
	case i.IntentID == "":
		return "intent_id"
	case i.Symbol == "":
		return "symbol"
	case i.Quantity == "":
		return "quantity"
	case i.PolicyHash == "":
		return "policy_hash"
	case i.Issuer == "":
		return "issuer"
	case i.Signature == "":
		return "signature"
	default:
		return ""
	}
}

func asSubmitError(err error, target **exchange.SubmitError) bool {
	se, ok := err.(*exchange.SubmitError)
	if ok {
		*target = se
	}
	return ok
}
