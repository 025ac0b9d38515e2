// Package sizing provides the signal gate's Sizer seam. Position sizing
// is explicitly out of scope for this module (spec §1); FixedFraction is
// a conservative stand-in so the gate can run end-to-end in the absence
// of a real research-engine-backed sizer, not a production sizing model.
package sizing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hoptrade/motorcortex/internal/envelope"
	"github.com/hoptrade/motorcortex/internal/policy"
)

// FixedFraction sizes every approved signal at Fraction of its symbol's
// policy MaxNotional, expressed as a quantity in quote-notional terms.
type FixedFraction struct {
	Policy   *policy.Document
	Fraction float64
}

func (s *FixedFraction) Size(ctx context.Context, signal envelope.SignalEvent) (string, error) {
	limits, ok := s.Policy.Limits(signal.Symbol)
	if !ok {
		return "", fmt.Errorf("sizing: symbol %s not whitelisted", signal.Symbol)
	}
	maxNotional, err := strconv.ParseFloat(limits.MaxNotional, 64)
	if err != nil {
		return "", fmt.Errorf("sizing: parse max_notional: %w", err)
	}
	fraction := s.Fraction
	if fraction <= 0 {
		fraction = 0.1
	}
	return strconv.FormatFloat(maxNotional*fraction, 'f', -1, 64), nil
}
