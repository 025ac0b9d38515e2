// Package reconciler runs the Motor's periodic convergence pass (spec
// §4.G): every T_rec it pulls authoritative positions from the exchange,
// compares them against shadow state using a per-symbol tolerance (spec §9
// open question resolved in favor of per-symbol, since the canonical
// policy document already carries a DriftTolerance per symbol), and on
// divergence emits a drift event, replaces the shadow value with the
// exchange value, and asks the Drift Detector whether to escalate the
// breaker. Scheduling uses github.com/robfig/cron/v3, matching the
// teacher's scheduled-job convention.
package reconciler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hoptrade/motorcortex/internal/motor/drift"
	"github.com/hoptrade/motorcortex/internal/motor/exchange"
	"github.com/hoptrade/motorcortex/internal/motor/shadow"
	"github.com/hoptrade/motorcortex/internal/policy"
)

// Interval is T_rec from spec §4.G/§5.
const Interval = 60 * time.Second

// Deadline is the per-pull deadline from spec §5.
const Deadline = 5 * time.Second

// DriftEventPublisher emits the drift event spec §4.G step 1 requires,
// carrying both the shadow and exchange values.
type DriftEventPublisher interface {
	PublishDrift(ctx context.Context, symbol, shadowValue, exchangeValue string) error
}

// Reconciler drives one tenant's convergence loop.
type Reconciler struct {
	driver    exchange.Driver
	shadow    *shadow.Store
	detector  *drift.Detector
	publisher DriftEventPublisher
	policy    *policy.Document
	logger    *logrus.Entry
	cron      *cron.Cron
}

// New wires a Reconciler. policy is read for each symbol's DriftTolerance
// at every tick, so hot-reloaded policy documents take effect without
// restarting the reconciler.
func New(driver exchange.Driver, store *shadow.Store, detector *drift.Detector, publisher DriftEventPublisher, pol *policy.Document, logger *logrus.Entry) *Reconciler {
	return &Reconciler{
		driver:    driver,
		shadow:    store,
		detector:  detector,
		publisher: publisher,
		policy:    pol,
		logger:    logger,
	}
}

// Start schedules Tick every Interval using robfig/cron/v3 and blocks
// until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	r.cron = cron.New()
	spec := fmt.Sprintf("@every %s", Interval)
	_, err := r.cron.AddFunc(spec, func() {
		tickCtx, cancel := context.WithTimeout(ctx, Deadline)
		defer cancel()
		if err := r.Tick(tickCtx); err != nil && r.logger != nil {
			r.logger.WithError(err).Warn("reconciliation tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("reconciler: schedule: %w", err)
	}
	r.cron.Start()
	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

// Tick performs one reconciliation pass: fetch, compare, and converge.
func (r *Reconciler) Tick(ctx context.Context) error {
	positions, err := r.driver.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: fetch positions: %w", err)
	}

	for _, exchangePos := range positions {
		local := r.shadow.Get(exchangePos.Symbol)

		tolerance := 0.0
		if r.policy != nil {
			if limits, ok := r.policy.Limits(exchangePos.Symbol); ok {
				tolerance, _ = strconv.ParseFloat(limits.DriftTolerance, 64)
			}
		}

		shadowSize, _ := strconv.ParseFloat(local.Size, 64)
		exchangeSize, _ := strconv.ParseFloat(exchangePos.Size, 64)
		signedDrift := shadowSize - exchangeSize
		magnitude := signedDrift
		if magnitude < 0 {
			magnitude = -magnitude
		}

		if magnitude <= tolerance {
			continue
		}

		if r.publisher != nil {
			if err := r.publisher.PublishDrift(ctx, exchangePos.Symbol, local.Size, exchangePos.Size); err != nil {
				return fmt.Errorf("reconciler: publish drift event: %w", err)
			}
		}

		r.shadow.Replace(exchangePos.Symbol, shadow.Position{
			Symbol:         exchangePos.Symbol,
			Size:           exchangePos.Size,
			AvgEntryPrice:  exchangePos.AvgEntryPrice,
			LastSyncedAtMs: time.Now().UnixMilli(),
		})

		if r.detector != nil {
			r.detector.Classify(exchangePos.Symbol, signedDrift, magnitude)
		}
	}
	return nil
}
