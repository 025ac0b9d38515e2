// Command cortex runs the Cortex process: leader election, the signal
// approval gate, and the accounting ledger. Only the elected leader
// issues intents; every replica runs the ledger consumer regardless of
// leadership, since fill processing is idempotent and has no single-writer
// requirement (spec §4.D, §4.J).
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/hoptrade/motorcortex/internal/bus"
	"github.com/hoptrade/motorcortex/internal/config"
	"github.com/hoptrade/motorcortex/internal/cortex/approvers"
	"github.com/hoptrade/motorcortex/internal/cortex/ledger"
	"github.com/hoptrade/motorcortex/internal/cortex/signalgate"
	"github.com/hoptrade/motorcortex/internal/cortex/sizing"
	"github.com/hoptrade/motorcortex/internal/credstore"
	"github.com/hoptrade/motorcortex/internal/envelope"
	"github.com/hoptrade/motorcortex/internal/leader"
	"github.com/hoptrade/motorcortex/internal/policy"
	"github.com/hoptrade/motorcortex/internal/telemetry/logging"
	"github.com/hoptrade/motorcortex/internal/telemetry/metrics"
	"github.com/hoptrade/motorcortex/pkg/storage/postgres"
	"github.com/hoptrade/motorcortex/pkg/storage/postgres/migrations"
	"github.com/hoptrade/motorcortex/pkg/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.FullVersion())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cortex: config:", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: "cortex"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open database", nil)
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(ctx, db); err != nil {
			logger.Fatal("apply migrations", nil)
		}
	}

	vaultPath := os.Getenv("MOTORCORTEX_VAULT_PATH")
	if vaultPath == "" {
		vaultPath = "cortex.vault"
	}
	store, err := credstore.Open(vaultPath, []byte(cfg.Security.MasterSecret))
	if err != nil {
		logger.Fatal("open credential vault", nil)
	}
	secretHex, ok := store.Get("bus", "hmac_secret")
	if !ok {
		logger.Fatal("bus HMAC secret not present in vault", nil)
	}

	policyFile := cfg.Security.PolicyFile
	if policyFile == "" {
		policyFile = "config/policy.yaml"
	}
	doc, err := policy.Load(policyFile)
	if err != nil {
		logger.Fatal("load policy document", nil)
	}
	policyHash, err := doc.Hash()
	if err != nil {
		logger.Fatal("hash policy document", nil)
	}

	transport := newTransport(cfg, logger)
	acl := bus.NewACL(
		bus.ACLRule{Identity: "*", SubjectPrefix: cfg.Bus.Namespace, CanPublish: true, CanSubscribe: true},
	)
	cursorStore := postgres.NewPostgresCursorStore(db)
	busFace := bus.New(transport, acl, cursorStore)

	termStore := &postgresTermStore{backend: postgres.NewStateBackend(db)}
	leaseBus := &busLeaseBus{bus: busFace, cfg: cfg}

	elector := leader.New(cfg.Identity, leaseBus, termStore,
		func(term int64) { logger.Base().WithField("term", term).Info("promoted to leader") },
		func() { logger.Base().Warn("demoted from leader") },
	)
	m := metrics.Init("cortex")
	gate := newGate(cfg, doc, policyHash, []byte(secretHex), busFace, elector, m, db)

	hashGate := policy.NewHashGate(policyHash, func(expected, got string) {
		logger.Base().WithField("expected", expected).WithField("got", got).Error("policy hash mismatch: refusing to emit intents")
	})
	if err := hashGate.Start(&busPolicyAdvertiser{bus: busFace, cfg: cfg}); err != nil {
		logger.Fatal("subscribe to policy advertisements", nil)
	}
	defer hashGate.Stop()

	go func() {
		if err := elector.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Base().WithError(err).Warn("elector stopped")
		}
	}()

	ledgerStore := ledger.New(db)

	subjects := bus.Subjects{Namespace: cfg.Bus.Namespace}
	signalSub, err := busFace.Subscribe(ctx, cfg.Identity, "cortex-signalgate", subjects.SignalWildcard(), bus.StreamEvents, 256)
	if err != nil {
		logger.Fatal("subscribe to signal events", nil)
	}
	defer signalSub.Close()

	fillSub, err := busFace.Subscribe(ctx, cfg.Identity, "cortex-ledger", subjects.ExecutionFill(), bus.StreamEvents, 256)
	if err != nil {
		logger.Fatal("subscribe to fill events", nil)
	}
	defer fillSub.Close()

	logger.Base().Info("cortex started")
	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("cortex shutting down")
			return

		case msg, ok := <-signalSub.Messages:
			if !ok {
				return
			}
			if !elector.IsLeader() {
				_ = signalSub.Ack(ctx, msg)
				continue
			}
			if !hashGate.ReadyToEmit() {
				logger.Base().Warn("policy hash not yet confirmed by motor, dropping leader-eligible signal")
				_ = signalSub.Ack(ctx, msg)
				continue
			}
			var signal envelope.SignalEvent
			if err := json.Unmarshal(msg.Payload, &signal); err != nil {
				logger.Base().WithError(err).Warn("malformed signal event")
				_ = signalSub.Ack(ctx, msg)
				continue
			}
			if _, reason, err := gate.Handle(ctx, signal); err != nil {
				logger.Base().WithError(err).Warn("signal gate error")
			} else if reason != "" {
				logger.Base().WithField("reason", reason).Debug("signal not published")
			}
			_ = signalSub.Ack(ctx, msg)

		case msg, ok := <-fillSub.Messages:
			if !ok {
				return
			}
			var fill envelope.FillEvent
			if err := json.Unmarshal(msg.Payload, &fill); err != nil {
				logger.Base().WithError(err).Warn("malformed fill event")
				_ = fillSub.Ack(ctx, msg)
				continue
			}
			if err := ledgerStore.ProcessFill(ctx, fill); err != nil {
				m.LedgerPostFailures.Inc()
				logger.Base().WithError(err).Error("ledger: process fill failed")
				continue
			}
			m.FillsProcessed.Inc()
			_ = fillSub.Ack(ctx, msg)
		}
	}
}

func newGate(cfg *config.Config, doc *policy.Document, policyHash string, secret []byte, busFace *bus.Bus, leaderTerm signalgate.LeaderTermSource, m *metrics.Metrics, db *sql.DB) *signalgate.Gate {
	dedupTTL := 10 * time.Minute
	return signalgate.New(signalgate.Config{
		DedupTTL: dedupTTL,
		Dedup:    postgres.NewSignalDedupStore(db, dedupTTL),
		Approvers: []signalgate.Approver{
			&approvers.SymbolWhitelist{Policy: doc},
			approvers.NewActiveStrategies(),
			&approvers.Opaque{Name: "portfolio_exposure", Check: approvers.AlwaysApprove},
			&approvers.Opaque{Name: "oracle_flow_validator", Check: approvers.AlwaysApprove},
			&approvers.Opaque{Name: "regime", Check: approvers.AlwaysApprove},
		},
		Sizer:      &sizing.FixedFraction{Policy: doc, Fraction: 0.1},
		Policy:     doc,
		PolicyHash: policyHash,
		Secret:     secret,
		Issuer:     cfg.Identity,
		BrainID:    cfg.Identity,
		LeaderTerm: leaderTerm,
		Publisher:  &busIntentPublisher{bus: busFace, cfg: cfg, metrics: m},
	})
}

type busIntentPublisher struct {
	bus     *bus.Bus
	cfg     *config.Config
	metrics *metrics.Metrics
}

func (p *busIntentPublisher) PublishIntent(ctx context.Context, intent envelope.Intent) error {
	p.metrics.IntentsAccepted.Inc()
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	subject := (bus.Subjects{Namespace: p.cfg.Bus.Namespace}).IntentPlace(intent.Symbol)
	_, err = p.bus.Publish(ctx, p.cfg.Identity, subject, bus.StreamCommands, payload)
	return err
}

// busLeaseBus adapts Bus to leader.LeaseBus over a dedicated lease
// subject.
type busLeaseBus struct {
	bus *bus.Bus
	cfg *config.Config
}

func (l *busLeaseBus) leaseSubject() string {
	return (bus.Subjects{Namespace: l.cfg.Bus.Namespace}).SysLeader()
}

func (l *busLeaseBus) PublishHeartbeat(ctx context.Context, hb leader.Heartbeat) error {
	payload, err := leader.MarshalHeartbeat(hb)
	if err != nil {
		return err
	}
	_, err = l.bus.Publish(ctx, l.cfg.Identity, l.leaseSubject(), bus.StreamCommands, payload)
	return err
}

func (l *busLeaseBus) SubscribeHeartbeats(ctx context.Context, onHeartbeat func(leader.Heartbeat)) (func(), error) {
	sub, err := l.bus.Subscribe(ctx, l.cfg.Identity, "cortex-lease-"+l.cfg.Identity, l.leaseSubject(), bus.StreamCommands, 64)
	if err != nil {
		return nil, err
	}
	go func() {
		for msg := range sub.Messages {
			hb, err := leader.UnmarshalHeartbeat(msg.Payload)
			if err == nil {
				onHeartbeat(hb)
			}
			_ = sub.Ack(ctx, msg)
		}
	}()
	return sub.Close, nil
}

// busPolicyAdvertiser subscribes to Motor's advertised policy hash for a
// HashGate. Cortex never publishes on this subject itself; PublishPolicyHash
// exists only to satisfy policy.Advertiser.
type busPolicyAdvertiser struct {
	bus *bus.Bus
	cfg *config.Config
}

func (a *busPolicyAdvertiser) PublishPolicyHash(hash string) error {
	subject := (bus.Subjects{Namespace: a.cfg.Bus.Namespace}).PolicyAdvertised()
	_, err := a.bus.Publish(context.Background(), a.cfg.Identity, subject, bus.StreamEvents, []byte(hash))
	return err
}

func (a *busPolicyAdvertiser) SubscribePolicyHash(onHash func(string)) (func(), error) {
	subject := (bus.Subjects{Namespace: a.cfg.Bus.Namespace}).PolicyAdvertised()
	sub, err := a.bus.Subscribe(context.Background(), a.cfg.Identity, "cortex-policy-advertiser", subject, bus.StreamEvents, 8)
	if err != nil {
		return nil, err
	}
	go func() {
		for msg := range sub.Messages {
			onHash(string(msg.Payload))
			_ = sub.Ack(context.Background(), msg)
		}
	}()
	return sub.Close, nil
}

// postgresTermStore persists the leader's fencing term across restarts
// (spec §4.D: "a restarted Cortex never reuses a stale term").
type postgresTermStore struct {
	backend *postgres.StateBackend
}

const termStateKey = "cortex:leader_term"

func (s *postgresTermStore) LoadTerm(ctx context.Context) (int64, error) {
	data, err := s.backend.Load(ctx, termStateKey)
	if err != nil {
		return 0, nil
	}
	term, _ := strconv.ParseInt(string(data), 10, 64)
	return term, nil
}

func (s *postgresTermStore) SaveTerm(ctx context.Context, term int64) error {
	return s.backend.Save(ctx, termStateKey, []byte(strconv.FormatInt(term, 10)))
}

func newTransport(cfg *config.Config, logger *logging.Logger) bus.Transport {
	if strings.HasPrefix(cfg.Bus.URL, "redis://") || strings.HasPrefix(cfg.Bus.URL, "rediss://") {
		opt, err := redis.ParseURL(cfg.Bus.URL)
		if err != nil {
			logger.Fatal("parse bus url", nil)
		}
		return bus.NewRedisTransport(redis.NewClient(opt), cfg.Bus.Namespace)
	}
	logger.Base().Warn("bus url is not redis://, falling back to in-process memory transport")
	return bus.NewMemoryTransport(10_000)
}
