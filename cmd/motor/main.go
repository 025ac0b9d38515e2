// Command motor runs the Motor process: the intent validation pipeline,
// circuit breaker, shadow-state reconciler, and the operator console that
// arms, disarms, and halts it. It never originates a trading decision; its
// only inputs are signed Intent Envelopes and signed Operator Commands,
// both read from the bus — the CLI subcommands below only sign and
// publish an Operator Command, the running daemon applies it (spec §3).
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "github.com/lib/pq"

	"github.com/hoptrade/motorcortex/internal/bus"
	"github.com/hoptrade/motorcortex/internal/config"
	"github.com/hoptrade/motorcortex/internal/credstore"
	"github.com/hoptrade/motorcortex/internal/envelope"
	"github.com/hoptrade/motorcortex/internal/motor/armed"
	"github.com/hoptrade/motorcortex/internal/motor/breaker"
	"github.com/hoptrade/motorcortex/internal/motor/drift"
	"github.com/hoptrade/motorcortex/internal/motor/exchange"
	"github.com/hoptrade/motorcortex/internal/motor/pipeline"
	"github.com/hoptrade/motorcortex/internal/motor/reconciler"
	"github.com/hoptrade/motorcortex/internal/motor/shadow"
	"github.com/hoptrade/motorcortex/internal/policy"
	"github.com/hoptrade/motorcortex/internal/ratelimit"
	"github.com/hoptrade/motorcortex/internal/replay"
	"github.com/hoptrade/motorcortex/internal/telemetry/logging"
	"github.com/hoptrade/motorcortex/internal/telemetry/metrics"
	"github.com/hoptrade/motorcortex/pkg/storage/postgres"
	"github.com/hoptrade/motorcortex/pkg/storage/postgres/migrations"
	"github.com/hoptrade/motorcortex/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	if os.Args[1] == "version" {
		fmt.Println(version.FullVersion())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "motor: config:", err)
		os.Exit(2)
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: "motor"})

	switch os.Args[1] {
	case "start":
		runStart(cfg, logger)
	case "arm":
		runOperatorCommand(cfg, logger, envelope.ActionArm)
	case "disarm":
		runOperatorCommand(cfg, logger, envelope.ActionDisarm)
	case "halt":
		runOperatorCommand(cfg, logger, envelope.ActionHalt)
	case "reconcile-now":
		runReconcileNow(cfg, logger)
	case "show-state":
		runShowState(cfg, logger)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: motor <start|arm|disarm|halt|reconcile-now|show-state|version>")
}

// process bundles every dependency runStart wires up, so the admin HTTP
// handlers and the reconciler closure can share it without a global.
type process struct {
	cfg       *config.Config
	logger    *logging.Logger
	db        *sql.DB
	armedGate *armed.Interlock
	breaker   *breaker.Breaker
	pipeline  *pipeline.Pipeline
	recon     *reconciler.Reconciler
	busFace   *bus.Bus
}

// breakerRank maps a breaker.State to the numeric gauge value the spec's
// /metrics surface exposes (spec §4.F: NORMAL=0 .. EMERGENCY=3).
func breakerRank(s breaker.State) int {
	switch s {
	case breaker.Cautious:
		return 1
	case breaker.Defensive:
		return 2
	case breaker.Emergency:
		return 3
	default:
		return 0
	}
}

func runStart(cfg *config.Config, logger *logging.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open database", nil)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(ctx, db); err != nil {
			logger.Fatal("apply migrations", nil)
		}
	}

	secret, doc, policyHash := loadSecretAndPolicy(ctx, cfg, logger)
	operatorSecret := loadOperatorSecret(cfg, logger)

	m := metrics.Init("motor")

	stateBackend := postgres.NewStateBackend(db)
	interlock, err := armed.New(ctx, stateBackend)
	if err != nil {
		logger.Fatal("load armed state", nil)
	}

	driver := exchange.NewPaperDriver()
	shadowStore := shadow.New()
	flattener := &paperFlattener{driver: driver, shadow: shadowStore}

	breakerGate, err := breaker.New(ctx, stateBackend, doc.Breaker, interlock, flattener)
	if err != nil {
		logger.Fatal("load breaker state", nil)
	}
	breakerGate.OnTransition = func(from, to breaker.State) {
		m.RecordBreakerTransition(string(from), string(to), breakerRank(to))
	}

	replayGuard := replay.NewGuard(24*time.Hour, logger.Logger)
	replayStore := postgres.NewReplayCacheStore(db)
	if err := replayGuard.LoadSnapshot(ctx, replayStore); err != nil {
		logger.Fatal("load replay guard snapshot", nil)
	}
	go replayGuard.RunFlusher(ctx, replayStore, 30*time.Second)

	limiter := ratelimit.New(ratelimit.DefaultConfig())

	transport := newTransport(cfg, logger)
	acl := defaultACL(cfg)
	cursorStore := postgres.NewPostgresCursorStore(db)
	busFace := bus.New(transport, acl, cursorStore)

	pub := &busPublisher{bus: busFace, cfg: cfg, metrics: m}

	// Advertise this process's loaded policy hash so a freshly promoted
	// Cortex leader can confirm it agrees before emitting any intent
	// (spec §4.B "policy advertised" handshake). The events stream
	// replays this to a Cortex that subscribes after the fact.
	if err := (&busPolicyAdvertiser{bus: busFace, cfg: cfg}).PublishPolicyHash(policyHash); err != nil {
		logger.Base().WithError(err).Warn("advertise policy hash")
	}

	pl := &pipeline.Pipeline{
		Armed:       interlock,
		Replay:      replayGuard,
		Policy:      doc,
		PolicyHash:  policyHash,
		Breaker:     breakerGate,
		RateLimiter: limiter,
		Driver:      driver,
		Shadow:      shadowStore,
		Secret:      secret,
		BrainID:     cfg.Identity,
		Publisher:   pub,
		Logger:      logger.Base(),
	}

	detector := drift.New(drift.Thresholds{SoftMagnitude: 0.01, RepeatCount: cfg.Reconcile.DriftBars}, breakerGate)
	recon := reconciler.New(driver, shadowStore, detector, pub, doc, logger.Base())

	p := &process{cfg: cfg, logger: logger, db: db, armedGate: interlock, breaker: breakerGate, pipeline: pl, recon: recon, busFace: busFace}

	go func() {
		if err := recon.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Base().WithError(err).Warn("reconciler stopped")
		}
	}()

	go runAdminServer(ctx, p)

	subjects := bus.Subjects{Namespace: cfg.Bus.Namespace}
	sub, err := busFace.Subscribe(ctx, cfg.Identity, "motor-pipeline", subjects.IntentPlaceWildcard(), bus.StreamCommands, 256)
	if err != nil {
		logger.Fatal("subscribe to commands stream", nil)
	}
	defer sub.Close()

	operatorSub, err := busFace.Subscribe(ctx, cfg.Identity, "motor-operator", subjects.OperatorWildcard(), bus.StreamCommands, 16)
	if err != nil {
		logger.Fatal("subscribe to operator commands", nil)
	}
	defer operatorSub.Close()

	haltSub, err := busFace.Subscribe(ctx, cfg.Identity, "motor-halt", subjects.SysHalt(), bus.StreamCommands, 16)
	if err != nil {
		logger.Fatal("subscribe to sys halt", nil)
	}
	defer haltSub.Close()

	opHandler := &operatorHandler{
		interlock: interlock,
		flattener: flattener,
		pub:       pub,
		db:        db,
		secret:    operatorSecret,
		logger:    logger,
	}

	logger.Base().Info("motor started")
	for {
		select {
		case <-ctx.Done():
			logger.Base().Info("motor shutting down")
			return
		case msg, ok := <-sub.Messages:
			if !ok {
				return
			}
			if _, err := pl.Process(ctx, msg.Payload); err != nil {
				logger.Base().WithError(err).Debug("intent rejected")
			}
			_ = sub.Ack(ctx, msg)
		case msg, ok := <-operatorSub.Messages:
			if !ok {
				return
			}
			opHandler.HandleTransition(ctx, msg.Payload)
			_ = operatorSub.Ack(ctx, msg)
		case msg, ok := <-haltSub.Messages:
			if !ok {
				return
			}
			opHandler.HandleHalt(ctx, msg.Payload)
			_ = haltSub.Ack(ctx, msg)
		}
	}
}

// paperFlattener closes every shadow-tracked position at market against
// the PaperDriver on EMERGENCY entry (spec §4.F / §9: market chosen over
// aggressive-limit for the flatten path).
type paperFlattener struct {
	driver exchange.Driver
	shadow *shadow.Store
}

func (f *paperFlattener) FlattenAll(ctx context.Context) error {
	for _, pos := range f.shadow.All() {
		qty, err := strconv.ParseFloat(pos.Size, 64)
		if err != nil || qty == 0 {
			continue
		}
		side := "sell"
		if qty < 0 {
			side = "buy"
			qty = -qty
		}
		_, err = f.driver.SubmitOrder(ctx, exchange.OrderRequest{
			IdempotencyKey: "flatten-" + pos.Symbol + "-" + strconv.FormatInt(time.Now().UnixMilli(), 10),
			Symbol:         pos.Symbol,
			Side:           side,
			OrderType:      string(envelope.OrderTypeMarket),
			Quantity:       strconv.FormatFloat(qty, 'f', -1, 64),
		})
		if err != nil {
			return fmt.Errorf("flatten %s: %w", pos.Symbol, err)
		}
	}
	return nil
}

// busPublisher adapts the Bus to pipeline.Publisher and
// reconciler.DriftEventPublisher, publishing on the events stream under
// this process's own identity.
type busPublisher struct {
	bus     *bus.Bus
	cfg     *config.Config
	metrics *metrics.Metrics
}

func (p *busPublisher) PublishRejection(ctx context.Context, evt envelope.RejectionEvent) error {
	p.metrics.RecordRejection(string(evt.Reason))
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	subject := (bus.Subjects{Namespace: p.cfg.Bus.Namespace}).ExecutionReject()
	_, err = p.bus.Publish(ctx, p.cfg.Identity, subject, bus.StreamEvents, payload)
	return err
}

func (p *busPublisher) PublishAccepted(ctx context.Context, intentID, orderID string) error {
	p.metrics.IntentsAccepted.Inc()
	payload, err := json.Marshal(map[string]string{"intent_id": intentID, "order_id": orderID})
	if err != nil {
		return err
	}
	subject := (bus.Subjects{Namespace: p.cfg.Bus.Namespace}).ExecutionState()
	_, err = p.bus.Publish(ctx, p.cfg.Identity, subject, bus.StreamEvents, payload)
	return err
}

// PublishStateChange emits an armed/breaker transition on ExecutionState(),
// the subject spec §6 reserves for "arm/disarm/breaker transitions" (not
// to be confused with PublishAccepted's per-intent acknowledgement).
func (p *busPublisher) PublishStateChange(ctx context.Context, evt envelope.StateChangeEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	subject := (bus.Subjects{Namespace: p.cfg.Bus.Namespace}).ExecutionState()
	_, err = p.bus.Publish(ctx, p.cfg.Identity, subject, bus.StreamEvents, payload)
	return err
}

func (p *busPublisher) PublishDrift(ctx context.Context, symbol, shadowValue, exchangeValue string) error {
	payload, err := json.Marshal(map[string]string{"symbol": symbol, "shadow": shadowValue, "exchange": exchangeValue})
	if err != nil {
		return err
	}
	subject := (bus.Subjects{Namespace: p.cfg.Bus.Namespace}).ExecutionDrift()
	_, err = p.bus.Publish(ctx, p.cfg.Identity, subject, bus.StreamEvents, payload)
	return err
}

// busPolicyAdvertiser publishes this process's loaded policy hash on
// PolicyAdvertised() so a promoted Cortex leader can confirm agreement
// before emitting intents (spec §4.B).
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
	sub, err := a.bus.Subscribe(context.Background(), a.cfg.Identity, "motor-policy-advertiser", subject, bus.StreamEvents, 8)
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

// operatorHandler applies signed Operator Commands received over the bus
// to the running process's interlock, replacing the earlier design where
// a separate CLI invocation wrote process_state directly and the running
// daemon never observed the change (spec §4.D/§5/§6: "operator HALT is
// authoritative").
type operatorHandler struct {
	interlock *armed.Interlock
	flattener *paperFlattener
	pub       *busPublisher
	db        *sql.DB
	secret    []byte
	logger    *logging.Logger
}

// verify checks the timestamp skew and HMAC signature of a received
// Operator Command, the same discipline the intent pipeline applies to
// intents (spec §5: "HMAC timestamp window 300 s").
func (h *operatorHandler) verify(raw []byte) (envelope.OperatorCommand, bool) {
	var cmd envelope.OperatorCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.logger.Base().WithError(err).Warn("malformed operator command")
		return cmd, false
	}
	skew := time.Now().UnixMilli() - cmd.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Millisecond > pipeline.TimestampSkew {
		h.logger.Base().Warn("operator command outside accepted timestamp skew")
		return cmd, false
	}
	if !envelope.VerifyOperatorCommand(h.secret, cmd) {
		h.logger.Base().Warn("operator command failed signature verification")
		return cmd, false
	}
	return cmd, true
}

func (h *operatorHandler) audit(ctx context.Context, cmd envelope.OperatorCommand, result string) {
	auditStore := postgres.NewBaseStore(h.db, "operator_audit")
	_, _ = auditStore.ExecContext(ctx,
		`INSERT INTO operator_audit (actor_id, command_id, action, issued_at, applied_at, result)
		 VALUES ($1, $2, $3, to_timestamp($4/1000.0), now(), $5)
		 ON CONFLICT (command_id) DO NOTHING`,
		cmd.ActorID, cmd.CommandID, string(cmd.Action), cmd.Timestamp, result)
}

// HandleTransition applies a signed arm or disarm command and emits the
// resulting state-change event.
func (h *operatorHandler) HandleTransition(ctx context.Context, raw []byte) {
	cmd, ok := h.verify(raw)
	if !ok {
		return
	}

	from := h.interlock.Current()
	var to armed.State
	var applyErr error
	switch cmd.Action {
	case envelope.ActionArm:
		to = armed.Armed
		applyErr = h.interlock.Arm(ctx)
	case envelope.ActionDisarm:
		to = armed.Disarmed
		applyErr = h.interlock.Disarm(ctx)
	default:
		h.logger.Base().WithField("action", cmd.Action).Warn("unexpected action on operator transition subject")
		return
	}

	result := "applied"
	if applyErr != nil {
		result = "failed: " + applyErr.Error()
		h.logger.Base().WithError(applyErr).Error("apply operator command")
	} else if h.pub != nil {
		evt := envelope.StateChangeEvent{Kind: "armed_state", From: string(from), To: string(to), Reason: "operator_" + string(cmd.Action), Timestamp: time.Now().UnixMilli()}
		if perr := h.pub.PublishStateChange(ctx, evt); perr != nil {
			h.logger.Base().WithError(perr).Warn("publish state change event")
		}
	}
	h.audit(ctx, cmd, result)
}

// HandleHalt applies a signed emergency halt per spec §5 "Cancellation":
// (i) pause the pipeline — the HALTED state blocks placement exactly like
// DISARMED does — (ii) flatten every open position, (iii) settle on
// DISARMED, (iv) emit the state-change event.
func (h *operatorHandler) HandleHalt(ctx context.Context, raw []byte) {
	cmd, ok := h.verify(raw)
	if !ok {
		return
	}
	if cmd.Action != envelope.ActionHalt {
		h.logger.Base().WithField("action", cmd.Action).Warn("unexpected action on sys.halt subject")
		return
	}

	from := h.interlock.Current()
	result := "applied"

	if err := h.interlock.Halt(ctx); err != nil {
		result = "failed: " + err.Error()
		h.logger.Base().WithError(err).Error("pause pipeline on halt")
		h.audit(ctx, cmd, result)
		return
	}
	if err := h.flattener.FlattenAll(ctx); err != nil {
		h.logger.Base().WithError(err).Error("flatten-all on halt")
		result = "flatten failed: " + err.Error()
	}
	if err := h.interlock.Disarm(ctx); err != nil {
		result = "failed: " + err.Error()
		h.logger.Base().WithError(err).Error("disarm after halt")
	} else if h.pub != nil {
		evt := envelope.StateChangeEvent{Kind: "armed_state", From: string(from), To: string(armed.Disarmed), Reason: "operator_halt", Timestamp: time.Now().UnixMilli()}
		if perr := h.pub.PublishStateChange(ctx, evt); perr != nil {
			h.logger.Base().WithError(perr).Warn("publish state change event")
		}
	}
	h.audit(ctx, cmd, result)
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

func defaultACL(cfg *config.Config) *bus.ACL {
	ns := cfg.Bus.Namespace
	return bus.NewACL(
		bus.ACLRule{Identity: cfg.Identity, SubjectPrefix: ns + ".cmd.execution.place", CanPublish: false, CanSubscribe: true},
		bus.ACLRule{Identity: cfg.Identity, SubjectPrefix: ns + ".cmd.operator.", CanPublish: false, CanSubscribe: true},
		bus.ACLRule{Identity: cfg.Identity, SubjectPrefix: ns + ".cmd.sys.halt", CanPublish: false, CanSubscribe: true},
		bus.ACLRule{Identity: cfg.Identity, SubjectPrefix: ns + ".evt.", CanPublish: true, CanSubscribe: true},
		bus.ACLRule{Identity: "*", SubjectPrefix: ns + ".cmd.execution.place", CanPublish: true, CanSubscribe: false},
		bus.ACLRule{Identity: "*", SubjectPrefix: ns + ".cmd.operator.", CanPublish: true, CanSubscribe: false},
		bus.ACLRule{Identity: "*", SubjectPrefix: ns + ".cmd.sys.halt", CanPublish: true, CanSubscribe: false},
	)
}

func loadSecretAndPolicy(ctx context.Context, cfg *config.Config, logger *logging.Logger) ([]byte, *policy.Document, string) {
	vaultPath := os.Getenv("MOTORCORTEX_VAULT_PATH")
	if vaultPath == "" {
		vaultPath = "motor.vault"
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
	hash, err := doc.Hash()
	if err != nil {
		logger.Fatal("hash policy document", nil)
	}
	return []byte(secretHex), doc, hash
}

// loadOperatorSecret opens the same vault loadSecretAndPolicy does but
// fetches the separate operator-identity HMAC secret (spec §6: "signed by
// a separate operator identity") used to verify Operator Commands arriving
// on the bus, independent of the bus's own intent-signing secret.
func loadOperatorSecret(cfg *config.Config, logger *logging.Logger) []byte {
	vaultPath := os.Getenv("MOTORCORTEX_VAULT_PATH")
	if vaultPath == "" {
		vaultPath = "motor.vault"
	}
	store, err := credstore.Open(vaultPath, []byte(cfg.Security.MasterSecret))
	if err != nil {
		logger.Fatal("open credential vault", nil)
	}
	secretHex, ok := store.Get("operator", "hmac_secret")
	if !ok {
		logger.Fatal("operator HMAC secret not present in vault", nil)
	}
	return []byte(secretHex)
}

func runAdminServer(ctx context.Context, p *process) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"armed_state":   string(p.armedGate.Current()),
			"breaker_state": string(p.breaker.Current()),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", p.cfg.Health.Port), Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		p.logger.Base().WithError(err).Warn("admin server stopped")
	}
}

// runOperatorCommand signs an arm/disarm/halt transition and publishes it
// on the bus for the running Motor daemon to apply. It never touches
// process_state itself: a CLI invocation and the daemon enforcing the
// interlock are different processes, and only the daemon's in-memory
// Interlock is what the intent pipeline actually consults (spec §4.D/§5:
// "operator HALT is authoritative" against the live process, not a row a
// restart would be needed to pick up).
func runOperatorCommand(cfg *config.Config, logger *logging.Logger, action envelope.OperatorAction) {
	ctx := context.Background()

	secret := loadOperatorSecret(cfg, logger)

	actor := os.Getenv("MOTORCORTEX_OPERATOR_ID")
	if actor == "" {
		actor = "cli"
	}
	cmd := envelope.OperatorCommand{
		CommandID: strconv.FormatInt(time.Now().UnixNano(), 10),
		ActorID:   actor,
		Action:    action,
		Timestamp: time.Now().UnixMilli(),
	}
	cmd.Signature = envelope.SignOperatorCommand(secret, cmd)
	if !envelope.VerifyOperatorCommand(secret, cmd) {
		logger.Fatal("operator command failed self-verification", nil)
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		logger.Fatal("marshal operator command", nil)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open database", nil)
	}
	defer db.Close()

	transport := newTransport(cfg, logger)
	acl := defaultACL(cfg)
	cursorStore := postgres.NewPostgresCursorStore(db)
	busFace := bus.New(transport, acl, cursorStore)

	subjects := bus.Subjects{Namespace: cfg.Bus.Namespace}
	var subject string
	switch action {
	case envelope.ActionArm:
		subject = subjects.OperatorArm()
	case envelope.ActionDisarm:
		subject = subjects.OperatorDisarm()
	case envelope.ActionHalt:
		subject = subjects.SysHalt()
	default:
		logger.Fatal("unsupported operator action", nil)
	}

	// Published under a distinct "operator" identity, never the daemon's
	// own cfg.Identity, so the ACL's deny rule for that identity on this
	// subject prefix (defaultACL) cannot shadow the operator grant.
	if _, err := busFace.Publish(ctx, "operator", subject, bus.StreamCommands, payload); err != nil {
		logger.Fatal("publish operator command", nil)
	}
	fmt.Printf("%s: published (command_id=%s)\n", action, cmd.CommandID)
}

func runReconcileNow(cfg *config.Config, logger *logging.Logger) {
	ctx := context.Background()
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open database", nil)
	}
	defer db.Close()

	_, doc, _ := loadSecretAndPolicy(ctx, cfg, logger)
	driver := exchange.NewPaperDriver()
	shadowStore := shadow.New()
	stateBackend := postgres.NewStateBackend(db)
	interlock, err := armed.New(ctx, stateBackend)
	if err != nil {
		logger.Fatal("load armed state", nil)
	}
	breakerGate, err := breaker.New(ctx, stateBackend, doc.Breaker, interlock, nil)
	if err != nil {
		logger.Fatal("load breaker state", nil)
	}
	detector := drift.New(drift.Thresholds{SoftMagnitude: 0.01, RepeatCount: cfg.Reconcile.DriftBars}, breakerGate)
	recon := reconciler.New(driver, shadowStore, detector, nil, doc, logger.Base())
	if err := recon.Tick(ctx); err != nil {
		logger.Fatal("reconcile tick failed", nil)
	}
	fmt.Println("reconciliation tick complete")
}

func runShowState(cfg *config.Config, logger *logging.Logger) {
	ctx := context.Background()
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open database", nil)
	}
	defer db.Close()

	stateBackend := postgres.NewStateBackend(db)
	interlock, err := armed.New(ctx, stateBackend)
	if err != nil {
		logger.Fatal("load armed state", nil)
	}
	doc, err := policy.Load(cfg.Security.PolicyFile)
	var breakerState string
	if err == nil {
		b, berr := breaker.New(ctx, stateBackend, doc.Breaker, interlock, nil)
		if berr == nil {
			breakerState = string(b.Current())
		}
	}
	fmt.Printf("armed_state=%s breaker_state=%s\n", interlock.Current(), breakerState)
}
