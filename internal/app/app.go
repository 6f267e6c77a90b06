// Package app assembles the registration service from configuration: stores,
// collaborators, audit sinks, tracing and the HTTP router. cmd/server and
// ipxctl serve share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ipx/internal/catalog"
	"ipx/internal/identity"
	"ipx/internal/ledger"
	"ipx/internal/platform/config"
	"ipx/internal/platform/httpserver"
	"ipx/internal/platform/kafka"
	httpmetrics "ipx/internal/platform/metrics"
	"ipx/internal/platform/middleware"
	"ipx/internal/platform/postgres"
	"ipx/internal/platform/redis"
	"ipx/internal/platform/tracing"
	"ipx/internal/proofs"
	"ipx/internal/ratelimit"
	"ipx/internal/registration/adapters"
	"ipx/internal/registration/handler"
	regmetrics "ipx/internal/registration/metrics"
	"ipx/internal/registration/service"
	"ipx/internal/registration/store"
	vmetrics "ipx/internal/verification/metrics"
	"ipx/internal/verification/providers"
	"ipx/internal/verification/providers/remote"
	"ipx/internal/verification/providers/sandbox"
	verification "ipx/internal/verification/service"
	"ipx/pkg/platform/audit"
	"ipx/pkg/platform/audit/publisher"
	auditkafka "ipx/pkg/platform/audit/store/kafka"
	auditmemory "ipx/pkg/platform/audit/store/memory"
	auditpg "ipx/pkg/platform/audit/store/postgres"
	"ipx/pkg/platform/circuit"
	"ipx/pkg/platform/httputil"
	authmw "ipx/pkg/platform/middleware/auth"
	"ipx/pkg/platform/middleware/metadata"
	"ipx/pkg/platform/middleware/request"
	"ipx/pkg/platform/middleware/requesttime"
)

const serviceName = "ipx"

// healthCheck reports whether one backing dependency is reachable.
type healthCheck struct {
	name  string
	check func(context.Context) error
}

// App is a fully wired service instance.
type App struct {
	Config   *config.Config
	Service  *service.Service
	Identity *identity.Service
	Router   http.Handler

	logger    *slog.Logger
	registry  *prometheus.Registry
	redisDB   *redis.Client
	publisher *publisher.Publisher
	tracing   *tracing.Provider
	checks    []healthCheck
	runners   []func(context.Context) error
	closers   []func(context.Context) error
}

// New wires every component named in cfg. On error, resources opened so far
// are released.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{
		Config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.tracing = tp
	a.closers = append(a.closers, tp.Shutdown)

	regStore, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	led := a.buildLedger()

	proofStore, err := a.buildProofs()
	if err != nil {
		return nil, err
	}

	router, err := a.buildVerification(led)
	if err != nil {
		return nil, err
	}

	auditStore, err := a.buildAuditStore(ctx)
	if err != nil {
		return nil, err
	}
	a.publisher = publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Audit.Buffer),
		publisher.WithLogger(logger),
		publisher.WithMetrics(publisher.NewMetrics(a.registry)),
	)

	svc, err := service.New(regStore, catalog.Default(),
		adapters.NewVerificationAdapter(router),
		adapters.NewLedgerAdapter(led),
		adapters.NewProofsAdapter(proofStore),
		service.WithLogger(logger),
		service.WithAuditPublisher(a.publisher),
		service.WithMetrics(regmetrics.NewWithRegistry(a.registry)),
		service.WithTracer(tp.Tracer()),
		service.WithVerificationTimeout(cfg.Verification.Timeout),
		service.WithSubmissionTimeout(cfg.Ledger.Timeout),
		service.WithSubmissionLease(cfg.Ledger.SubmissionLease),
		service.WithLocation(cfg.CalendarLocation()),
	)
	if err != nil {
		return nil, fmt.Errorf("registration service: %w", err)
	}
	a.Service = svc

	a.Identity = identity.NewService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience,
		identity.WithLeeway(cfg.Auth.Leeway),
	)
	a.Router = a.buildRouter()
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (service.Store, error) {
	cfg := a.Config
	switch cfg.Store.Driver {
	case config.DriverRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redisDB = client
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		a.checks = append(a.checks, healthCheck{name: "redis", check: client.Health})
		return store.NewRedisStore(client.Client, cfg.Store.TTL), nil
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closePool(pool))
		a.checks = append(a.checks, healthCheck{name: "postgres", check: pool.Ping})
		st := store.NewPostgresStore(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("registration schema: %w", err)
		}
		return st, nil
	default:
		return store.NewInMemoryStore(), nil
	}
}

func (a *App) buildLedger() ledger.Ledger {
	cfg := a.Config.Ledger
	if cfg.Driver != config.DriverHTTP {
		return ledger.NewInMemoryLedger()
	}
	breaker := circuit.New("ledger",
		circuit.WithFailureThreshold(cfg.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.SuccessThreshold),
		circuit.WithCooldown(cfg.BreakerCooldown),
	)
	client := ledger.NewClient(cfg.BaseURL, cfg.Timeout,
		ledger.WithBreaker(breaker),
		ledger.WithClientLogger(a.logger),
	)
	a.checks = append(a.checks, healthCheck{name: "ledger", check: client.Health})
	return client
}

func (a *App) buildProofs() (proofs.Store, error) {
	cfg := a.Config.Proofs
	if cfg.Driver == config.DriverFS {
		st, err := proofs.NewFSStore(cfg.Dir, cfg.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("proof store: %w", err)
		}
		return st, nil
	}
	return proofs.NewMemoryStore(cfg.MaxSize), nil
}

// buildVerification registers a remote provider for every routing key with a
// configured base URL and, in sandbox mode, a sandbox provider for the rest.
func (a *App) buildVerification(registry verification.Registry) (*verification.Service, error) {
	cfg := a.Config.Verification
	c := catalog.Default()
	reg := providers.NewProviderRegistry()

	for _, key := range c.RoutingKeys() {
		baseURL, ok := cfg.Providers[string(key)]
		if !ok || baseURL == "" {
			continue
		}
		if err := reg.Register(remote.New(key, baseURL, cfg.APIKey, cfg.ProviderTimeout)); err != nil {
			return nil, fmt.Errorf("register provider %s: %w", key, err)
		}
	}
	if cfg.Sandbox {
		for _, p := range sandbox.ForCatalog(c, sandbox.WithLatency(cfg.SandboxLatency)) {
			if _, taken := reg.Get(p.Capabilities().RoutingKey); taken {
				continue
			}
			if err := reg.Register(p); err != nil {
				return nil, fmt.Errorf("register sandbox provider: %w", err)
			}
		}
	}

	router, err := verification.New(c, reg, registry,
		verification.WithLogger(a.logger),
		verification.WithMetrics(vmetrics.NewWithRegistry(a.registry)),
		verification.WithTracer(a.tracing.Tracer()),
		verification.WithProviderTimeout(cfg.ProviderTimeout),
		verification.WithCacheTTL(cfg.CacheTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("verification router: %w", err)
	}
	a.checks = append(a.checks, healthCheck{name: "verification", check: router.Health})
	return router, nil
}

// buildAuditStore returns the sink behind the publisher. The postgres driver
// writes an outbox; when brokers are configured a relay forwards it to Kafka.
func (a *App) buildAuditStore(ctx context.Context) (audit.Store, error) {
	cfg := a.Config.Audit
	switch cfg.Driver {
	case config.DriverKafka:
		producer, err := a.kafkaProducer(ctx)
		if err != nil {
			return nil, err
		}
		return auditkafka.New(producer), nil
	case config.DriverPostgres:
		db, err := postgres.OpenDB(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeDB(db))
		st := auditpg.New(db)
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		if len(cfg.Brokers) > 0 {
			producer, err := a.kafkaProducer(ctx)
			if err != nil {
				return nil, err
			}
			relay := auditpg.NewRelay(db, auditkafka.New(producer), cfg.RelayInterval, a.logger)
			a.runners = append(a.runners, relay.Run)
		}
		return st, nil
	default:
		return auditmemory.NewInMemoryStore(), nil
	}
}

func (a *App) kafkaProducer(ctx context.Context) (*kafka.Producer, error) {
	kcfg := KafkaConfig(a.Config.Audit)
	if err := kafka.EnsureTopic(ctx, kcfg, a.logger); err != nil {
		return nil, fmt.Errorf("audit topic: %w", err)
	}
	producer, err := kafka.NewProducer(kcfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		producer.Close()
		return nil
	})
	a.checks = append(a.checks, healthCheck{name: "kafka", check: producer.Ping})
	return producer, nil
}

// KafkaConfig maps the audit section onto the Kafka client configuration.
func KafkaConfig(cfg config.AuditConfig) kafka.Config {
	return kafka.Config{
		Brokers:           cfg.Brokers,
		Topic:             cfg.Topic,
		Partitions:        cfg.Partitions,
		ReplicationFactor: cfg.Replication,
		ClientID:          serviceName,
	}
}

func (a *App) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.Logger(a.logger))
	r.Use(middleware.Latency(httpmetrics.NewWithRegistry(a.registry)))

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	regHandler := handler.New(a.Service, a.logger, handler.WithMaxProofSize(a.Config.Proofs.MaxSize))
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(authmw.RequireAuth(identity.NewAdapter(a.Identity), a.logger))
		if a.Config.RateLimit.Enabled {
			r.Use(a.buildRateLimiter().Handler)
		}
		regHandler.Register(r)
	})
	return r
}

// buildRateLimiter shares windows through Redis when the registration store
// already uses it.
func (a *App) buildRateLimiter() *ratelimit.Middleware {
	cfg := a.Config.RateLimit
	var st ratelimit.Store = ratelimit.NewInMemoryStore()
	if a.redisDB != nil {
		st = ratelimit.NewRedisStore(a.redisDB.Client)
	}
	limits := ratelimit.Limits{
		ratelimit.ClassRead:         {Requests: cfg.Reads, Window: cfg.Window},
		ratelimit.ClassWrite:        {Requests: cfg.Writes, Window: cfg.Window},
		ratelimit.ClassVerification: {Requests: cfg.Verification, Window: cfg.Window},
	}
	return ratelimit.New(st, limits, a.logger)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(a.checks))}
	status := http.StatusOK
	for _, hc := range a.checks {
		if err := hc.check(ctx); err != nil {
			a.logger.WarnContext(ctx, "health check failed", "check", hc.name, "error", err)
			resp.Checks[hc.name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[hc.name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}

// Run serves HTTP and the background runners until ctx is cancelled, then
// shuts the server down and waits for in-flight verification work.
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config.Server
	srv := httpserver.New(cfg.Addr, a.Router,
		httpserver.WithReadTimeout(cfg.ReadTimeout),
		httpserver.WithWriteTimeout(cfg.WriteTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfoContext(gctx, "http server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, run := range a.runners {
		g.Go(func() error { return run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		a.logger.InfoContext(shutdownCtx, "shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		if err := a.Service.Wait(shutdownCtx); err != nil {
			a.logger.WarnContext(shutdownCtx, "verification work still running at shutdown", "error", err)
		}
		return nil
	})
	return g.Wait()
}

// Close flushes the audit publisher and releases resources in reverse order.
func (a *App) Close(ctx context.Context) error {
	if a.publisher != nil {
		a.publisher.Close()
		a.publisher = nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func closePool(pool *pgxpool.Pool) func(context.Context) error {
	return func(context.Context) error {
		pool.Close()
		return nil
	}
}

func closeDB(db *sql.DB) func(context.Context) error {
	return func(context.Context) error { return db.Close() }
}
