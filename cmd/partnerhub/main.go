// Package main is the entry point for the partnerhub onboarding server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/partnerhub/internal/approval"
	"github.com/pitabwire/partnerhub/internal/capability"
	"github.com/pitabwire/partnerhub/internal/config"
	"github.com/pitabwire/partnerhub/internal/db"
	"github.com/pitabwire/partnerhub/internal/idempotency"
	"github.com/pitabwire/partnerhub/internal/notify"
	"github.com/pitabwire/partnerhub/internal/observability"
	"github.com/pitabwire/partnerhub/internal/onboarding"
	"github.com/pitabwire/partnerhub/internal/openapi"
	"github.com/pitabwire/partnerhub/internal/transport"
	"github.com/pitabwire/partnerhub/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

// stores bundles the persistence backends chosen by configuration.
type stores struct {
	onboarding onboarding.Store
	requests   approval.Store
	events     workflow.EventStore
	health     observability.HealthChecker
	close      func()
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "partnerhub", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	api, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("API document load failed", zap.Error(err))
		return 1
	}

	secret := os.Getenv(cfg.Identity.SecretEnv)
	if secret == "" {
		logger.Error("token signing secret not set", zap.String("env", cfg.Identity.SecretEnv))
		return 1
	}

	capResolver, err := buildCapabilityResolver(cfg.Capability, metrics, logger)
	if err != nil {
		logger.Error("capability resolver initialization failed", zap.Error(err))
		return 1
	}

	st, err := buildStores(ctx, cfg.Onboarding.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}
	defer st.close()

	notifier, notifierHealth, closeNotifier, err := buildNotifier(ctx, cfg.Notifications, logger)
	if err != nil {
		logger.Error("notifier initialization failed", zap.Error(err))
		return 1
	}
	defer closeNotifier()

	idemStore, idemHealth, closeIdem, err := buildIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}
	defer closeIdem()

	svc := onboarding.NewService(st.onboarding, onboarding.WithExpectedDuration(cfg.Onboarding.ExpectedDuration))
	ledger := approval.NewLedger(st.requests)
	ctrl := workflow.NewController(svc, ledger,
		workflow.WithEventStore(st.events),
		workflow.WithNotifier(notifier),
		workflow.WithLogger(logger),
		workflow.WithMetrics(metrics),
		workflow.WithAutoInitialize(cfg.Onboarding.AutoInitialize),
	)

	if pending, err := ctrl.ListPendingApprovals(ctx, ""); err != nil {
		logger.Warn("could not count pending reversal requests", zap.Error(err))
	} else {
		metrics.SetPendingReversals(float64(len(pending)))
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Metrics:            metrics,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, []byte(secret)),
		CapabilityResolver: capResolver,
		Controller:         ctrl,
		API:                api,
		Idempotency:        idemStore,
		Readiness: observability.ReadinessChecks{
			OpenAPILoaded:    func() bool { return len(api.OperationIDs()) > 0 },
			OnboardingStore:  st.health,
			IdempotencyStore: idemHealth,
			Notifier:         notifierHealth,
		},
		MetricsHandler: observability.Handler(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("api_version", api.Version()),
		zap.String("store", cfg.Onboarding.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildCapabilityResolver creates the cached role-to-capability resolver.
func buildCapabilityResolver(cfg config.CapabilityConfig, metrics *observability.Metrics, logger *zap.Logger) (*capability.Resolver, error) {
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("static policy: %w", err)
	}
	logger.Info("capability policy loaded",
		zap.String("file", cfg.StaticPolicyFile),
		zap.Strings("roles", evaluator.Roles()),
	)
	return capability.NewResolver(evaluator, cfg.Cache.TTL,
		capability.WithMaxEntries(cfg.Cache.MaxEntries),
		capability.WithCacheObserver(metrics),
	), nil
}

// buildStores creates the onboarding, ledger and audit stores. All three
// share one backend.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (stores, error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory onboarding stores")
		return stores{
			onboarding: onboarding.NewMemoryStore(),
			requests:   approval.NewMemoryStore(),
			events:     workflow.NewMemoryEventStore(),
			close:      func() {},
		}, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return stores{}, fmt.Errorf("%s environment variable not set", cfg.DSNEnv)
		}
		pool, err := db.Connect(ctx, dsn, cfg)
		if err != nil {
			return stores{}, fmt.Errorf("postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := db.EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return stores{}, err
			}
		}
		pgStore := onboarding.NewPgStore(pool)
		return stores{
			onboarding: pgStore,
			requests:   approval.NewPgStore(pool),
			events:     workflow.NewPgEventStore(pool),
			health:     pgStore,
			close:      pool.Close,
		}, nil
	default:
		return stores{}, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}

// buildNotifier creates the notification sink. The redis driver publishes
// to a channel behind a circuit breaker and also logs each notification.
func buildNotifier(ctx context.Context, cfg config.NotificationsConfig, logger *zap.Logger) (notify.Notifier, observability.HealthChecker, func(), error) {
	logNotifier := notify.NewLogNotifier(logger)
	switch cfg.Driver {
	case "log", "":
		return logNotifier, nil, func() {}, nil
	case "redis":
		client, err := newRedisClient(ctx, cfg.AddrEnv, cfg.DB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("notifications: %w", err)
		}
		pub := notify.NewBreaker(notify.NewRedisNotifier(client, cfg.Channel),
			cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold, cfg.Breaker.OpenTimeout)
		logger.Info("publishing notifications to redis", zap.String("channel", cfg.Channel))
		return notify.Multi{logNotifier, pub}, pub, func() { _ = client.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported notifications driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when idempotency is disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, observability.HealthChecker, func(), error) {
	if !cfg.Enabled {
		return nil, nil, func() {}, nil
	}
	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		store := idempotency.NewMemoryStore()
		return store, store, func() {}, nil
	case "redis":
		client, err := newRedisClient(ctx, cfg.Store.AddrEnv, cfg.Store.DB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("idempotency: %w", err)
		}
		store := idempotency.NewRedisStore(client)
		return store, store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}

func newRedisClient(ctx context.Context, addrEnv string, database int) (*redis.Client, error) {
	addr := os.Getenv(addrEnv)
	if addr == "" {
		return nil, fmt.Errorf("%s environment variable not set", addrEnv)
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: database})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
