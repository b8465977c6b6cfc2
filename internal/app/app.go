package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sobhihamadi/TakwaFortress-sub000/internal/auth"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/config"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/event"
	handler "github.com/sobhihamadi/TakwaFortress-sub000/internal/handler/http"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/repository/memory"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/repository/postgres"
	redisrepo "github.com/sobhihamadi/TakwaFortress-sub000/internal/repository/redis"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/restriction"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/restriction/agent"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/routing"
	"github.com/sobhihamadi/TakwaFortress-sub000/internal/service"
	"github.com/sobhihamadi/TakwaFortress-sub000/migrations"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/database"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/health"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/httpclient"
	pkgkafka "github.com/sobhihamadi/TakwaFortress-sub000/pkg/kafka"
	"github.com/sobhihamadi/TakwaFortress-sub000/pkg/tracing"
)

const serviceName = "fortressd"

// App wires together all dependencies and runs fortressd.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	accountEvents  *pkgkafka.Consumer
	httpServer     *http.Server
	watcher        *service.ExpiryWatcher
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Postgres, Redis and Kafka are optional; without them state is kept in
// memory and events are dropped.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	stores, err := a.initStores(ctx, healthHandler)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	// Kafka is opt-in.
	var publisher pkgkafka.Publisher = pkgkafka.NopPublisher{}
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := pingKafkaWithRetry(ctx, a.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		publisher = a.producer
		producer := a.producer
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}
	events := event.NewProducer(publisher, logger)

	// Cross-instance cache invalidation needs both a shared cache and a bus.
	if cache, ok := stores.Accounts.(*redisrepo.CachedAccountStore); ok && a.producer != nil {
		idempotency := pkgkafka.NewRedisIdempotencyStore(a.redis, "fortress:events:", 24*time.Hour)
		a.accountEvents = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  "fortressd-" + cfg.LocalDeviceID + "-account-updated",
			Topic:    event.TopicAccountUpdated,
			MinBytes: 1,
			MaxBytes: 10e6,
		}, pkgkafka.IdempotentHandler(idempotency, event.NewConsumer(cache, logger).HandleAccountUpdated, logger), logger)
	}

	// Device agent behind retries and a circuit breaker.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.DeviceAgentTimeout()
	agentClient := agent.NewClient(
		cfg.DeviceAgentURL,
		httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), httpclient.DefaultCircuitBreakerConfig("device-agent"), logger),
		logger,
	)
	healthHandler.RegisterNonCritical("device_agent", func(ctx context.Context) error {
		_, err := agentClient.IsHeld(ctx)
		return err
	})

	device := service.Device{
		ID:        cfg.LocalDeviceID,
		Layers:    restriction.NewSet(agentClient),
		Authority: agentClient,
		DNSHost:   cfg.FilterDNSHost,
	}

	// Build the dependency graph.
	lifecycle := service.NewLifecycle(stores, device, events, logger)
	deactivator := service.NewDeactivator(stores, device, events, logger)
	activator := service.NewActivator(stores, device, events, service.ActivatorOptions{
		Rollback: cfg.ActivationRollback,
		Harden:   cfg.HardenDevice,
	}, logger)
	a.watcher = service.NewExpiryWatcher(lifecycle, deactivator, cfg.ExpiryInterval(), logger)

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	// HTTP router.
	router := handler.NewRouter(handler.Services{
		Routing:     routing.NewService(stores.Accounts, cfg.LocalDeviceID, logger),
		Lifecycle:   lifecycle,
		Activator:   activator,
		Deactivator: deactivator,
	}, verifier.TokenVerifier(), healthHandler, logger, handler.RouterConfig{
		RateLimitRPM:      cfg.RateLimitRPM,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initStores picks Postgres and Redis when configured and falls back to
// in-memory stores otherwise.
func (a *App) initStores(ctx context.Context, healthHandler *health.Handler) (service.Stores, error) {
	cfg, logger := a.cfg, a.logger

	stores := service.Stores{
		Policies:    memory.NewPolicyStore(),
		Accounts:    memory.NewAccountStore(),
		BlockedApps: memory.NewPackageList(),
		UserBlocks:  memory.NewPackageList(),
		Scratch:     memory.NewScratchStore(),
	}

	if cfg.PostgresHost != "" {
		pgCfg := cfg.Postgres()
		pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
		if err != nil {
			return stores, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
			logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}

		// Run database migrations.
		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			return stores, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")

		// Configure slow query logging.
		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
		}

		stores.Policies = postgres.NewPolicyRepository(pool)
		stores.Accounts = postgres.NewAccountRepository(pool)
		stores.BlockedApps = postgres.NewBlockedAppRepository(pool)
		stores.UserBlocks = postgres.NewUserBlockListRepository(pool)
		healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
	} else {
		logger.Warn("POSTGRES_HOST not set, policy and account state is kept in memory")
	}

	if cfg.RedisAddr != "" {
		client, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return stores, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

		stores.Accounts = redisrepo.NewCachedAccountStore(stores.Accounts, client, cfg.AccountCacheTTL(), logger)
		stores.Scratch = redisrepo.NewScratchStore(client, cfg.ScratchStateTTL())
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	return stores, nil
}

// Run starts the HTTP server, the Kafka consumer and the expiry watcher,
// then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("device_id", a.cfg.LocalDeviceID),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.accountEvents != nil {
		go func() {
			if err := a.accountEvents.Start(ctx); err != nil {
				errCh <- fmt.Errorf("account events consumer: %w", err)
			}
		}()
	}

	// Automatic teardown once the commitment expires.
	go a.watcher.Run(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumer and producer
// 4. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (10s, activation can be slow).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Kafka.
	if a.accountEvents != nil {
		if err := a.accountEvents.Close(); err != nil {
			a.logger.Error("account events consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Stores.
	a.closeStores()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeStores() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		err := producer.Ping(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
