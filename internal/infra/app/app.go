package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/config"
	"github.com/arklim/community-identity/internal/infra/database"
	kafkainfra "github.com/arklim/community-identity/internal/infra/kafka"
	"github.com/arklim/community-identity/internal/infra/logger"
	"github.com/arklim/community-identity/internal/infra/oidc"
	redisinfra "github.com/arklim/community-identity/internal/infra/redis"
	"github.com/arklim/community-identity/internal/infra/security"
	"github.com/arklim/community-identity/internal/infra/telemetry"
	"github.com/arklim/community-identity/internal/repository/memory"
	postgresrepo "github.com/arklim/community-identity/internal/repository/postgres"
	redisrepo "github.com/arklim/community-identity/internal/repository/redis"
	"github.com/arklim/community-identity/internal/transport/http/middleware"
	"github.com/arklim/community-identity/internal/transport/http/routes"
	"github.com/arklim/community-identity/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	store    *postgresrepo.Store
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	resets   *usecase.PasswordResetService
}

type storage struct {
	accounts port.AccountRepository
	tokens   port.TokenRepository
	store    *postgresrepo.Store
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			a.release(context.Background())
		}
	}()

	if cfg.Telemetry.TracingEnabled {
		a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	persistence, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	a.store = persistence.store

	rateLimitStore, err := a.openRateLimitStore(ctx)
	if err != nil {
		return nil, err
	}

	events := a.eventPublisher()

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	sessions, err := security.NewSessionIssuer(security.SessionConfig{
		Secret:      []byte(cfg.Session.SigningSecret),
		Issuer:      cfg.Session.Issuer,
		Audience:    cfg.Session.Audience,
		DefaultTTL:  cfg.Session.DefaultTTL,
		ExtendedTTL: cfg.Session.ExtendedTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init session issuer: %w", err)
	}

	policy := security.NewPasswordPolicy(security.PasswordPolicyConfig{
		MinLength:           cfg.PasswordPolicy.MinLength,
		MaxLength:           cfg.PasswordPolicy.MaxLength,
		MinCharacterClasses: cfg.PasswordPolicy.MinCharacterClasses,
		MinStrengthScore:    cfg.PasswordPolicy.MinStrengthScore,
	})

	accounts := usecase.NewAccountService(persistence.accounts, events, cfg.Federated.LinkPolicy, log)
	vault := usecase.NewTokenVault(persistence.tokens, cfg.Tokens.VerificationTTL, cfg.Tokens.PasswordResetTTL, log).
		WithMetrics(metrics)
	guard := usecase.NewAbuseGuard(rateLimitStore, cfg.RateLimit, log).WithMetrics(metrics)
	notifier := usecase.NewNotifier(events, cfg.Links.BaseURL, log)

	services := routes.ServiceSet{
		Auth:          usecase.NewAuthService(accounts, hasher, sessions, guard, notifier, log).WithMetrics(metrics),
		Registration:  usecase.NewRegistrationService(accounts, hasher, policy, vault, guard, notifier, log),
		PasswordReset: usecase.NewPasswordResetService(accounts, hasher, policy, vault, guard, notifier, log),
		Accounts:      accounts,
		Guard:         guard,
	}

	a.resets = services.PasswordReset

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Services:    services,
		HTTPMetrics: httpMetrics,
		Gatherer:    registry,
	}
	if a.store != nil {
		deps.Database = a.store
	}
	if a.redis != nil {
		deps.Cache = a.redis
	}
	if cfg.Federated.Google.Enabled {
		google, err := oidc.NewGoogleProvider(ctx, cfg.Federated.Google)
		if err != nil {
			return nil, fmt.Errorf("init google provider: %w", err)
		}
		deps.Federated = google
		log.Info("federated login enabled", zap.String("provider", google.Name()))
	}

	a.engine = routes.Register(deps)
	ok = true
	return a, nil
}

func (a *Application) openStorage(ctx context.Context) (storage, error) {
	if a.cfg.Storage.Driver == config.StorageDriverMemory {
		a.logger.Warn("using in-memory storage; accounts are lost on restart")
		return storage{accounts: memory.NewAccountRepository(), tokens: memory.NewTokenRepository()}, nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres, a.logger)
	if err != nil {
		return storage{}, fmt.Errorf("init postgres: %w", err)
	}
	store := postgresrepo.NewStoreFromPool(pool)
	if a.cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, pool, a.logger); err != nil {
			store.Close()
			return storage{}, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	repos := postgresrepo.NewRepositories(pool)
	return storage{accounts: repos.Accounts, tokens: repos.Tokens, store: store}, nil
}

func (a *Application) openRateLimitStore(ctx context.Context) (port.RateLimitStore, error) {
	if a.cfg.RateLimit.Store == config.RateLimitStoreMemory {
		a.logger.Info("rate limit counters kept in process memory")
		return memory.NewRateLimitRepository(), nil
	}

	client, err := redisinfra.NewClient(ctx, a.cfg.Redis, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	a.redis = client
	return redisrepo.NewRateLimitRepository(client.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: a.cfg.Redis.RateLimitPrefix,
	}), nil
}

func (a *Application) eventPublisher() port.EventPublisher {
	if !a.cfg.Kafka.Enabled {
		a.logger.Info("kafka disabled, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.producer = producer
	a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.release(context.Background())

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting identity API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("storage", a.cfg.Storage.Driver),
		zap.String("rate_limit_store", a.cfg.RateLimit.Store),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// release closes backing resources in reverse order of acquisition.
func (a *Application) release(ctx context.Context) {
	// Reset emails handed off by finished requests still need storage and the producer.
	if a.resets != nil {
		a.resets.Wait()
		a.resets = nil
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("failed to close kafka producer", zap.Error(err))
		}
		a.producer = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", zap.Error(err))
		}
		a.tracer = nil
	}
}
