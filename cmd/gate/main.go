// Command gate runs the live-data lens gate: a rate-limited,
// multi-provider fetch pipeline fronted by LLM-security gating,
// hash-chained audit logging, and JWT-based authorization.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/novaos/lensgate/internal/audit"
	"github.com/novaos/lensgate/internal/authz"
	"github.com/novaos/lensgate/internal/config"
	"github.com/novaos/lensgate/internal/entity"
	"github.com/novaos/lensgate/internal/gatehttp"
	"github.com/novaos/lensgate/internal/kvstore"
	"github.com/novaos/lensgate/internal/lens"
	"github.com/novaos/lensgate/internal/llmsec"
	"github.com/novaos/lensgate/internal/provider"
	"github.com/novaos/lensgate/internal/ratelimit"
	"github.com/novaos/lensgate/internal/retention"
	"github.com/novaos/lensgate/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()

	vaultAddr := os.Getenv("VAULT_ADDR")
	vaultToken := os.Getenv("VAULT_TOKEN")
	secretPath := os.Getenv("VAULT_SECRET_PATH")
	if secretPath == "" {
		secretPath = "secret/data/novaos/lens-gate"
	}

	cfg, err := config.Load(ctx, vaultAddr, vaultToken, secretPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	if cfg.OTelEndpoint != "" {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.ServiceName, cfg.OTelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", cfg.OTelEndpoint))
		}
		mp, err := telemetry.InitMeterProvider(ctx, cfg.ServiceName, cfg.OTelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// ── Canonical KV store + audit store ───────────────────────────────
	var store kvstore.Store
	var auditStore audit.Store
	var pool *pgxpool.Pool
	if cfg.PostgresURL != "" {
		pool, err = pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("postgres connection failed", zap.Error(err))
		}
		defer pool.Close()
		store = kvstore.NewPostgresStore(pool)
		auditStore = audit.NewPostgresStore(pool)
		logger.Info("connected to postgres-backed kvstore and audit store")
	} else {
		store = kvstore.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		logger.Info("no PG_URL configured, running with in-memory kvstore and audit store")
	}

	// ── NATS JetStream fan-out for the audit chain ──────────────────────
	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
		if err != nil {
			logger.Error("NATS connection failed, continuing without event fan-out", zap.Error(err))
		} else {
			js, err := jetstream.New(natsConn)
			if err != nil {
				logger.Error("jetstream init failed, continuing without event fan-out", zap.Error(err))
			} else if err := audit.EnsureStream(ctx, js); err != nil {
				logger.Error("stream provisioning failed, continuing without event fan-out", zap.Error(err))
			} else {
				auditStore = audit.NewStreamedStore(auditStore, js)
				logger.Info("audit events fanning out to LENS_EVENTS stream")
			}
		}
	}

	// ── Redis: response cache and rate-limit/session state only, never
	// the canonical Store contract ──────────────────────────────────────
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})

	// ── Provider registry ────────────────────────────────────────────────
	gate := ratelimit.NewGate([]ratelimit.ProviderConfig{
		{Name: "finnhub", WindowMs: int64(time.Minute / time.Millisecond), MaxRequests: 60, PerUserMax: 10},
		{Name: "openweathermap", WindowMs: int64(time.Minute / time.Millisecond), MaxRequests: 60, PerUserMax: 10},
		{Name: "exchangerate", WindowMs: int64(time.Minute / time.Millisecond), MaxRequests: 30, PerUserMax: 5},
	})
	tierGate := ratelimit.NewTierGate(store, nil)

	registry := provider.NewRegistry(store, gate)
	registry.SetMaxConcurrency(cfg.MaxProviderConcurrency)
	if cfg.FinnhubAPIKey != "" {
		registry.Register(provider.NewFinnhubProvider(cfg.FinnhubAPIKey))
	}
	if cfg.OpenWeatherMapAPIKey != "" {
		registry.Register(provider.NewOpenWeatherMapProvider(cfg.OpenWeatherMapAPIKey))
	}
	registry.Register(provider.NewExchangeRateProvider())

	validator := entity.NewValidator(registry)
	classifier := lens.NewClassifier(nil) // no LLM fallback: vendor wire protocol is out of scope

	llmProvider := &unconfiguredProvider{}
	llmClient := llmsec.NewClient(llmProvider, auditStore, redisClient)

	// ── Authorization ────────────────────────────────────────────────────
	var verifier authz.Verifier = authz.DenyAllVerifier{}
	if cfg.JWKSURL != "" {
		jwksVerifier, err := authz.NewJWKSVerifier(cfg.JWKSURL)
		if err != nil {
			logger.Fatal("jwks verifier init failed", zap.Error(err))
		}
		verifier = jwksVerifier
	} else {
		logger.Warn("no JWKS_URL configured, authentication is fail-closed (every token denied)")
	}

	ownership := authz.NewOwnershipRegistry()
	ownership.Register("audit_entry", func(ctx context.Context, userID, entityID string) (bool, error) {
		entry, err := auditStore.Get(ctx, entityID)
		if err != nil {
			return false, err
		}
		return entry.UserID == userID, nil
	})
	authMW := authz.NewMiddleware(verifier, ownership, auditStore)

	// ── Health ───────────────────────────────────────────────────────────
	health := telemetry.NewHealthAggregator(8)
	health.Register("kvstore", func(ctx context.Context) error {
		_, err := store.Get(ctx, "__healthcheck__")
		if err == kvstore.ErrNotFound {
			return nil
		}
		return err
	}, true)
	health.Register("audit_store", func(ctx context.Context) error {
		_, err := auditStore.Query(ctx, audit.Query{Limit: 1})
		return err
	}, true)
	health.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}, false)
	for _, p := range []provider.Provider{
		provider.NewFinnhubProvider(cfg.FinnhubAPIKey),
		provider.NewOpenWeatherMapProvider(cfg.OpenWeatherMapAPIKey),
		provider.NewExchangeRateProvider(),
	} {
		p := p
		health.Register("provider_"+p.Name(), func(ctx context.Context) error {
			if !p.IsAvailable() {
				return errors.New(p.Name() + " unavailable: no API key configured")
			}
			return nil // availability surfaced via IsAvailable, not a network probe
		}, false)
	}

	// ── HTTP server ──────────────────────────────────────────────────────
	e := gatehttp.NewServer(cfg.ServiceName, logger)
	health.RegisterRoutes(e)

	deps := gateDeps{
		tierGate:   tierGate,
		validator:  validator,
		classifier: classifier,
		llmClient:  llmClient,
		auditStore: auditStore,
		logger:     logger,
	}
	registerRoutes(e, authMW, deps)

	// ── Retention scheduler ──────────────────────────────────────────────
	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 365
	}
	scheduler := retention.NewScheduler(auditStore, retentionDays, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error("retention scheduler failed to start", zap.Error(err))
	}

	go func() {
		logger.Info("lens-gate HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	scheduler.Stop()
	if natsConn != nil {
		natsConn.Drain()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	logger.Info("lens-gate shut down cleanly")
}

// unconfiguredProvider satisfies llmsec.Provider without talking to any
// vendor. No LLM vendor integration ships in this repo; wiring one in
// means implementing this interface and passing it to llmsec.NewClient
// in place of this stub.
type unconfiguredProvider struct{}

func (unconfiguredProvider) Complete(ctx context.Context, req llmsec.Request) (llmsec.Response, error) {
	return llmsec.Response{}, errUnconfiguredProvider
}

var errUnconfiguredProvider = &unconfiguredProviderError{}

type unconfiguredProviderError struct{}

func (*unconfiguredProviderError) Error() string {
	return "llmsec: no vendor provider configured"
}

// gateDeps bundles the dependencies registerRoutes needs, kept as one
// struct so adding a dependency doesn't ripple through every handler
// constructor's argument list.
type gateDeps struct {
	tierGate   *ratelimit.TierGate
	validator  *entity.Validator
	classifier *lens.Classifier
	llmClient  *llmsec.Client
	auditStore audit.Store
	logger     *zap.Logger
}
