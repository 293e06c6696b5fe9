// Package config loads the gate's settings from, in increasing
// precedence: .env (local dev convenience), process environment, then
// Vault KV v2 (the source of truth in any deployed environment, so a
// stale .env committed to a repo can never override it).
package config

import (
	"context"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is every externally-configurable setting the gate needs to
// start.
type Config struct {
	HTTPPort string

	PostgresURL string
	RedisURL    string
	NATSURL     string
	JWKSURL     string

	OTelEndpoint string
	ServiceName  string

	FinnhubAPIKey        string
	OpenWeatherMapAPIKey string

	MaxProviderConcurrency int
	RetentionDays          int
}

// Load reads .env (if present), then the process environment, then
// overlays any matching keys found in Vault at secretPath. vaultAddr
// and vaultToken may be empty to skip Vault entirely (local dev without
// a running Vault instance).
func Load(ctx context.Context, vaultAddr, vaultToken, secretPath string) (*Config, error) {
	_ = godotenv.Load() // best-effort; a missing .env is not an error

	cfg := &Config{
		HTTPPort:               envOr("HTTP_PORT", "8080"),
		PostgresURL:            envOr("PG_URL", ""),
		RedisURL:               envOr("REDIS_URL", "redis:6379"),
		NATSURL:                envOr("NATS_URL", "nats://nats:4222"),
		JWKSURL:                envOr("JWKS_URL", ""),
		OTelEndpoint:           envOr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:            envOr("SERVICE_NAME", "lens-gate"),
		FinnhubAPIKey:          envOr("FINNHUB_API_KEY", ""),
		OpenWeatherMapAPIKey:   envOr("OPENWEATHERMAP_API_KEY", ""),
		MaxProviderConcurrency: envOrInt("MAX_PROVIDER_CONCURRENCY", 5),
		RetentionDays:          envOrInt("AUDIT_RETENTION_DAYS", 365),
	}

	if vaultAddr == "" || vaultToken == "" {
		return cfg, nil
	}

	vault, err := newVaultSecrets(vaultAddr, vaultToken)
	if err != nil {
		return nil, err
	}
	data, err := vault.readKV2(secretPath)
	if err != nil {
		return nil, err
	}

	cfg.PostgresURL = stringField(data, "PG_URL", cfg.PostgresURL)
	cfg.RedisURL = stringField(data, "REDIS_URL", cfg.RedisURL)
	cfg.NATSURL = stringField(data, "NATS_URL", cfg.NATSURL)
	cfg.JWKSURL = stringField(data, "JWKS_URL", cfg.JWKSURL)
	cfg.FinnhubAPIKey = stringField(data, "FINNHUB_API_KEY", cfg.FinnhubAPIKey)
	cfg.OpenWeatherMapAPIKey = stringField(data, "OPENWEATHERMAP_API_KEY", cfg.OpenWeatherMapAPIKey)

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
