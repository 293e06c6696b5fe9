package config

import (
	"context"
	"os"
	"testing"
)

func TestLoad_FallsBackToDefaultsWithoutVault(t *testing.T) {
	os.Unsetenv("HTTP_PORT")
	os.Unsetenv("MAX_PROVIDER_CONCURRENCY")

	cfg, err := Load(context.Background(), "", "", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default HTTP port 8080, got %q", cfg.HTTPPort)
	}
	if cfg.MaxProviderConcurrency != 5 {
		t.Fatalf("expected default concurrency 5, got %d", cfg.MaxProviderConcurrency)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("MAX_PROVIDER_CONCURRENCY", "12")

	cfg, err := Load(context.Background(), "", "", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "9090" {
		t.Fatalf("expected overridden HTTP port 9090, got %q", cfg.HTTPPort)
	}
	if cfg.MaxProviderConcurrency != 12 {
		t.Fatalf("expected overridden concurrency 12, got %d", cfg.MaxProviderConcurrency)
	}
}

func TestEnvOrInt_FallsBackOnUnparsableValue(t *testing.T) {
	t.Setenv("AUDIT_RETENTION_DAYS", "not-a-number")
	if got := envOrInt("AUDIT_RETENTION_DAYS", 365); got != 365 {
		t.Fatalf("expected fallback 365 on unparsable env value, got %d", got)
	}
}
