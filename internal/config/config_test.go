package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("JOURNAL_ACCESS_TTL_SECONDS", "")
	t.Setenv("REDIS_URL", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("expected redis disabled by default, got %q", cfg.RedisURL)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("unexpected model default %q", cfg.OpenAIModel)
	}
}

func TestLoadOverridesAndBadValues(t *testing.T) {
	t.Setenv("JOURNAL_ACCESS_TTL_SECONDS", "60")
	t.Setenv("JOURNAL_REFLECTION_RPS", "2.5")
	t.Setenv("JOURNAL_REFLECTION_BURST", "many")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.AccessTTL != time.Minute {
		t.Fatalf("expected 1m access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.ReflectionRPS != 2.5 {
		t.Fatalf("expected rps 2.5, got %v", cfg.ReflectionRPS)
	}
	if cfg.ReflectionBurst != 3 {
		t.Fatalf("expected fallback burst 3 for bad value, got %d", cfg.ReflectionBurst)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("expected MinioUseSSL true")
	}
}
