package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("APP_PORT", "")
	t.Setenv("CLASSIFIER_URL", "")
	t.Setenv("CLASSIFIER_TIMEOUT_MS", "")
	t.Setenv("NOTIFIER_BUFFER_SIZE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Backend != StoreBackendPostgres {
		t.Errorf("backend = %q, want %q", cfg.Store.Backend, StoreBackendPostgres)
	}
	if cfg.Store.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.Store.MaxRetries)
	}
	if cfg.App.Port != "5000" {
		t.Errorf("port = %q, want 5000", cfg.App.Port)
	}
	if cfg.Classifier.Timeout() != 3*time.Second {
		t.Errorf("classifier timeout = %v", cfg.Classifier.Timeout())
	}
	if cfg.Classifier.CacheTTL() != 0 {
		t.Errorf("cache ttl = %v, want disabled", cfg.Classifier.CacheTTL())
	}
	if cfg.Notifier.BufferSize != 64 {
		t.Errorf("buffer size = %d", cfg.Notifier.BufferSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("CLASSIFIER_TIMEOUT_MS", "250")
	t.Setenv("NOTIFIER_USE_REDIS", "true")
	t.Setenv("STORE_MAX_RETRIES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Classifier.Timeout() != 250*time.Millisecond {
		t.Errorf("timeout = %v", cfg.Classifier.Timeout())
	}
	if !cfg.Notifier.UseRedis {
		t.Error("expected redis notifier")
	}
	if cfg.Store.MaxRetries != 3 {
		t.Errorf("invalid int should fall back, got %d", cfg.Store.MaxRetries)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestRequestTimeout(t *testing.T) {
	if (AppConfig{RequestTimeoutSeconds: 0}).RequestTimeout() != 0 {
		t.Error("zero seconds should disable the timeout")
	}
	if (AppConfig{RequestTimeoutSeconds: 5}).RequestTimeout() != 5*time.Second {
		t.Error("expected 5s")
	}
}
