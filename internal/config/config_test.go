package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REASONING_PROVIDER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Reasoning.MaxTokens != 500 {
		t.Errorf("expected default max tokens 500, got %d", cfg.Reasoning.MaxTokens)
	}
	if cfg.Reasoning.Temperature != 0.7 {
		t.Errorf("expected default temperature 0.7, got %v", cfg.Reasoning.Temperature)
	}
	if cfg.AIEnabled() {
		t.Error("expected AI to be disabled without a provider")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REASONING_PROVIDER", "Gemini")
	t.Setenv("REASONING_TIMEOUT", "15s")
	t.Setenv("UPLOAD_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Reasoning.Provider != "gemini" {
		t.Errorf("expected provider to be lower-cased, got %q", cfg.Reasoning.Provider)
	}
	if cfg.Reasoning.Timeout != 15*time.Second {
		t.Errorf("expected 15s timeout, got %v", cfg.Reasoning.Timeout)
	}
	if cfg.Upload.Concurrency != 4 {
		t.Errorf("expected fallback concurrency 4, got %d", cfg.Upload.Concurrency)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	t.Setenv("REASONING_PROVIDER", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestValidateRejectsBadPrefix(t *testing.T) {
	t.Setenv("REASONING_PROVIDER", "")
	t.Setenv("UPLOAD_PUBLIC_PREFIX", "files")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for prefix without slashes")
	}
}

func TestValidateRejectsRetentionShorterThanIdleTTL(t *testing.T) {
	t.Setenv("REASONING_PROVIDER", "")
	t.Setenv("SESSION_IDLE_TTL", "2h")
	t.Setenv("HISTORY_RETENTION", "30m")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when retention could purge live sessions")
	}

	t.Setenv("HISTORY_RETENTION", "2h")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("retention equal to the idle TTL should load: %v", err)
	}
	if cfg.HistoryRetention != 2*time.Hour {
		t.Fatalf("unexpected retention %s", cfg.HistoryRetention)
	}
}
