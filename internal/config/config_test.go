package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REPLICATE_POLL_INTERVAL_MS", "")
	t.Setenv("REPLICATE_TIMEOUT_MS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Replicate.PollInterval != time.Second {
		t.Errorf("expected 1s poll interval, got %v", cfg.Replicate.PollInterval)
	}
	if cfg.Replicate.Timeout != 2*time.Minute {
		t.Errorf("expected 2m timeout, got %v", cfg.Replicate.Timeout)
	}
	if cfg.Replicate.AuthScheme != "Token" {
		t.Errorf("unexpected auth scheme %q", cfg.Replicate.AuthScheme)
	}
	if cfg.Gemini.Model != "gemini-pro" {
		t.Errorf("unexpected gemini model %q", cfg.Gemini.Model)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REPLICATE_BASE_URL", "http://replicate.local/v1/")
	t.Setenv("REPLICATE_POLL_INTERVAL_MS", "250")
	t.Setenv("REPLICATE_TIMEOUT_MS", "5000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Replicate.BaseURL != "http://replicate.local/v1" {
		t.Errorf("trailing slash not trimmed: %s", cfg.Replicate.BaseURL)
	}
	if cfg.Replicate.PollInterval != 250*time.Millisecond {
		t.Errorf("unexpected poll interval %v", cfg.Replicate.PollInterval)
	}
	if cfg.Replicate.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Replicate.Timeout)
	}
}

func TestReadSecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("r8_secret\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("REPLICATE_API_TOKEN", "")
	t.Setenv("REPLICATE_API_TOKEN_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Replicate.APIToken != "r8_secret" {
		t.Errorf("expected secret from file, got %q", cfg.Replicate.APIToken)
	}
}
