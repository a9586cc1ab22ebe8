package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if len(cfg.Coordinator.Workers) != 4 {
		t.Fatalf("expected 4 default workers, got %d", len(cfg.Coordinator.Workers))
	}
	wantRoles := []string{"buyer", "seller", "price", "neighborhood"}
	for i, role := range wantRoles {
		if cfg.Coordinator.Workers[i].Role != role {
			t.Errorf("worker %d: expected role %s, got %s", i, role, cfg.Coordinator.Workers[i].Role)
		}
	}
	if cfg.Coordinator.Workers[2].URL != "http://localhost:8003/run" {
		t.Errorf("expected price url http://localhost:8003/run, got %s", cfg.Coordinator.Workers[2].URL)
	}
	if cfg.Coordinator.RetryBackoff != time.Second {
		t.Errorf("expected retry backoff 1s, got %v", cfg.Coordinator.RetryBackoff)
	}
	if cfg.NATS.Port != 4222 || cfg.NATS.Host != "127.0.0.1" || cfg.NATS.EventRetention != 24*time.Hour {
		t.Errorf("unexpected nats defaults %+v", cfg.NATS)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.Store.Path != "data/realtymesh.db" {
		t.Errorf("expected store path data/realtymesh.db, got %s", cfg.Store.Path)
	}
	if cfg.Store.Retention != 720*time.Hour || cfg.Store.PruneSchedule != "0 3 * * *" {
		t.Errorf("unexpected retention defaults %v %q", cfg.Store.Retention, cfg.Store.PruneSchedule)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("REALTYMESH_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("REALTYMESH_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("REALTYMESH_WEB_PASSWORD", "secret")
	t.Setenv("REALTYMESH_WEB_PORT", "9090")
	t.Setenv("REALTYMESH_LLM_PROVIDER", "ollama")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if cfg.LLM.APIKey != "sk-test-key" {
		t.Errorf("expected anthropic key sk-test-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected provider ollama, got %s", cfg.LLM.Provider)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
telegram:
  token: "yaml-token"
  allow_from: [123, 456]
coordinator:
  retry_backoff: 250ms
  workers:
    - role: buyer
      url: "http://buyer:9000/run"
      timeout: 5s
      max_retries: 2
    - role: inspector
      url: "http://inspector:9000/run"
web:
  port: 3000
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REALTYMESH_CONFIG", cfgPath)
	// Clear any env overrides
	t.Setenv("REALTYMESH_TELEGRAM_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "yaml-token" {
		t.Errorf("expected yaml-token, got %s", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowFrom) != 2 {
		t.Errorf("expected 2 allow_from entries, got %d", len(cfg.Telegram.AllowFrom))
	}
	if cfg.Coordinator.RetryBackoff != 250*time.Millisecond {
		t.Errorf("expected retry backoff 250ms, got %v", cfg.Coordinator.RetryBackoff)
	}
	if len(cfg.Coordinator.Workers) != 2 {
		t.Fatalf("expected the file's 2 workers to replace defaults, got %d", len(cfg.Coordinator.Workers))
	}
	buyer := cfg.Coordinator.Workers[0]
	if buyer.Timeout != 5*time.Second || buyer.MaxRetries != 2 {
		t.Errorf("expected buyer timeout 5s/2 retries, got %v/%d", buyer.Timeout, buyer.MaxRetries)
	}
	inspector := cfg.Coordinator.Workers[1]
	if inspector.Timeout != DefaultTimeout || inspector.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected inspector defaults, got %v/%d", inspector.Timeout, inspector.MaxRetries)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
}

func TestLoadKeepsDefaultWorkersWhenFileOmitsThem(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("web:\n  port: 7000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Coordinator.Workers) != 4 {
		t.Errorf("expected default fleet of 4, got %d", len(cfg.Coordinator.Workers))
	}
}

func TestValidateRejectsDuplicateRoles(t *testing.T) {
	cfg := defaults()
	cfg.Coordinator.Workers = append(cfg.Coordinator.Workers, WorkerEndpoint{Role: "buyer", URL: "http://x/run"})
	if err := cfg.Validate(); err == nil {
		t.Error("expected duplicate role error")
	}

	cfg = defaults()
	cfg.Coordinator.Workers[0].URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing url error")
	}
}

func TestValidateRejectsBlankURL(t *testing.T) {
	for _, url := range []string{"", " ", "\t\n", " \r\n "} {
		cfg := defaults()
		cfg.Coordinator.Workers[0].URL = url
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for url %q", url)
		}
	}
}
