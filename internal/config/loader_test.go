package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Accumulator.Window != 7*time.Second {
		t.Errorf("expected 7s accumulator window, got %v", cfg.Accumulator.Window)
	}
	if cfg.Routing.AutoReplyThreshold != 90 {
		t.Errorf("expected threshold 90, got %d", cfg.Routing.AutoReplyThreshold)
	}
	total := cfg.Routing.Weights.Generation + cfg.Routing.Weights.Calendar +
		cfg.Routing.Weights.Kanban + cfg.Routing.Weights.Knowledge
	if total < 0.999 || total > 1.001 {
		t.Errorf("default weights should sum to 1.0, got %f", total)
	}
}

func TestLoadFileWithEnvSubstitution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	os.Setenv("REPLYDESK_CONFIG", path)
	defer os.Unsetenv("REPLYDESK_CONFIG")
	os.Setenv("TEST_TG_TOKEN", "tok-123")
	defer os.Unsetenv("TEST_TG_TOKEN")

	content := `{
		"owner": {"reviewerId": "42", "channel": "telegram"},
		"channels": {"telegram": {"enabled": true, "token": "${TEST_TG_TOKEN}"}},
		"routing": {"autoReplyThreshold": 85}
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Owner.ReviewerID != "42" {
		t.Errorf("expected reviewer id 42, got %q", cfg.Owner.ReviewerID)
	}
	if cfg.Channels.Telegram.Token != "tok-123" {
		t.Errorf("env substitution failed, got %q", cfg.Channels.Telegram.Token)
	}
	if cfg.Routing.AutoReplyThreshold != 85 {
		t.Errorf("expected threshold 85 from file, got %d", cfg.Routing.AutoReplyThreshold)
	}
	// Untouched groups keep their defaults.
	if cfg.Gateway.Port != 18890 {
		t.Errorf("expected default gateway port, got %d", cfg.Gateway.Port)
	}
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.json")
	path := filepath.Join(dir, "config.json")

	os.Setenv("REPLYDESK_CONFIG", path)
	defer os.Unsetenv("REPLYDESK_CONFIG")

	if err := os.WriteFile(base, []byte(`{"routing": {"workingHoursStart": 8, "workingHoursEnd": 20}}`), 0600); err != nil {
		t.Fatalf("write base: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"$include": "base.json", "routing": {"workingHoursEnd": 17}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Routing.WorkingHoursStart != 8 {
		t.Errorf("expected included start 8, got %d", cfg.Routing.WorkingHoursStart)
	}
	if cfg.Routing.WorkingHoursEnd != 17 {
		t.Errorf("expected override end 17, got %d", cfg.Routing.WorkingHoursEnd)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	os.Setenv("REPLYDESK_CONFIG", path)
	defer os.Unsetenv("REPLYDESK_CONFIG")
	os.Setenv("REPLYDESK_OWNER_REVIEWER_ID", "env-owner")
	defer os.Unsetenv("REPLYDESK_OWNER_REVIEWER_ID")

	if err := os.WriteFile(path, []byte(`{"owner": {"reviewerId": "file-owner"}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Owner.ReviewerID != "env-owner" {
		t.Errorf("expected env to win, got %q", cfg.Owner.ReviewerID)
	}
}
