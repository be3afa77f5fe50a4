package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/baltabekpro/aisimulator-sub001/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
ai:
  token: test-token
telegram:
  token: bot-token
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("log defaults = %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.AI.Backend != "openai" || cfg.AI.Timeout != time.Minute || cfg.AI.MaxContextTokens != 16000 {
		t.Errorf("ai defaults = %+v", cfg.AI)
	}
	if cfg.Chat.CompressBlockSize != 40 || cfg.Chat.CompressMinMessages != 3 || cfg.Chat.ShortReplyCutoff != 10 {
		t.Errorf("chat defaults = %+v", cfg.Chat)
	}
	if cfg.Scheduler.CompressSweepInterval != 15*time.Minute {
		t.Errorf("scheduler defaults = %+v", cfg.Scheduler)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
log_level: debug
db_path: /tmp/companion.db
ai:
  backend: gemini
  token: test-token
  model: gemini-2.0-flash
  timeout: 30s
chat:
  history_window: 20
  compress_threshold: 80
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.DBPath != "/tmp/companion.db" {
		t.Errorf("top-level overrides = %s / %s", cfg.LogLevel, cfg.DBPath)
	}
	if cfg.AI.Backend != "gemini" || cfg.AI.Model != "gemini-2.0-flash" || cfg.AI.Timeout != 30*time.Second {
		t.Errorf("ai overrides = %+v", cfg.AI)
	}
	if cfg.Chat.HistoryWindow != 20 || cfg.Chat.CompressThreshold != 80 {
		t.Errorf("chat overrides = %+v", cfg.Chat)
	}
	// Untouched keys keep their defaults.
	if cfg.Chat.MemoryLimit != 50 {
		t.Errorf("memory_limit = %d, want default 50", cfg.Chat.MemoryLimit)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AISIM_AI_TOKEN", "env-token")
	t.Setenv("AISIM_LOG_LEVEL", "warn")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.AI.Token != "env-token" {
		t.Errorf("ai token = %q, want env-token", cfg.AI.Token)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q, want warn", cfg.LogLevel)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing ai token",
			yaml: "log_level: info\n",
		},
		{
			name: "unknown backend",
			yaml: "ai:\n  backend: anthropic\n  token: x\n",
		},
		{
			name: "context window too small",
			yaml: "ai:\n  token: x\n  max_context_tokens: 10\n",
		},
		{
			name: "bad log level",
			yaml: "log_level: verbose\nai:\n  token: x\n",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := config.Load(writeConfig(t, tt.yaml)); err == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
		})
	}
}
