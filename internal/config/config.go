// Package config provides configuration loading and validation for the
// companion service. Values come from config.yaml, AISIM_* environment
// variables, and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines all runtime settings for the memory core and its shells.
type Config struct {
	LogLevel  string `mapstructure:"log_level"  validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`

	DBPath string `mapstructure:"db_path" validate:"required"`

	AI   AIConfig   `mapstructure:"ai"`
	Chat ChatConfig `mapstructure:"chat"`

	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// AIConfig configures the LLM oracle backends.
type AIConfig struct {
	Backend     string        `mapstructure:"backend"     validate:"oneof=openai gemini"`
	Token       string        `mapstructure:"token"       validate:"required"`
	BaseURL     string        `mapstructure:"base_url"    validate:"omitempty,url"`
	Model       string        `mapstructure:"model"       validate:"required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Timeout     time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`
	// MaxContextTokens bounds the assembled envelope; blocks are truncated in
	// priority order to fit.
	MaxContextTokens int `mapstructure:"max_context_tokens" validate:"min=1000,max=200000"`
}

// ChatConfig holds the memory and history tunables.
type ChatConfig struct {
	HistoryWindow       int           `mapstructure:"history_window"        validate:"min=1,max=100"`
	MemoryLimit         int           `mapstructure:"memory_limit"          validate:"min=1,max=500"`
	CompressThreshold   int           `mapstructure:"compress_threshold"    validate:"min=4"`
	CompressBlockSize   int           `mapstructure:"compress_block_size"   validate:"min=2"`
	CompressMinMessages int           `mapstructure:"compress_min_messages" validate:"min=1"`
	ShortReplyCutoff    int           `mapstructure:"short_reply_cutoff"    validate:"min=1"`
	CharacterCacheTTL   time.Duration `mapstructure:"character_cache_ttl"   validate:"min=0"`
}

// TelegramConfig configures the optional Telegram shell. An empty token
// disables the bot.
type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	AdminID int64  `mapstructure:"admin_id"`
}

// SchedulerConfig configures the background jobs.
type SchedulerConfig struct {
	CompressSweepInterval time.Duration `mapstructure:"compress_sweep_interval" validate:"min=1m"`
	MaintenanceInterval   time.Duration `mapstructure:"maintenance_interval"    validate:"min=1m"`
}

// Load reads configuration from the given YAML file, overlays AISIM_*
// environment variables, and validates the result. A missing config file is
// not an error; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("AISIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("db_path", "companion.db")

	v.SetDefault("ai.backend", "openai")
	// Secrets default to empty so environment overrides bind without a
	// config file entry.
	v.SetDefault("ai.token", "")
	v.SetDefault("ai.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ai.model", "openai/gpt-4o-2024-11-20")
	v.SetDefault("ai.temperature", 0.8)
	v.SetDefault("ai.timeout", time.Minute)
	v.SetDefault("ai.max_context_tokens", 16000)

	v.SetDefault("chat.history_window", 10)
	v.SetDefault("chat.memory_limit", 50)
	v.SetDefault("chat.compress_threshold", 60)
	v.SetDefault("chat.compress_block_size", 40)
	v.SetDefault("chat.compress_min_messages", 3)
	v.SetDefault("chat.short_reply_cutoff", 10)
	v.SetDefault("chat.character_cache_ttl", 5*time.Minute)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_id", 0)

	v.SetDefault("scheduler.compress_sweep_interval", 15*time.Minute)
	v.SetDefault("scheduler.maintenance_interval", 24*time.Hour)
}
