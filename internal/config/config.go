// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath      = "config.toml"
	DefaultSessionTTL      = "24h"
	DefaultSessionCapacity = 1000
	DefaultSweepSpec       = "@hourly"
	DefaultRevertAfter     = "1m"
	DefaultTimeout         = "60s"
	DefaultMaxContextTurns = 30
	DefaultInlineAttempts  = 3
	DefaultPrefsPath       = "data/plume.db"
	DefaultErrorText       = "Sorry, I can't answer that right now. Please try again later."
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Mastodon   MastodonConfig   `toml:"mastodon"`
	Models     ModelsConfig     `toml:"models"`
	Session    SessionConfig    `toml:"session"`
	Completion CompletionConfig `toml:"completion"`
	Prefs      PrefsConfig      `toml:"prefs"`
	Prompts    map[string]string `toml:"prompts"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MastodonConfig holds the instance URL, credentials, and the bot's own identity.
type MastodonConfig struct {
	Server      string  `toml:"server"`
	AccessToken string  `toml:"access_token"`
	Handle      string  `toml:"handle"`
	Domain      string  `toml:"domain"`
	PostsPerMin float64 `toml:"posts_per_minute"`
}

// ProviderConfig holds credentials for one backend provider.
type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// ModelsConfig holds the ordered backend candidates and provider credentials.
//
// Candidates use the form "provider/model-id", e.g. "gemini/gemini-2.5-flash".
// Images is an explicit capability table keyed by candidate id; candidates not
// listed fall back to a model-name substring heuristic.
type ModelsConfig struct {
	Candidates  []string                  `toml:"candidates"`
	RevertAfter string                    `toml:"revert_after"`
	Providers   map[string]ProviderConfig `toml:"providers"`
	Images      map[string]bool           `toml:"images"`
}

// SessionConfig holds session TTL, capacity, and sweep schedule.
type SessionConfig struct {
	TTL       string `toml:"ttl"`
	Capacity  int    `toml:"capacity"`
	SweepSpec string `toml:"sweep_spec"`
}

// CompletionConfig holds prompt, retry, and error-classification settings.
type CompletionConfig struct {
	SystemPrompt      string   `toml:"system_prompt"`
	ErrorText         string   `toml:"error_text"`
	Timeout           string   `toml:"timeout"`
	MaxContextTurns   int      `toml:"max_context_turns"`
	InlineAttempts    int      `toml:"inline_attempts"`
	RateLimitPatterns []string `toml:"rate_limit_patterns"`
	NotFoundPatterns  []string `toml:"not_found_patterns"`
}

// PrefsConfig holds the per-user preference store location.
type PrefsConfig struct {
	DBPath string `toml:"db_path"`
}

// TTLDuration returns the parsed session TTL.
func (c SessionConfig) TTLDuration() time.Duration {
	return parseDuration(c.TTL, 24*time.Hour)
}

// RevertAfterDuration returns the parsed auto-revert interval.
func (c ModelsConfig) RevertAfterDuration() time.Duration {
	return parseDuration(c.RevertAfter, time.Minute)
}

// TimeoutDuration returns the parsed per-invocation backend timeout.
func (c CompletionConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 60*time.Second)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Mastodon: MastodonConfig{
			PostsPerMin: 10,
		},
		Models: ModelsConfig{
			RevertAfter: DefaultRevertAfter,
		},
		Session: SessionConfig{
			TTL:       DefaultSessionTTL,
			Capacity:  DefaultSessionCapacity,
			SweepSpec: DefaultSweepSpec,
		},
		Completion: CompletionConfig{
			ErrorText:       DefaultErrorText,
			Timeout:         DefaultTimeout,
			MaxContextTurns: DefaultMaxContextTurns,
			InlineAttempts:  DefaultInlineAttempts,
		},
		Prefs: PrefsConfig{
			DBPath: DefaultPrefsPath,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if cfg.Session.Capacity <= 0 {
		cfg.Session.Capacity = DefaultSessionCapacity
	}
	if cfg.Completion.MaxContextTurns <= 0 {
		cfg.Completion.MaxContextTurns = DefaultMaxContextTurns
	}
	if cfg.Completion.InlineAttempts <= 0 {
		cfg.Completion.InlineAttempts = DefaultInlineAttempts
	}
	if cfg.Completion.ErrorText == "" {
		cfg.Completion.ErrorText = DefaultErrorText
	}

	return cfg, nil
}
