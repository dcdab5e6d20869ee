// Package config loads gateway configuration from an optional YAML file
// plus environment overrides. The result is read once at startup and never
// mutated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isaacmorgado/clauded/internal/compact"
	"github.com/isaacmorgado/clauded/internal/dispatch"
)

// Config is the full gateway configuration.
type Config struct {
	Server     ServerConfig                         `yaml:"server"`
	Providers  map[dispatch.Provider]ProviderConfig `yaml:"providers"`
	Compaction compact.Policy                       `yaml:"compaction"`
	UsageDB    string                               `yaml:"usage_db"`
}

// ServerConfig defines the listener.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Verbose bool   `yaml:"verbose"`
}

// ProviderConfig captures endpoint and admission settings for one upstream.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	// FallbackURL is rotated to after repeated 5xx failures.
	FallbackURL string `yaml:"fallback_url"`
	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `yaml:"api_key_env"`
	// QuotaPerMinute is the admission token-bucket capacity; 0 disables
	// limiting for the provider.
	QuotaPerMinute int `yaml:"quota_per_minute"`
	// ContextWindow overrides the built-in window table, for deployments
	// pinned to models smaller than the provider default.
	ContextWindow int `yaml:"context_window"`
}

// APIKey resolves the provider credential from the environment.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
}

// Default returns the stock configuration with every known provider wired
// to its public endpoint.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8484},
		Providers: map[dispatch.Provider]ProviderConfig{
			dispatch.Anthropic: {
				BaseURL:        "https://api.anthropic.com",
				APIKeyEnv:      "ANTHROPIC_API_KEY",
				QuotaPerMinute: 60,
			},
			dispatch.OpenRouter: {
				BaseURL:        "https://openrouter.ai/api/v1",
				APIKeyEnv:      "OPENROUTER_API_KEY",
				QuotaPerMinute: 60,
			},
			dispatch.Featherless: {
				BaseURL:        "https://api.featherless.ai/v1",
				APIKeyEnv:      "FEATHERLESS_API_KEY",
				QuotaPerMinute: 30,
			},
			dispatch.Groq: {
				BaseURL:        "https://api.groq.com/openai/v1",
				APIKeyEnv:      "GROQ_API_KEY",
				QuotaPerMinute: 30,
			},
			dispatch.Together: {
				BaseURL:        "https://api.together.xyz/v1",
				APIKeyEnv:      "TOGETHER_API_KEY",
				QuotaPerMinute: 60,
			},
		},
		Compaction: compact.DefaultPolicy(),
	}
}

// Load reads the YAML file at path, if any, over the defaults, then applies
// environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if host := os.Getenv("CLAUDED_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("CLAUDED_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if envBool("CLAUDED_VERBOSE") {
		cfg.Server.Verbose = true
	}
	if db := os.Getenv("CLAUDED_USAGE_DB"); db != "" {
		cfg.UsageDB = db
	}
}

// Validate performs strict sanity checks on the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	for p, pc := range c.Providers {
		if strings.TrimSpace(pc.BaseURL) == "" {
			return fmt.Errorf("providers.%s.base_url must not be empty", p)
		}
		if pc.QuotaPerMinute < 0 {
			return fmt.Errorf("providers.%s.quota_per_minute must not be negative", p)
		}
	}
	cp := c.Compaction
	if cp.TailReserve < 1 {
		return fmt.Errorf("compaction.tail_reserve must be at least 1, got %d", cp.TailReserve)
	}
	if cp.BufferRatio <= 0 || cp.BufferRatio > 1 {
		return fmt.Errorf("compaction.buffer_ratio must be in (0, 1], got %f", cp.BufferRatio)
	}
	if cp.SummaryTokenCap <= 0 || cp.MinRetainedTokens <= 0 || cp.ResponseReserve <= 0 {
		return fmt.Errorf("compaction token reserves must be positive")
	}
	return nil
}

// Quotas extracts the per-provider admission quotas for the rate limiter.
func (c *Config) Quotas() map[dispatch.Provider]int {
	out := make(map[dispatch.Provider]int, len(c.Providers))
	for p, pc := range c.Providers {
		if pc.QuotaPerMinute > 0 {
			out[p] = pc.QuotaPerMinute
		}
	}
	return out
}

// ContextWindow returns the effective context window for a provider,
// preferring the configured override.
func (c *Config) ContextWindow(p dispatch.Provider) int {
	if pc, ok := c.Providers[p]; ok && pc.ContextWindow > 0 {
		return pc.ContextWindow
	}
	return dispatch.ContextWindow(p)
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
