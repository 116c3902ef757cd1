// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for duochat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete duochat configuration.
type Config struct {
	// DefaultMode is the mode used when a chat request omits one:
	// "online" or "offline"
	DefaultMode string `toml:"default_mode" json:"default_mode"`

	// Server configuration
	Server ServerConfig `toml:"server" json:"server"`

	// Local (Ollama) configuration
	Local LocalConfig `toml:"local" json:"local"`

	// Online provider configuration
	Online OnlineConfig `toml:"online" json:"online"`

	// Storage configuration
	Storage StorageConfig `toml:"storage" json:"storage"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address
	Addr string `toml:"addr" json:"addr"`
	// AllowedOrigins are origins permitted by CORS (empty = same-origin only)
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// AuthToken, when set, requires a Bearer token on every request
	AuthToken string `toml:"auth_token" json:"auth_token"`
	// RateLimit is requests per second per client IP (0 = disabled)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	// RateBurst is the rate limiter burst size
	RateBurst int `toml:"rate_burst" json:"rate_burst"`
	// ShutdownTimeoutSecs bounds graceful shutdown
	ShutdownTimeoutSecs int `toml:"shutdown_timeout_secs" json:"shutdown_timeout_secs"`
}

// LocalConfig contains local Ollama configuration.
type LocalConfig struct {
	// OllamaURL is the URL of the Ollama server
	OllamaURL string `toml:"ollama_url" json:"ollama_url"`
	// OllamaModel is the default model to use with Ollama
	OllamaModel string `toml:"ollama_model" json:"ollama_model"`
	// TimeoutSecs bounds each generation request
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// OnlineConfig contains online provider configuration.
type OnlineConfig struct {
	// Provider selects a connection preset: "zai", "openai", "openrouter"
	Provider string `toml:"provider" json:"provider"`
	// APIKey is the provider API key
	APIKey string `toml:"api_key" json:"api_key"`
	// BaseURL overrides the preset endpoint
	BaseURL string `toml:"base_url" json:"base_url"`
	// Model is the chat model identifier (empty = the preset's model)
	Model string `toml:"model" json:"model"`
	// SystemPrompt is prepended to every online conversation
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`
	// Temperature for sampling
	Temperature float64 `toml:"temperature" json:"temperature"`
	// MaxTokens caps the completion length
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
	// TimeoutSecs bounds each completion request
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
}

// StorageConfig contains conversation persistence configuration.
type StorageConfig struct {
	// DatabasePath is where the SQLite conversation database lives
	// (empty = ~/.duochat/conversations.db)
	DatabasePath string `toml:"database_path" json:"database_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with built-in defaults.
func Default() *Config {
	return &Config{
		DefaultMode: "online",
		Server: ServerConfig{
			Addr:                "127.0.0.1:8080",
			RateLimit:           10,
			RateBurst:           20,
			ShutdownTimeoutSecs: 10,
		},
		Local: LocalConfig{
			OllamaURL:   "http://127.0.0.1:11434",
			OllamaModel: "llama3.2",
			TimeoutSecs: 30,
		},
		Online: OnlineConfig{
			Provider:    "zai",
			Temperature: 0.7,
			MaxTokens:   1000,
			TimeoutSecs: 30,
		},
		Storage: StorageConfig{},
	}
}

// ConfigDir returns the duochat configuration directory (~/.duochat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".duochat"), nil
}

// DefaultDatabasePath returns the default conversation database location.
func DefaultDatabasePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations.db"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from path, fills defaults, and applies environment
// overrides. An empty path falls back to ~/.duochat/config.toml, then
// ~/.duochat/config.json; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findDefaultPath()
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findDefaultPath returns the first config file present in the standard
// locations, or empty if none exists.
func findDefaultPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"config.toml", "config.json"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadFile merges the file at path into cfg. Format is chosen by extension;
// anything that is not .json parses as TOML.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		return nil
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides applies DUOCHAT_* environment variables on top of the
// loaded configuration:
//   - DUOCHAT_ADDR: overrides server.addr
//   - DUOCHAT_MODE: overrides default_mode
//   - DUOCHAT_API_KEY: overrides online.api_key
//   - DUOCHAT_PROVIDER: overrides online.provider
//   - DUOCHAT_MODEL: overrides online.model
//   - DUOCHAT_OLLAMA_URL: overrides local.ollama_url
//   - DUOCHAT_OLLAMA_MODEL: overrides local.ollama_model
//   - DUOCHAT_DB_PATH: overrides storage.database_path
//   - DUOCHAT_AUTH_TOKEN: overrides server.auth_token
//   - DUOCHAT_RATE_LIMIT: overrides server.rate_limit
func (c *Config) ApplyEnvOverrides() {
	if addr := os.Getenv("DUOCHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if mode := os.Getenv("DUOCHAT_MODE"); mode != "" {
		c.DefaultMode = mode
	}
	if key := os.Getenv("DUOCHAT_API_KEY"); key != "" {
		c.Online.APIKey = key
	}
	if provider := os.Getenv("DUOCHAT_PROVIDER"); provider != "" {
		c.Online.Provider = provider
	}
	if model := os.Getenv("DUOCHAT_MODEL"); model != "" {
		c.Online.Model = model
	}
	if ollamaURL := os.Getenv("DUOCHAT_OLLAMA_URL"); ollamaURL != "" {
		c.Local.OllamaURL = ollamaURL
	}
	if ollamaModel := os.Getenv("DUOCHAT_OLLAMA_MODEL"); ollamaModel != "" {
		c.Local.OllamaModel = ollamaModel
	}
	if dbPath := os.Getenv("DUOCHAT_DB_PATH"); dbPath != "" {
		c.Storage.DatabasePath = dbPath
	}
	if token := os.Getenv("DUOCHAT_AUTH_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
	if limit := os.Getenv("DUOCHAT_RATE_LIMIT"); limit != "" {
		if v, err := strconv.ParseFloat(limit, 64); err == nil {
			c.Server.RateLimit = v
		}
	}
}

// fillDefaults replaces zero values left by a partial config file.
func (c *Config) fillDefaults() {
	def := Default()
	if c.DefaultMode == "" {
		c.DefaultMode = def.DefaultMode
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = def.Server.RateBurst
	}
	if c.Server.ShutdownTimeoutSecs == 0 {
		c.Server.ShutdownTimeoutSecs = def.Server.ShutdownTimeoutSecs
	}
	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = def.Local.OllamaURL
	}
	if c.Local.OllamaModel == "" {
		c.Local.OllamaModel = def.Local.OllamaModel
	}
	if c.Local.TimeoutSecs == 0 {
		c.Local.TimeoutSecs = def.Local.TimeoutSecs
	}
	if c.Online.Provider == "" {
		c.Online.Provider = def.Online.Provider
	}
	if c.Online.Temperature == 0 {
		c.Online.Temperature = def.Online.Temperature
	}
	if c.Online.MaxTokens == 0 {
		c.Online.MaxTokens = def.Online.MaxTokens
	}
	if c.Online.TimeoutSecs == 0 {
		c.Online.TimeoutSecs = def.Online.TimeoutSecs
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Message: fmt.Sprintf("must be host:port: %v", err),
		})
	}

	switch c.DefaultMode {
	case "online", "offline":
	default:
		errs = append(errs, ValidationError{
			Field:   "default_mode",
			Message: fmt.Sprintf("must be %q or %q, got %q", "online", "offline", c.DefaultMode),
		})
	}

	if _, err := url.Parse(c.Local.OllamaURL); err != nil {
		errs = append(errs, ValidationError{
			Field:   "local.ollama_url",
			Message: fmt.Sprintf("invalid URL: %v", err),
		})
	}
	if c.Local.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "local.timeout_secs",
			Message: "must not be negative",
		})
	}

	if c.Online.BaseURL != "" {
		u, err := url.Parse(c.Online.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   "online.base_url",
				Message: "must be an http or https URL",
			})
		}
	}
	if c.Online.Temperature < 0 || c.Online.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "online.temperature",
			Message: "must be between 0 and 2",
		})
	}
	if c.Online.MaxTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   "online.max_tokens",
			Message: "must not be negative",
		})
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit",
			Message: "must not be negative",
		})
	}

	return errors.Join(errs...)
}

// OllamaTimeout returns the local generation timeout as a duration.
func (c *Config) OllamaTimeout() time.Duration {
	return time.Duration(c.Local.TimeoutSecs) * time.Second
}

// OnlineTimeout returns the online completion timeout as a duration.
func (c *Config) OnlineTimeout() time.Duration {
	return time.Duration(c.Online.TimeoutSecs) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSecs) * time.Second
}
