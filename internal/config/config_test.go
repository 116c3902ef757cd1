// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir()) // ignore any real ~/.duochat config
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "online", cfg.DefaultMode)
	require.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	require.Equal(t, "http://127.0.0.1:11434", cfg.Local.OllamaURL)
	require.Equal(t, "llama3.2", cfg.Local.OllamaModel)
	require.Equal(t, 30, cfg.Local.TimeoutSecs)
	require.Equal(t, "zai", cfg.Online.Provider)
	require.Empty(t, cfg.Online.Model, "model default belongs to the provider preset")
	require.Equal(t, 0.7, cfg.Online.Temperature)
	require.Equal(t, 1000, cfg.Online.MaxTokens)
}

func TestLoad_ProviderWithoutModelLeavesModelEmpty(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[online]
provider = "openai"
api_key = "sk-test"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Online.Provider)
	// An empty model means the provider preset's own model is used; filling
	// one vendor's model name in for another guarantees a model-not-found.
	require.Empty(t, cfg.Online.Model)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, "online", cfg.DefaultMode)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
default_mode = "offline"

[server]
addr = "127.0.0.1:9090"
rate_limit = 5.0

[local]
ollama_model = "mistral"

[online]
provider = "openrouter"
api_key = "sk-test"
model = "gpt-4o-mini"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "offline", cfg.DefaultMode)
	require.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	require.Equal(t, 5.0, cfg.Server.RateLimit)
	require.Equal(t, "mistral", cfg.Local.OllamaModel)
	require.Equal(t, "openrouter", cfg.Online.Provider)
	require.Equal(t, "sk-test", cfg.Online.APIKey)
	// Unset fields keep defaults
	require.Equal(t, "http://127.0.0.1:11434", cfg.Local.OllamaURL)
	require.Equal(t, 30, cfg.Online.TimeoutSecs)
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"default_mode": "offline",
		"local": {"ollama_url": "http://ollama.internal:11434"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "offline", cfg.DefaultMode)
	require.Equal(t, "http://ollama.internal:11434", cfg.Local.OllamaURL)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `default_mode = [broken`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DUOCHAT_MODE", "offline")
	t.Setenv("DUOCHAT_API_KEY", "env-key")
	t.Setenv("DUOCHAT_OLLAMA_MODEL", "qwen2.5")
	t.Setenv("DUOCHAT_RATE_LIMIT", "2.5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "offline", cfg.DefaultMode)
	require.Equal(t, "env-key", cfg.Online.APIKey)
	require.Equal(t, "qwen2.5", cfg.Local.OllamaModel)
	require.Equal(t, 2.5, cfg.Server.RateLimit)
}

func TestValidate_BadMode(t *testing.T) {
	cfg := Default()
	cfg.DefaultMode = "hybrid"

	err := cfg.Validate()
	require.Error(t, err)

	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "default_mode", verr.Field)
}

func TestValidate_BadBaseURL(t *testing.T) {
	cfg := Default()
	cfg.Online.BaseURL = "notaurl"
	require.Error(t, cfg.Validate())
}

func TestValidate_BadTemperature(t *testing.T) {
	cfg := Default()
	cfg.Online.Temperature = 3.5
	require.Error(t, cfg.Validate())
}

func TestValidate_NegativeRateLimit(t *testing.T) {
	cfg := Default()
	cfg.Server.RateLimit = -1
	require.Error(t, cfg.Validate())
}
