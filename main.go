// duochat - dual-mode chat relay server for browser clients.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/duochat/internal/chat"
	"github.com/jeranaias/duochat/internal/config"
	"github.com/jeranaias/duochat/internal/ollama"
	"github.com/jeranaias/duochat/internal/provider"
	"github.com/jeranaias/duochat/internal/server"
	"github.com/jeranaias/duochat/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (TOML or JSON)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("CONFIG_ERROR | error=%v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	dbPath := cfg.Storage.DatabasePath
	if dbPath == "" {
		dbPath, err = config.DefaultDatabasePath()
		if err != nil {
			log.Fatalf("STORAGE_ERROR | error=%v", err)
		}
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("STORAGE_ERROR | path=%s error=%v", dbPath, err)
	}
	defer store.Close()

	dispatcher := chat.NewDispatcher(buildOllamaClient(cfg), buildProviderClient(cfg))

	// Hot-reload backend clients when the config file changes.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(next *config.Config) {
			dispatcher.SetOllama(buildOllamaClient(next))
			dispatcher.SetProvider(buildProviderClient(next))
		})
		if err != nil {
			log.Printf("CONFIG_WATCH_UNAVAILABLE | error=%v", err)
		} else if err := watcher.Watch(); err != nil {
			log.Printf("CONFIG_WATCH_UNAVAILABLE | error=%v", err)
		} else {
			defer watcher.Close()
		}
	}

	defaultMode, err := chat.ParseMode(cfg.DefaultMode)
	if err != nil {
		log.Fatalf("CONFIG_ERROR | error=%v", err)
	}

	var limiter *server.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = server.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}

	srv := server.New(server.Options{
		Addr:        cfg.Server.Addr,
		Dispatcher:  dispatcher,
		Store:       store,
		DefaultMode: defaultMode,
		Auth: &server.AuthConfig{
			Enabled:     cfg.Server.AuthToken != "",
			BearerToken: cfg.Server.AuthToken,
		},
		CORS:        &server.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins},
		RateLimiter: limiter,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("SERVER_ERROR | error=%v", err)
	case sig := <-sigCh:
		log.Printf("SIGNAL_RECEIVED | signal=%v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("SHUTDOWN_ERROR | error=%v", err)
	}
}

// buildOllamaClient constructs the offline backend client from config.
func buildOllamaClient(cfg *config.Config) *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Local.OllamaURL,
		Timeout:      cfg.OllamaTimeout(),
		DefaultModel: cfg.Local.OllamaModel,
	})
}

// buildProviderClient constructs the online backend client from config.
// Returns nil when no API key is configured, which surfaces as an
// unavailable online backend rather than a startup failure.
func buildProviderClient(cfg *config.Config) *provider.Client {
	if cfg.Online.APIKey == "" {
		return nil
	}

	pc := provider.Preset(cfg.Online.Provider)
	pc.APIKey = cfg.Online.APIKey
	if cfg.Online.BaseURL != "" {
		pc.BaseURL = cfg.Online.BaseURL
	}
	if cfg.Online.Model != "" {
		pc.Model = cfg.Online.Model
	}
	if cfg.Online.SystemPrompt != "" {
		pc.SystemPrompt = cfg.Online.SystemPrompt
	}
	pc.Temperature = cfg.Online.Temperature
	pc.MaxTokens = cfg.Online.MaxTokens
	pc.Timeout = cfg.OnlineTimeout()
	return provider.NewClient(pc)
}
