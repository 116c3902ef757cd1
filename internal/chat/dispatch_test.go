// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jeranaias/duochat/internal/ollama"
	"github.com/jeranaias/duochat/internal/provider"
)

// fakeOllama returns an Ollama client pointed at a stub daemon.
func fakeOllama(t *testing.T, handler http.HandlerFunc) *ollama.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL, Timeout: time.Second})
}

// deadOllama returns an Ollama client pointed at a closed port.
func deadOllama(t *testing.T) *ollama.Client {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url, Timeout: time.Second})
}

// fakeProvider returns a provider client pointed at a stub completion API.
func fakeProvider(t *testing.T, handler http.HandlerFunc) *provider.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return provider.NewClient(provider.Config{
		Name:    "test",
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "test-model",
	})
}

func completionJSON(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":    "cmpl-1",
		"model": "test-model",
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	})
	return body
}

// =============================================================================
// MODE TESTS
// =============================================================================

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeOnline, false},
		{"online", ModeOnline, false},
		{"offline", ModeOffline, false},
		{"hybrid", "", true},
		{"OFFLINE", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// DISPATCH TESTS
// =============================================================================

func TestDispatch_EmptyMessage(t *testing.T) {
	d := NewDispatcher(nil, nil)

	for _, msg := range []string{"", "   ", "\n\t"} {
		_, err := d.Dispatch(context.Background(), msg, ModeOnline, "")
		if !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Dispatch(%q) error = %v, want ErrEmptyMessage", msg, err)
		}
	}
}

func TestDispatch_OfflineSuccess(t *testing.T) {
	oc := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollama.GenerateResponse{Response: "local reply", Done: true})
	})
	d := NewDispatcher(oc, nil)

	result, err := d.Dispatch(context.Background(), "hello", ModeOffline, "llama3.2")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Response != "local reply" {
		t.Errorf("Response = %q, want %q", result.Response, "local reply")
	}
	if result.Mode != ModeOffline {
		t.Errorf("Mode = %q, want offline", result.Mode)
	}
}

func TestDispatch_OfflineEmptyModelUsesDefault(t *testing.T) {
	var gotModel string
	client := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel, _ = req["model"].(string)
		w.Write([]byte(`{"model":"llama3.2","response":"ok","done":true}`))
	})
	d := NewDispatcher(client, nil)

	if _, err := d.Dispatch(context.Background(), "hello", ModeOffline, ""); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if gotModel != "llama3.2" {
		t.Errorf("request model = %q, want client default %q", gotModel, "llama3.2")
	}
}

func TestOfflineFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"not running", ollama.ErrNotRunning, "not_running"},
		{"timeout", ollama.ErrTimeout, "timeout"},
		{"other", errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := offlineFailureReason(tt.err); got != tt.want {
				t.Errorf("offlineFailureReason(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestDispatch_OfflineDaemonDown(t *testing.T) {
	d := NewDispatcher(deadOllama(t), nil)

	_, err := d.Dispatch(context.Background(), "hello", ModeOffline, "llama3.2")
	if !IsBackendUnavailable(err) {
		t.Fatalf("Expected backend-unavailable, got %v", err)
	}

	var be *BackendError
	errors.As(err, &be)
	if be.Backend != ModeOffline {
		t.Errorf("Backend = %q, want offline", be.Backend)
	}
}

func TestDispatch_OfflineNotConfigured(t *testing.T) {
	d := NewDispatcher(nil, nil)

	_, err := d.Dispatch(context.Background(), "hello", ModeOffline, "")
	if !IsBackendUnavailable(err) {
		t.Errorf("Expected backend-unavailable, got %v", err)
	}
}

func TestDispatch_OnlineSuccess(t *testing.T) {
	pc := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionJSON("remote reply"))
	})
	d := NewDispatcher(nil, pc)

	result, err := d.Dispatch(context.Background(), "hello", ModeOnline, "")
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Response != "remote reply" {
		t.Errorf("Response = %q, want %q", result.Response, "remote reply")
	}
	if result.Mode != ModeOnline {
		t.Errorf("Mode = %q, want online", result.Mode)
	}
}

func TestDispatch_OnlineUpstreamError(t *testing.T) {
	pc := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	d := NewDispatcher(nil, pc)

	_, err := d.Dispatch(context.Background(), "hello", ModeOnline, "")
	if !IsBackendUnavailable(err) {
		t.Fatalf("Expected backend-unavailable, got %v", err)
	}

	var be *BackendError
	errors.As(err, &be)
	if be.Backend != ModeOnline {
		t.Errorf("Backend = %q, want online", be.Backend)
	}
}

func TestDispatch_EmptyReplyUsesPlaceholder(t *testing.T) {
	oc := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollama.GenerateResponse{Response: "", Done: true})
	})
	pc := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionJSON(""))
	})
	d := NewDispatcher(oc, pc)

	for _, mode := range []Mode{ModeOffline, ModeOnline} {
		result, err := d.Dispatch(context.Background(), "hello", mode, "")
		if err != nil {
			t.Fatalf("Dispatch(%s) failed: %v", mode, err)
		}
		if result.Response != Placeholder {
			t.Errorf("Dispatch(%s) Response = %q, want placeholder", mode, result.Response)
		}
	}
}

func TestDispatch_NoFallbackBetweenModes(t *testing.T) {
	var providerCalls int
	pc := fakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		providerCalls++
		w.Write(completionJSON("should not be used"))
	})
	d := NewDispatcher(deadOllama(t), pc)

	_, err := d.Dispatch(context.Background(), "hello", ModeOffline, "")
	if !IsBackendUnavailable(err) {
		t.Fatalf("Expected backend-unavailable, got %v", err)
	}
	if providerCalls != 0 {
		t.Errorf("Provider calls = %d, offline failure must not fall back to online", providerCalls)
	}
}

func TestDispatcher_SetBackends(t *testing.T) {
	d := NewDispatcher(nil, nil)

	oc := fakeOllama(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollama.GenerateResponse{Response: "swapped in", Done: true})
	})
	d.SetOllama(oc)

	result, err := d.Dispatch(context.Background(), "hello", ModeOffline, "")
	if err != nil {
		t.Fatalf("Dispatch failed after SetOllama: %v", err)
	}
	if result.Response != "swapped in" {
		t.Errorf("Response = %q, want %q", result.Response, "swapped in")
	}
}
