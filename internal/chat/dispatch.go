// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/jeranaias/duochat/internal/ollama"
	"github.com/jeranaias/duochat/internal/provider"
	"github.com/jeranaias/duochat/internal/util"
)

// =============================================================================
// MODES
// =============================================================================

// Mode selects the backend family for a single chat request.
type Mode string

const (
	// ModeOnline routes to the configured remote provider.
	ModeOnline Mode = "online"

	// ModeOffline routes to the local Ollama daemon.
	ModeOffline Mode = "offline"
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// ParseMode parses a mode string, defaulting to online.
// Returns an error for values other than "online", "offline", or empty.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeOnline):
		return ModeOnline, nil
	case string(ModeOffline):
		return ModeOffline, nil
	default:
		return "", fmt.Errorf("invalid mode %q", s)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrEmptyMessage is returned when a dispatch is attempted with no message text.
var ErrEmptyMessage = errors.New("message is required")

// BackendError indicates the selected upstream backend was unreachable or
// returned a non-success response.
type BackendError struct {
	Backend Mode
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend unavailable: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendUnavailable reports whether err is a BackendError.
func IsBackendUnavailable(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Placeholder is returned when the upstream reports success but supplies no
// reply text. Masked empty completions are logged so they stay observable.
const Placeholder = "Sorry, I could not generate a response."

// Result is the normalized outcome of a successful dispatch.
type Result struct {
	Response string `json:"response"`
	Mode     Mode   `json:"mode"`
}

// Dispatcher routes a single user message to the backend selected by mode.
//
// Backends are swappable at runtime (config reload) behind an RWMutex, so a
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	ollama   *ollama.Client
	provider *provider.Client
}

// NewDispatcher creates a Dispatcher with the given backends.
// Either backend may be nil; requests for a nil backend fail as unavailable.
func NewDispatcher(ollamaClient *ollama.Client, providerClient *provider.Client) *Dispatcher {
	return &Dispatcher{
		ollama:   ollamaClient,
		provider: providerClient,
	}
}

// SetOllama replaces the offline backend client.
func (d *Dispatcher) SetOllama(client *ollama.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ollama = client
}

// SetProvider replaces the online backend client.
func (d *Dispatcher) SetProvider(client *provider.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.provider = client
}

// Dispatch validates the message, routes it to the backend selected by mode,
// and returns the normalized reply. It returns a reply or an error, never
// both. There is no automatic fallback between modes.
func (d *Dispatcher) Dispatch(ctx context.Context, message string, mode Mode, model string) (Result, error) {
	if strings.TrimSpace(message) == "" {
		return Result{}, ErrEmptyMessage
	}

	switch mode {
	case ModeOffline:
		return d.dispatchOffline(ctx, message, model)
	default:
		return d.dispatchOnline(ctx, message)
	}
}

// dispatchOffline sends the message to the local Ollama daemon.
func (d *Dispatcher) dispatchOffline(ctx context.Context, message, model string) (Result, error) {
	d.mu.RLock()
	client := d.ollama
	d.mu.RUnlock()

	if client == nil {
		return Result{}, &BackendError{Backend: ModeOffline, Err: errors.New("offline backend not configured")}
	}

	if model == "" {
		model = client.GetDefaultModel()
	}

	resp, err := client.Generate(ctx, model, message)
	if err != nil {
		log.Printf("DISPATCH_ERROR | backend=offline model=%s reason=%s error=%v",
			model, offlineFailureReason(err), err)
		return Result{}, &BackendError{Backend: ModeOffline, Err: err}
	}

	text := resp.Response
	if text == "" {
		log.Printf("DISPATCH_EMPTY_REPLY | backend=offline model=%s prompt=%s", model, util.Truncate(message, 50))
		text = Placeholder
	}

	return Result{Response: text, Mode: ModeOffline}, nil
}

// offlineFailureReason classifies an Ollama failure for log lines.
func offlineFailureReason(err error) string {
	switch {
	case ollama.IsNotRunning(err):
		return "not_running"
	case ollama.IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

// dispatchOnline sends the message to the configured remote provider.
func (d *Dispatcher) dispatchOnline(ctx context.Context, message string) (Result, error) {
	d.mu.RLock()
	client := d.provider
	d.mu.RUnlock()

	if client == nil {
		return Result{}, &BackendError{Backend: ModeOnline, Err: errors.New("online backend not configured")}
	}

	resp, err := client.Complete(ctx, message)
	if err != nil {
		log.Printf("DISPATCH_ERROR | backend=online provider=%s error=%v", client.Name(), err)
		return Result{}, &BackendError{Backend: ModeOnline, Err: err}
	}

	text := resp.GetContent()
	if text == "" {
		log.Printf("DISPATCH_EMPTY_REPLY | backend=online provider=%s prompt=%s", client.Name(), util.Truncate(message, 50))
		text = Placeholder
	}

	return Result{Response: text, Mode: ModeOnline}, nil
}
