// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/jeranaias/duochat/internal/ollama"
)

// =============================================================================
// BACKEND STATUS
// =============================================================================

// BackendState reports whether the offline backend is reachable.
type BackendState string

const (
	StateOnline  BackendState = "online"
	StateOffline BackendState = "offline"
)

// BackendStatus is the ephemeral result of one liveness probe. It is
// recomputed on each probe and never persisted.
type BackendStatus struct {
	State  BackendState       `json:"status"`
	Models []ollama.ModelInfo `json:"models"`
	Error  string             `json:"error,omitempty"`
}

// Probe performs one liveness request against the local daemon's model-list
// endpoint. It never returns an error value: any failure folds into an
// offline status with the error text set.
func (d *Dispatcher) Probe(ctx context.Context) BackendStatus {
	d.mu.RLock()
	client := d.ollama
	d.mu.RUnlock()

	if client == nil {
		return BackendStatus{
			State:  StateOffline,
			Models: []ollama.ModelInfo{},
			Error:  "Ollama service not available",
		}
	}

	models, err := client.ListModels(ctx)
	if err != nil {
		return BackendStatus{
			State:  StateOffline,
			Models: []ollama.ModelInfo{},
			Error:  "Failed to connect to Ollama",
		}
	}

	if models == nil {
		models = []ollama.ModelInfo{}
	}

	return BackendStatus{
		State:  StateOnline,
		Models: models,
	}
}
