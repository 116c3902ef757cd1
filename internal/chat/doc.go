// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the backend selector that routes a single user
// message to either the local Ollama daemon (offline mode) or the configured
// remote provider (online mode).
//
// Dispatch returns a Result or an error, never both. Failures carry a
// *BackendError naming the backend that failed; there is no retry and no
// automatic fallback between modes — mode selection stays with the user.
//
// Probe exposes the offline backend's liveness and installed model list for
// the status endpoint. It always returns a BackendStatus value.
package chat
