// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the local Ollama daemon used in
// offline mode.
//
// The client covers the three calls duochat needs:
//
//   - CheckRunning: liveness probe against the daemon root URL
//   - ListModels: GET /api/tags for the installed model list
//   - Generate: POST /api/generate for a single non-streaming completion
//
// All methods take a context and respect the configured request timeout.
// Failures are reported as *ClientError values with an ErrorType that the
// caller can branch on; ErrNotRunning and ErrTimeout are the common cases
// when the daemon is down.
package ollama
