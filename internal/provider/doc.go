// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the online upstream adapter: a single
// chat-completion client parameterized by provider configuration rather than
// one code path per vendor.
//
// A deployment picks a preset ("zai", "openai", "openrouter") or supplies a
// custom Config with its own base URL, auth header shape, and model. All
// supported providers speak the OpenAI chat-completions wire format; the
// reply text is read from choices[0].message.content.
//
// The client makes exactly one attempt per call. Upstream failures map to
// sentinel errors (ErrAuthFailed, ErrRateLimited, ErrModelNotFound,
// ErrInsufficientCredits) or a *ProviderError carrying the upstream detail.
package provider
