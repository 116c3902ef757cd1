// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat conversations in a local SQLite database.
//
// Each conversation is keyed by a client-generated session ID. Saving a
// conversation replaces the full message transcript, so the client always
// sends the complete history. Reads and deletes are keyed by session ID
// and deletes are idempotent.
package storage
