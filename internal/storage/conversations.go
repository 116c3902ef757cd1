// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/duochat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidSessionID     = errors.New("invalid session id")
	ErrDatabaseError        = errors.New("database error")
)

// =============================================================================
// TYPES
// =============================================================================

// Message is a single entry in a conversation transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode,omitempty"`
}

// Conversation is a persisted chat session.
type Conversation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary is a conversation without its transcript, for list views.
type Summary struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DefaultTitle is used when a conversation has no user message to derive
// a title from.
const DefaultTitle = "New Conversation"

// titleMaxLen caps auto-derived titles.
const titleMaxLen = 50

// =============================================================================
// STORE
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL,
	messages    TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated
	ON conversations(updated_at DESC);
`

// Store persists conversations in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the conversation database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// List returns summaries of all conversations, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, title, messages, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			sum                  Summary
			rawMessages          string
			createdMs, updatedMs int64
		)
		if err := rows.Scan(&sum.ID, &sum.SessionID, &sum.Title, &rawMessages, &createdMs, &updatedMs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		var messages []Message
		if err := json.Unmarshal([]byte(rawMessages), &messages); err == nil {
			sum.MessageCount = len(messages)
		}
		sum.CreatedAt = time.UnixMilli(createdMs).UTC()
		sum.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return summaries, nil
}

// GetBySession loads the conversation for a session ID.
// Returns ErrConversationNotFound if no conversation exists for the session.
func (s *Store) GetBySession(ctx context.Context, sessionID string) (*Conversation, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSessionID
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, title, messages, created_at, updated_at
		 FROM conversations WHERE session_id = ?`, sessionID)

	var (
		conv                 Conversation
		rawMessages          string
		createdMs, updatedMs int64
	)
	err := row.Scan(&conv.ID, &conv.SessionID, &conv.Title, &rawMessages, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if err := json.Unmarshal([]byte(rawMessages), &conv.Messages); err != nil {
		return nil, fmt.Errorf("%w: corrupt transcript: %v", ErrDatabaseError, err)
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	conv.CreatedAt = time.UnixMilli(createdMs).UTC()
	conv.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &conv, nil
}

// Upsert saves a conversation, replacing the full transcript. When sessionID
// is empty or whitespace a new session ID is minted. An empty title keeps the existing
// title, or derives one from the first user message for new conversations.
// Returns the saved conversation.
func (s *Store) Upsert(ctx context.Context, sessionID string, messages []Message, title string) (*Conversation, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = NewSessionID()
	}
	if messages == nil {
		messages = []Message{}
	}

	rawMessages, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript: %w", err)
	}

	now := time.Now().UTC()
	title = strings.TrimSpace(title)

	// Title used on create: the supplied one, or one derived from the
	// transcript. On conflict the existing title survives unless a
	// non-empty title was supplied.
	createTitle := title
	if createTitle == "" {
		createTitle = deriveTitle(messages)
	}

	// Single atomic write; concurrent upserts for the same session resolve
	// to last-writer-wins without a read-modify-write race.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, session_id, title, messages, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		 	messages = excluded.messages,
		 	updated_at = excluded.updated_at,
		 	title = CASE WHEN ? <> '' THEN ? ELSE conversations.title END`,
		uuid.NewString(), sessionID, createTitle, string(rawMessages),
		now.UnixMilli(), now.UnixMilli(), title, title)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	return s.GetBySession(ctx, sessionID)
}

// DeleteBySession removes the conversation for a session ID. Deleting a
// session that does not exist is not an error; the bool reports whether a
// row was removed.
func (s *Store) DeleteBySession(ctx context.Context, sessionID string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, ErrInvalidSessionID
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n > 0, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// NewSessionID mints a session ID in the form session_<unix-millis>_<random>.
func NewSessionID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a UUID suffix; rand.Read failing is effectively fatal
		// everywhere else anyway.
		return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:12])
	}
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}

// deriveTitle builds a title from the first user message.
func deriveTitle(messages []Message) string {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		text := strings.TrimSpace(util.CollapseWhitespace(m.Content))
		if text == "" {
			continue
		}
		return util.Truncate(text, titleMaxLen)
	}
	return DefaultTitle
}
