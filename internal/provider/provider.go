// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the configurable online chat-completion client.
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for the provider client.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared HTTP client with connection pooling for all provider requests.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
	Timeout: DefaultTimeout,
}

// Error variables for common provider errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("provider API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// ProviderError represents an error returned by the upstream provider API.
type ProviderError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config parameterizes a single upstream chat-completion provider.
//
// The original deployment went through three provider revisions (hosted SDK,
// vendor-direct API, relay API). All of them speak the same completion wire
// shape, so one client configured per deployment replaces the three copies.
type Config struct {
	// Name identifies the provider in logs (e.g. "zai", "openrouter").
	Name string

	// BaseURL is the API base, without the /chat/completions suffix.
	BaseURL string

	// APIKey authenticates requests. Empty means not configured.
	APIKey string

	// AuthHeader is the header carrying the key (default "Authorization").
	AuthHeader string

	// AuthScheme prefixes the key in the auth header (default "Bearer").
	// Set to "" for providers that want the bare key.
	AuthScheme string

	// Model is the model identifier sent with every request.
	Model string

	// SystemPrompt is prepended to every conversation.
	SystemPrompt string

	// Temperature for sampling (default 0.7).
	Temperature float64

	// MaxTokens caps the completion length (default 1000).
	MaxTokens int

	// Timeout for requests (default 30s).
	Timeout time.Duration
}

// DefaultSystemPrompt matches the prompt the browser client shipped with.
const DefaultSystemPrompt = "You are a helpful assistant. Be concise, helpful, and friendly in your responses."

// Preset returns the Config for a named provider deployment shape.
// Unknown names fall back to the relay preset.
func Preset(name string) Config {
	switch name {
	case "zai":
		return Config{
			Name:         "zai",
			BaseURL:      "https://api.z.ai/api/paas/v4",
			Model:        "glm-4-flash",
			AuthHeader:   "Authorization",
			AuthScheme:   "Bearer",
			SystemPrompt: DefaultSystemPrompt,
		}
	case "openai":
		return Config{
			Name:         "openai",
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-4o-mini",
			AuthHeader:   "Authorization",
			AuthScheme:   "Bearer",
			SystemPrompt: DefaultSystemPrompt,
		}
	default:
		return Config{
			Name:         "openrouter",
			BaseURL:      "https://openrouter.ai/api/v1",
			Model:        "openrouter/auto",
			AuthHeader:   "Authorization",
			AuthScheme:   "Bearer",
			SystemPrompt: DefaultSystemPrompt,
		}
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage represents a single message in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatResponse represents a response from the chat completions endpoint.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for one configured upstream provider.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a provider client from the given configuration,
// filling in defaults for any zero values.
func NewClient(config Config) *Client {
	if config.AuthHeader == "" {
		config.AuthHeader = "Authorization"
	}
	if config.AuthScheme == "" && config.AuthHeader == "Authorization" {
		config.AuthScheme = "Bearer"
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	config.APIKey = strings.TrimSpace(config.APIKey)
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: sharedHTTPClient.Transport,
		},
	}
}

// Name returns the provider name used in logs.
func (c *Client) Name() string {
	return c.config.Name
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.config.Model
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// setHeaders sets the required headers for provider API requests.
func (c *Client) setHeaders(req *http.Request) {
	value := c.config.APIKey
	if c.config.AuthScheme != "" {
		value = c.config.AuthScheme + " " + value
	}
	req.Header.Set(c.config.AuthHeader, value)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "duochat/0.1.0")
}

// Chat performs a single chat completion request with the given messages.
//
// There is no retry: a single upstream failure is surfaced to the caller
// immediately, and the user decides whether to resubmit or switch mode.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	reqBody := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Stream:      false,
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.config.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// SECURITY: Read response with size limit to prevent memory exhaustion
	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &chatResp, nil
}

// Complete performs a chat completion for a single user message, prepending
// the configured system prompt.
func (c *Client) Complete(ctx context.Context, message string) (*ChatResponse, error) {
	messages := make([]ChatMessage, 0, 2)
	if c.config.SystemPrompt != "" {
		messages = append(messages, NewSystemMessage(c.config.SystemPrompt))
	}
	messages = append(messages, NewUserMessage(message))
	return c.Chat(ctx, messages)
}

// =============================================================================
// RESPONSE HANDLING
// =============================================================================

// readResponse reads the response body with size limits.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Check if we hit the limit (response was truncated)
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

// handleErrorResponse converts HTTP error responses to appropriate Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	// Try to parse error response
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		provErr := &ProviderError{
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
			Status:  statusCode,
		}

		switch statusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuthFailed, provErr.Message)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s", ErrInsufficientCredits, provErr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrModelNotFound, provErr.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, provErr.Message)
		default:
			return provErr
		}
	}

	// Fallback for unparseable error responses
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &ProviderError{
			Message: string(body),
			Status:  statusCode,
		}
	}
}
