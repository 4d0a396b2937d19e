// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/attach"
	"github.com/jeranaias/parley/internal/backend"
)

// Configuration constants for the inference API.
const (
	// DefaultTimeout is the client-side generation deadline. The serving
	// infrastructure times out at 180s; the client aborts first so the
	// user-visible timeout error is ours, not an intermediary's.
	DefaultTimeout = 170 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// Error variables classifying generation failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("inference API key not configured")

	// ErrTransport indicates the request never produced an HTTP response.
	ErrTransport = errors.New("network error")

	// ErrTimeout indicates the client-side deadline elapsed.
	ErrTimeout = errors.New("generation timed out")

	// ErrRateLimited indicates the service refused the request under load.
	ErrRateLimited = errors.New("rate limited")

	// ErrServer indicates a non-2xx response other than rate limiting.
	ErrServer = errors.New("server error")

	// ErrMalformed indicates a 2xx response whose body could not be used.
	ErrMalformed = errors.New("malformed response")
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// Request carries everything one generation call needs.
type Request struct {
	Prompt      string
	Context     *backend.ProjectContext
	Attachments []attach.Payload
}

// generateRequest is the wire shape of a generation call.
type generateRequest struct {
	Prompt         string           `json:"prompt"`
	ProjectContext *projectContext  `json:"project_context,omitempty"`
	Attachments    []attach.Payload `json:"attachments,omitempty"`
}

type projectContext struct {
	ProjectID    string   `json:"project_id"`
	Instructions string   `json:"instructions,omitempty"`
	Extensions   []string `json:"extensions,omitempty"`
}

// generateResponse is the wire shape of a generation result.
type generateResponse struct {
	Content string `json:"content"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client issues generation requests to the inference service.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates an inference client for the given base URL and API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// No client timeout here; the deadline is applied per call
			// via context so it covers queueing and body reading alike.
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		timeout: DefaultTimeout,
	}
}

// WithTimeout sets the generation deadline.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Generate performs one blocking generation call and returns the assistant
// content. Failures are classified into the package's sentinel errors.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := generateRequest{
		Prompt:      req.Prompt,
		Attachments: req.Attachments,
	}
	if req.Context != nil {
		body.ProjectContext = &projectContext{
			ProjectID:    req.Context.ProjectID,
			Instructions: req.Context.Instructions,
			Extensions:   req.Context.Extensions,
		}
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "parley/0.1.0")

	resp, err := c.httpClient.Do(httpReq)
	httpReq.Header.Del("Authorization")
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatusError(resp.StatusCode, respBody)
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if genResp.Content == "" {
		if genResp.Error.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrServer, genResp.Error.Message)
		}
		return "", fmt.Errorf("%w: response carried no content", ErrMalformed)
	}
	return genResp.Content, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classifyTransportError maps a failed request to ErrTimeout or ErrTransport.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// classifyStatusError maps a non-2xx response to a sentinel. Some gateways
// report overload as a 5xx with rate-limit wording in the body, so the body
// text is consulted too.
func classifyStatusError(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))

	var wire generateResponse
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error.Message != "" {
		message = wire.Error.Message
	}

	if statusCode == http.StatusTooManyRequests || containsRateLimitText(message) {
		return fmt.Errorf("%w: %s", ErrRateLimited, message)
	}
	return fmt.Errorf("%w (HTTP %d): %s", ErrServer, statusCode, message)
}

// containsRateLimitText detects rate-limit wording in an error body.
func containsRateLimitText(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate-limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "overloaded")
}
