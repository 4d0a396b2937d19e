// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

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

	"golang.org/x/time/rate"
)

// Configuration constants for the persistence API.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// writesPerSecond paces conversation and message writes. Queued
	// persistence jobs drain one at a time, so a modest ceiling is enough.
	writesPerSecond = 5
)

// sharedHTTPClient is the pooled HTTP client for all persistence requests.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
	Timeout: DefaultTimeout,
}

// Error variables for common persistence errors.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("backend API key not configured")

	// ErrAuthFailed indicates authentication failed.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound indicates the conversation or project does not exist on
	// the backend.
	ErrNotFound = errors.New("not found")
)

// APIError represents an error response from the persistence API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorResponse is the wire shape of an error response.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// createConversationRequest is the body for conversation creation.
type createConversationRequest struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title,omitempty"`
}

// createConversationResponse carries the backend-assigned conversation ID.
type createConversationResponse struct {
	ID string `json:"id"`
}

// appendMessageRequest is the body for persisting one message.
type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProjectContext is the project-scoped context injected into generation:
// the project's instructions plus whatever its enabled extensions contribute.
type ProjectContext struct {
	ProjectID    string   `json:"project_id"`
	Instructions string   `json:"instructions"`
	Extensions   []string `json:"extensions"`
}

// Extension describes one backend extension and whether the project has it
// enabled.
type Extension struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the conversation persistence API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

// NewClient creates a persistence client for the given base URL and API key.
// An empty API key produces a client whose requests fail with
// ErrNotConfigured.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: sharedHTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(writesPerSecond), writesPerSecond),
		timeout:    DefaultTimeout,
	}
}

// WithTimeout sets the request timeout.
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

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateConversation registers a conversation under the project and returns
// the backend-assigned conversation ID.
func (c *Client) CreateConversation(ctx context.Context, projectID, title string) (string, error) {
	body := createConversationRequest{ProjectID: projectID, Title: title}

	var resp createConversationResponse
	url := fmt.Sprintf("%s/projects/%s/conversations", c.baseURL, projectID)
	if err := c.doWrite(ctx, url, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &APIError{Message: "create returned empty conversation id", Status: http.StatusOK}
	}
	return resp.ID, nil
}

// AppendMessage persists one message to a backend conversation.
func (c *Client) AppendMessage(ctx context.Context, projectID, convID, role, content string) error {
	body := appendMessageRequest{Role: role, Content: content}
	url := fmt.Sprintf("%s/projects/%s/conversations/%s/messages", c.baseURL, projectID, convID)
	return c.doWrite(ctx, url, body, nil)
}

// GetProjectContext fetches the project's instructions and enabled
// extensions for inclusion in a generation request.
func (c *Client) GetProjectContext(ctx context.Context, projectID string) (*ProjectContext, error) {
	var pc ProjectContext
	url := fmt.Sprintf("%s/projects/%s/context", c.baseURL, projectID)
	if err := c.doGet(ctx, url, &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

// ListExtensions fetches the extensions available to a project.
func (c *Client) ListExtensions(ctx context.Context, projectID string) ([]Extension, error) {
	var out struct {
		Extensions []Extension `json:"extensions"`
	}
	url := fmt.Sprintf("%s/projects/%s/extensions", c.baseURL, projectID)
	if err := c.doGet(ctx, url, &out); err != nil {
		return nil, err
	}
	return out.Extensions, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// doWrite performs a paced POST request. out may be nil when the response
// body is not needed.
func (c *Client) doWrite(ctx context.Context, url string, body, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

// doGet performs an unpaced GET request.
func (c *Client) doGet(ctx context.Context, url string, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)

	// Clear Authorization immediately after the request so the header can
	// never end up in a log line.
	req.Header.Del("Authorization")

	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return handleErrorResponse(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// setHeaders sets the required headers for persistence API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "parley/0.1.0")
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to appropriate Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		bErr := &APIError{
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
			Status:  statusCode,
		}
		switch statusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuthFailed, bErr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, bErr.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, bErr.Message)
		default:
			return bErr
		}
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return ErrAuthFailed
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &APIError{
			Message: strings.TrimSpace(string(body)),
			Status:  statusCode,
		}
	}
}
