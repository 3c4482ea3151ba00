package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultBaseURL is the local agent-mail MCP endpoint.
const DefaultBaseURL = "http://127.0.0.1:8765/mcp/"

// DefaultTimeout applies to ordinary tool calls.
const DefaultTimeout = 30 * time.Second

// availableCacheTTL bounds how often IsAvailable probes the server.
const availableCacheTTL = 30 * time.Second

// Client talks JSON-RPC 2.0 to the agent-mail server.
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	requestID   atomic.Int64

	availableCache     atomic.Bool
	availableCacheTime atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the MCP endpoint. A trailing slash is added if missing.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		c.baseURL = u
	}
}

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a Client with defaults, then applies options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// JSONRPCRequest is a JSON-RPC 2.0 request envelope.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response envelope.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// callTool invokes an MCP tool and returns the unwrapped result.
func (c *Client) callTool(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	params := map[string]any{"name": tool}
	if args != nil {
		params["arguments"] = args
	}
	return c.call(ctx, tool, "tools/call", params)
}

// ReadResource reads an MCP resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	return c.call(ctx, uri, "resources/read", map[string]any{"uri": uri})
}

// call performs one JSON-RPC round trip.
func (c *Client) call(ctx context.Context, operation, method string, params any) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewAPIError(operation, 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, NewAPIError(operation, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewAPIError(operation, 0, ErrTimeout)
		}
		return nil, NewAPIError(operation, 0, ErrServerUnavailable)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, NewAPIError(operation, resp.StatusCode, ErrUnauthorized)
	case http.StatusNotFound:
		return nil, NewAPIError(operation, resp.StatusCode, ErrNotFound)
	default:
		return nil, NewAPIError(operation, resp.StatusCode, fmt.Errorf("unexpected status: %s", resp.Status))
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, NewAPIError(operation, 0, fmt.Errorf("decoding response: %w", err))
	}
	if rpcResp.Error != nil {
		return nil, NewAPIError(operation, 0, rpcResp.Error)
	}

	result, err := extractMCPContent(rpcResp.Result)
	if err != nil {
		return nil, NewAPIError(operation, 0, err)
	}
	return result, nil
}

// extractMCPContent unwraps the MCP tool-result envelope. The server may
// return a raw result, or an envelope with content/structuredContent/isError.
// structuredContent is preferred over the content text when both exist.
func extractMCPContent(result json.RawMessage) (json.RawMessage, error) {
	if len(result) == 0 {
		return result, nil
	}

	var envelope struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StructuredContent json.RawMessage `json:"structuredContent"`
		IsError           *bool           `json:"isError"`
	}
	if err := json.Unmarshal(result, &envelope); err != nil {
		// Not an envelope-shaped object; pass through.
		return result, nil
	}
	if envelope.IsError == nil && envelope.Content == nil && envelope.StructuredContent == nil {
		return result, nil
	}

	if envelope.IsError != nil && *envelope.IsError {
		for _, item := range envelope.Content {
			if item.Text != "" {
				return nil, fmt.Errorf("%s", item.Text)
			}
		}
		return nil, fmt.Errorf("tool returned error")
	}

	if len(envelope.StructuredContent) > 0 && string(envelope.StructuredContent) != "null" {
		return envelope.StructuredContent, nil
	}
	for _, item := range envelope.Content {
		if item.Type == "text" && item.Text != "" {
			return json.RawMessage(item.Text), nil
		}
	}
	return result, nil
}

// HealthCheck probes the server via the health_check tool.
func (c *Client) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	result, err := c.callTool(ctx, "health_check", nil)
	if err != nil {
		return nil, err
	}
	var status HealthStatus
	if err := json.Unmarshal(result, &status); err != nil {
		return nil, NewAPIError("health_check", 0, err)
	}
	return &status, nil
}

// HealthStatus is the health_check response.
type HealthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// IsAvailable reports whether the server responds to a health check. The
// answer is cached briefly so hot loops do not hammer the server.
func (c *Client) IsAvailable() bool {
	if at := c.availableCacheTime.Load(); at != 0 && time.Since(time.Unix(at, 0)) < availableCacheTTL {
		return c.availableCache.Load()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status, err := c.HealthCheck(ctx)
	ok := err == nil && status.Status == "ok"
	c.availableCache.Store(ok)
	c.availableCacheTime.Store(time.Now().Unix())
	return ok
}

// InvalidateCache clears the availability cache.
func (c *Client) InvalidateCache() {
	c.availableCacheTime.Store(0)
}
