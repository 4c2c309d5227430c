// Package transport implements the authenticated request/response surface
// and the streaming chat channel against the connected gateway.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omnihq/beacon-client/internal/gateway"
	"github.com/omnihq/beacon-client/internal/protocol/wire"
)

// defaultHTTPTimeout is the per-request timeout used by the transport client.
const defaultHTTPTimeout = 15 * time.Second

// StateSource resolves the current connection state. Satisfied by
// gateway.Discovery; the transport only reads the state, it never
// transitions it.
type StateSource interface {
	Current() gateway.State
}

// APIError is a typed non-2xx response from the gateway.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Message is the gateway-reported error, or "gateway unavailable" when
	// the body was not JSON (proxy or gateway-down HTML pages).
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error (%d): %s", e.Status, e.Message)
}

// Client performs authenticated request/response calls against the connected
// gateway. Every call attaches the device id, the optional session id, and
// the optional bearer token as headers.
type Client struct {
	states StateSource

	mu        sync.RWMutex
	deviceID  string
	sessionID string
	token     string

	httpClient *http.Client
}

// NewClient creates a transport client bound to a state source.
func NewClient(states StateSource, deviceID string) *Client {
	return &Client{
		states:     states,
		deviceID:   deviceID,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// SetSessionID sets the session id attached to subsequent requests.
func (c *Client) SetSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// SetToken sets the bearer token attached to subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// TokenExpiresWithin reports whether the current bearer token is a JWT that
// expires within d. Tokens without an expiry, or that are not JWTs, report
// false; the gateway remains the authority on token validity.
func (c *Client) TokenExpiresWithin(d time.Duration) bool {
	token := c.Token()
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < d
}

// baseURL resolves the current gateway base URL from the state source.
func (c *Client) baseURL() (string, error) {
	state := c.states.Current()
	if url := state.BaseURL(); url != "" {
		return url, nil
	}
	return "", fmt.Errorf("not connected to a gateway")
}

// WebSocketBase resolves the connected gateway's base URL with the scheme
// rewritten to ws(s). The chat channel and the node service dial from it.
func (c *Client) WebSocketBase() (string, error) {
	base, err := c.baseURL()
	if err != nil {
		return "", err
	}
	return httpToWS(base), nil
}

// DeviceID returns the device id the client authenticates as.
func (c *Client) DeviceID() string {
	return c.deviceID
}

// do performs an authenticated request against the connected gateway and
// returns the raw 2xx body.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	return c.doAt(ctx, base, method, path, body)
}

// doAt is do against an explicit base URL. Pairing uses it before any
// gateway is connected.
func (c *Client) doAt(ctx context.Context, base, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	req.Header.Set("X-Device-Id", c.deviceID)
	if c.sessionID != "" {
		req.Header.Set("X-Session-Id", c.sessionID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError(resp, raw)
	}
	return raw, nil
}

// apiError converts a non-2xx response into an APIError. HTML bodies (proxy
// or gateway-down pages) must not leak markup into user-visible errors.
func apiError(resp *http.Response, body []byte) *APIError {
	if looksLikeHTML(resp.Header.Get("Content-Type"), body) {
		return &APIError{Status: resp.StatusCode, Message: "gateway unavailable"}
	}

	var parsed wire.ErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: parsed.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(resp.Status)}
}

func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<"))
}

// GetStatus fetches the gateway status document.
func (c *Client) GetStatus(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/status", nil)
}

// GetPersonas fetches the gateway's persona list.
func (c *Client) GetPersonas(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/personas", nil)
}

// GetProviders fetches the gateway's provider list.
func (c *Client) GetProviders(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/providers", nil)
}

// GetSkills fetches the gateway's skill list.
func (c *Client) GetSkills(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/skills", nil)
}

// ConfirmPair completes pairing against an explicit gateway URL, before any
// connection state exists.
func (c *Client) ConfirmPair(ctx context.Context, gatewayURL string, req wire.PairConfirmRequest) (wire.PairConfirmResponse, error) {
	raw, err := c.doAt(ctx, gatewayURL, http.MethodPost, "/api/pair/confirm", req)
	if err != nil {
		return wire.PairConfirmResponse{}, err
	}
	var resp wire.PairConfirmResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return wire.PairConfirmResponse{}, fmt.Errorf("invalid pair confirmation response: %w", err)
	}
	return resp, nil
}
