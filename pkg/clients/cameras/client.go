package cameras

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/GoldenTiger720/secondkeeper/pkg/api/cameras"
	"github.com/GoldenTiger720/secondkeeper/pkg/clients"
)

// APIError is returned when the camera API answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
	Errors     []string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("camera api returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("camera api returned status: %d", e.StatusCode)
}

// Client talks to the stream session endpoints of the camera API.
//
// GetStream is sent once and never retried; its failures are reported to the
// user as-is. StopStream and StreamStatus run through separate executors, each
// with its own circuit breaker, so failing status polls cannot trip stops.
type Client struct {
	baseURL        string
	token          string
	client         *http.Client
	httpExecutor   failsafe.Executor[*http.Response]
	statusExecutor failsafe.Executor[*http.Response]
	shouldRetry    func(resp *http.Response, err error) bool
}

type Option func(*Client)

// NewClient creates a client for baseURL, e.g. "https://secondkeeper.cc/api".
func NewClient(baseURL string, opts ...Option) *Client {
	defaultConfig := clients.DefaultHTTPExecutorConfig()
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      clients.NewHTTPClient(10 * time.Second),
		shouldRetry: defaultConfig.ShouldRetry,
	}
	c.httpExecutor, c.statusExecutor = newExecutors(defaultConfig)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newExecutors builds the stop and status executors from one config, each
// behind its own breaker unless cfg already names one.
func newExecutors(cfg clients.HTTPExecutorConfig) (stop, status failsafe.Executor[*http.Response]) {
	stopCfg, statusCfg := cfg, cfg
	if cfg.CircuitBreaker == nil {
		stopCB := clients.DefaultCircuitBreakerConfig("camera-api-stop")
		statusCB := clients.DefaultCircuitBreakerConfig("camera-api-status")
		stopCfg.CircuitBreaker = &stopCB
		statusCfg.CircuitBreaker = &statusCB
	}
	return clients.NewHTTPExecutor(stopCfg), clients.NewHTTPExecutor(statusCfg)
}

// WithToken sets a static bearer token forwarded on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

func WithHTTPExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		c.httpExecutor, c.statusExecutor = newExecutors(cfg)
		c.shouldRetry = cfg.ShouldRetry
		if c.shouldRetry == nil {
			c.shouldRetry = clients.DefaultShouldRetry
		}
	}
}

func WithHTTPExecutor(executor failsafe.Executor[*http.Response], shouldRetry func(resp *http.Response, err error) bool) Option {
	return func(c *Client) {
		if executor != nil {
			c.httpExecutor = executor
			c.statusExecutor = executor
			c.shouldRetry = shouldRetry
		}
	}
}

// BaseURL returns the API base the client was built with
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest sends the request through executor, or once directly when executor is nil.
func (c *Client) doRequest(ctx context.Context, executor failsafe.Executor[*http.Response], build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if executor == nil {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return c.client.Do(req)
	}

	resp, err := clients.ExecuteHTTP(ctx, executor, func() (*http.Response, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if c.shouldRetry != nil && c.shouldRetry(resp, err) {
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func cameraPath(cameraID, suffix string) string {
	return fmt.Sprintf("/cameras/%s/%s/", url.PathEscape(cameraID), suffix)
}

// GetStream asks the backend to create (or join) a stream session for cameraID.
// A 2xx answer is returned as-is, including success=false bodies. The request
// is not retried; any non-2xx answer comes back as *APIError.
func (c *Client) GetStream(ctx context.Context, cameraID string) (*cameras.StreamResponse, error) {
	resp, err := c.doRequest(ctx, nil, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, cameraPath(cameraID, "stream"))
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp)
	}

	var out cameras.StreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode stream response: %w", err)
	}
	return &out, nil
}

// StopStream tells the backend the viewer released its session.
func (c *Client) StopStream(ctx context.Context, cameraID string) error {
	resp, err := c.doRequest(ctx, c.httpExecutor, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, cameraPath(cameraID, "stop_stream"))
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StreamStatus fetches server-side metrics for a running stream.
func (c *Client) StreamStatus(ctx context.Context, cameraID string) (*cameras.StreamStatusResponse, error) {
	resp, err := c.doRequest(ctx, c.statusExecutor, func(ctx context.Context) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, cameraPath(cameraID, "stream_status"))
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp)
	}

	var out cameras.StreamStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode stream status: %w", err)
	}
	return &out, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(body) == 0 {
		return apiErr
	}
	var payload struct {
		Message string   `json:"message"`
		Detail  string   `json:"detail"`
		Errors  []string `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Detail
		}
		apiErr.Errors = payload.Errors
	}
	return apiErr
}

// ResolveWebsocketURL turns the websocket_url from a session descriptor into a
// dialable address. Absolute ws/wss URLs pass through; anything else is a path
// on the API host with the scheme mapped http->ws, https->wss and a trailing
// /api segment dropped.
func ResolveWebsocketURL(baseURL, websocketURL string) (string, error) {
	websocketURL = strings.TrimSpace(websocketURL)
	if websocketURL == "" {
		return "", errors.New("empty websocket url")
	}
	if ref, err := url.Parse(websocketURL); err == nil && ref.IsAbs() {
		switch ref.Scheme {
		case "ws", "wss":
			return ref.String(), nil
		case "http":
			ref.Scheme = "ws"
			return ref.String(), nil
		case "https":
			ref.Scheme = "wss"
			return ref.String(), nil
		default:
			return "", fmt.Errorf("unsupported websocket scheme %q", ref.Scheme)
		}
	}

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid api base url: %w", err)
	}
	switch base.Scheme {
	case "https", "wss":
		base.Scheme = "wss"
	case "http", "ws":
		base.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported api scheme %q", base.Scheme)
	}
	base.Path = strings.TrimSuffix(base.Path, "/api")
	if !strings.HasPrefix(websocketURL, "/") {
		websocketURL = "/" + websocketURL
	}
	base.RawQuery = ""
	base.Fragment = ""
	return strings.TrimRight(base.String(), "/") + websocketURL, nil
}
