// Package loqui is a Go client for a multimodal AI chat service. It turns
// the service's two transports — a bidirectional live websocket and a
// streaming HTTP completions endpoint — into a consistent, replayable
// conversation engine with tool round trips and realtime audio.
package loqui

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/loqui-ai/loqui-go/pkg/core"
)

// Client is the entry point: shared configuration plus the collaborator
// services. Engines are created per conversation via NewEngine.
type Client struct {
	History *HistoryService
	Speech  *SpeechService

	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *Metrics
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.History = &HistoryService{client: c}
	c.Speech = &SpeechService{client: c}
	return c
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + path
}

func (c *Client) authorize(header http.Header) {
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// wsEndpoint converts the base URL to its websocket form for path.
func (c *Client) wsEndpoint(path string) (string, error) {
	u, err := url.Parse(c.endpoint(path))
	if err != nil {
		return "", core.NewInvalidConfigError("invalid base URL")
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already websocket scheme.
	default:
		return "", core.NewInvalidConfigError("base URL must use http(s) or ws(s)")
	}
	return u.String(), nil
}
