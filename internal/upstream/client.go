// Package upstream issues provider-native HTTP requests and applies the
// retry policy for transient failures.
package upstream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/isaacmorgado/clauded/internal/config"
	"github.com/isaacmorgado/clauded/internal/dispatch"
)

// requestTimeout bounds a single outbound attempt. Generation can be slow,
// so the ceiling is generous; the caller's context may shorten it.
const requestTimeout = 5 * time.Minute

// Request holds one provider-native call.
type Request struct {
	Provider dispatch.Provider
	Path     string
	Body     []byte
	// PassthroughAuth, when set, replaces the configured provider key.
	PassthroughAuth string
}

// Response is the raw upstream reply.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Client sends provider requests using per-provider endpoint configuration.
type Client struct {
	HTTP      *http.Client
	Providers map[dispatch.Provider]config.ProviderConfig
	Verbose   bool
}

// NewClient builds a transport client from provider configuration.
func NewClient(providers map[dispatch.Provider]config.ProviderConfig, verbose bool) *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: requestTimeout},
		Providers: providers,
		Verbose:   verbose,
	}
}

// Do sends a single attempt against the given base URL and drains the body.
func (c *Client) Do(ctx context.Context, baseURL string, req *Request) (*Response, error) {
	pc := c.Providers[req.Provider]

	url := strings.TrimRight(baseURL, "/") + req.Path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	key := req.PassthroughAuth
	if key == "" {
		key = pc.APIKey()
	}
	if dispatch.UsesAnthropicWire(req.Provider) {
		httpReq.Header.Set("x-api-key", key)
		httpReq.Header.Set("anthropic-version", "2023-06-01")
	} else if key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	if c.Verbose {
		slog.Info("upstream request",
			"provider", req.Provider,
			"url", url,
			"body_bytes", len(req.Body),
		)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if c.Verbose {
		slog.Info("upstream response", "provider", req.Provider, "status", resp.StatusCode)
	}

	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}
