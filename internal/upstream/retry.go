package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/isaacmorgado/clauded/internal/codec"
)

// Retry tuning. MaxRetries counts attempts after the first; the backoff
// schedule carries jitter through RandomizationFactor.
const (
	maxRetries          = 3
	initialBackoff      = 500 * time.Millisecond
	maxBackoff          = 10 * time.Second
	fallbackAfterErrors = 2
)

// strippableParams are generation parameters some compatible vendors
// reject; a 400 naming one of them triggers one retry without it.
var strippableParams = []string{"temperature", "top_p", "max_tokens"}

// DoWithRetry sends the request with bounded exponential backoff and
// jitter. Transport failures and retryable statuses are retried; after
// fallbackAfterErrors consecutive 5xx replies the provider's fallback URL,
// when configured, serves the remaining attempts. A 400 naming an
// unsupported generation parameter gets one retry with that parameter
// stripped from the body. The final failure is returned as a classified
// GatewayError; any non-retryable upstream status surfaces verbatim.
func (c *Client) DoWithRetry(ctx context.Context, req *Request) (*Response, *codec.GatewayError) {
	pc := c.Providers[req.Provider]
	baseURL := pc.BaseURL

	var (
		lastResp      *Response
		lastErr       error
		serverErrors  int
		paramStripped bool
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxBackoff

	attempt := func() error {
		resp, err := c.Do(ctx, baseURL, req)
		if err != nil {
			lastErr = err
			lastResp = nil
			slog.Warn("upstream attempt failed", "provider", req.Provider, "error", err)
			return err
		}
		lastErr = nil
		lastResp = resp

		if resp.StatusCode < 400 {
			return nil
		}

		if resp.StatusCode >= 500 {
			serverErrors++
			if serverErrors >= fallbackAfterErrors && pc.FallbackURL != "" && baseURL != pc.FallbackURL {
				slog.Warn("rotating to fallback endpoint",
					"provider", req.Provider, "fallback", pc.FallbackURL)
				baseURL = pc.FallbackURL
			}
		}

		if !paramStripped && resp.StatusCode == 400 {
			if param := rejectedParam(resp.Body); param != "" {
				if stripped, err := sjson.DeleteBytes(req.Body, param); err == nil {
					slog.Warn("retrying without rejected parameter",
						"provider", req.Provider, "param", param)
					req.Body = stripped
					paramStripped = true
					return fmt.Errorf("parameter %s rejected", param)
				}
			}
		}

		if codec.RetryableStatus(resp.StatusCode) {
			return fmt.Errorf("upstream status %d", resp.StatusCode)
		}
		// Non-retryable upstream error: stop the loop, pass it through.
		return backoff.Permanent(fmt.Errorf("upstream status %d", resp.StatusCode))
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))

	if lastResp != nil && lastResp.StatusCode < 400 {
		return lastResp, nil
	}
	if lastResp != nil {
		return nil, codec.FromUpstreamStatus(lastResp.StatusCode, lastResp.Body)
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, codec.NewError(codec.TypeAPI,
		fmt.Sprintf("upstream request to %s failed: %v", req.Provider, lastErr))
}

// rejectedParam inspects a 400 body for an unsupported-parameter complaint
// and returns the offending parameter name, or "".
func rejectedParam(body []byte) string {
	msg := strings.ToLower(gjson.GetBytes(body, "error.message").String())
	if msg == "" {
		msg = strings.ToLower(gjson.GetBytes(body, "message").String())
	}
	if msg == "" {
		return ""
	}
	if !strings.Contains(msg, "unsupported") && !strings.Contains(msg, "not supported") &&
		!strings.Contains(msg, "unknown parameter") {
		return ""
	}
	for _, p := range strippableParams {
		if strings.Contains(msg, p) {
			return p
		}
	}
	return ""
}
