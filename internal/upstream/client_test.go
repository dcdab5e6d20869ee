package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/isaacmorgado/clauded/internal/codec"
	"github.com/isaacmorgado/clauded/internal/config"
	"github.com/isaacmorgado/clauded/internal/dispatch"
)

func testClient(t *testing.T, p dispatch.Provider, pc config.ProviderConfig) *Client {
	t.Helper()
	return NewClient(map[dispatch.Provider]config.ProviderConfig{p: pc}, false)
}

func TestDoSetsProviderHeaders(t *testing.T) {
	var gotAuth, gotAPIKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_GROQ_KEY", "sk-groq")
	c := testClient(t, dispatch.Groq, config.ProviderConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_GROQ_KEY"})
	if _, err := c.Do(context.Background(), srv.URL, &Request{Provider: dispatch.Groq, Path: "/chat/completions"}); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer sk-groq" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant")
	c = testClient(t, dispatch.Anthropic, config.ProviderConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_ANTHROPIC_KEY"})
	if _, err := c.Do(context.Background(), srv.URL, &Request{Provider: dispatch.Anthropic, Path: "/v1/messages"}); err != nil {
		t.Fatal(err)
	}
	if gotAPIKey != "sk-ant" || gotVersion == "" {
		t.Errorf("x-api-key = %q, anthropic-version = %q", gotAPIKey, gotVersion)
	}
}

func TestPassthroughAuthWins(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_KEY", "configured")
	c := testClient(t, dispatch.Groq, config.ProviderConfig{BaseURL: srv.URL, APIKeyEnv: "TEST_KEY"})
	_, err := c.Do(context.Background(), srv.URL, &Request{
		Provider:        dispatch.Groq,
		Path:            "/chat/completions",
		PassthroughAuth: "caller-key",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer caller-key" {
		t.Errorf("Authorization = %q, want caller-supplied key", gotAuth)
	}
}

func TestDoWithRetryRecoversFromServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testClient(t, dispatch.Groq, config.ProviderConfig{BaseURL: srv.URL})
	resp, gerr := c.DoWithRetry(context.Background(), &Request{Provider: dispatch.Groq, Path: "/chat/completions"})
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestDoWithRetryPassesThroughClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"no such model"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, dispatch.Groq, config.ProviderConfig{BaseURL: srv.URL})
	_, gerr := c.DoWithRetry(context.Background(), &Request{Provider: dispatch.Groq, Path: "/chat/completions"})
	if gerr == nil {
		t.Fatal("expected error")
	}
	if gerr.Type != codec.TypeInvalidRequest {
		t.Errorf("type = %q, want invalid_request_error", gerr.Type)
	}
	if gerr.Message != "no such model" {
		t.Errorf("message = %q, want upstream message verbatim", gerr.Message)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (404 is not retryable)", calls.Load())
	}
}

func TestDoWithRetryStripsRejectedParameter(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(buf))
		if len(bodies) == 1 {
			http.Error(w, `{"error":{"message":"temperature is unsupported for this model"}}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testClient(t, dispatch.Groq, config.ProviderConfig{BaseURL: srv.URL})
	resp, gerr := c.DoWithRetry(context.Background(), &Request{
		Provider: dispatch.Groq,
		Path:     "/chat/completions",
		Body:     []byte(`{"model":"m","temperature":0.5}`),
	})
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if len(bodies) != 2 {
		t.Fatalf("attempts = %d, want 2", len(bodies))
	}
	if bodies[1] != `{"model":"m"}` {
		t.Errorf("retry body = %s, want temperature removed", bodies[1])
	}
}

func TestDoWithRetryRotatesToFallback(t *testing.T) {
	var primaryCalls, fallbackCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls.Add(1)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer fallback.Close()

	c := testClient(t, dispatch.Groq, config.ProviderConfig{BaseURL: primary.URL, FallbackURL: fallback.URL})
	resp, gerr := c.DoWithRetry(context.Background(), &Request{Provider: dispatch.Groq, Path: "/chat/completions"})
	if gerr != nil {
		t.Fatalf("unexpected error: %v", gerr)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if primaryCalls.Load() != 2 {
		t.Errorf("primary calls = %d, want 2 before rotation", primaryCalls.Load())
	}
	if fallbackCalls.Load() != 1 {
		t.Errorf("fallback calls = %d, want 1", fallbackCalls.Load())
	}
}

func TestRejectedParam(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"message":"temperature is unsupported"}}`, "temperature"},
		{`{"message":"top_p not supported here"}`, "top_p"},
		{`{"error":{"message":"bad request"}}`, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := rejectedParam([]byte(tt.body)); got != tt.want {
			t.Errorf("rejectedParam(%s) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
