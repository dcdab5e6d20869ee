package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/isaacmorgado/clauded/internal/config"
	"github.com/isaacmorgado/clauded/internal/pipeline"
	"github.com/isaacmorgado/clauded/internal/ratelimit"
	"github.com/isaacmorgado/clauded/internal/types"
	"github.com/isaacmorgado/clauded/internal/upstream"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Server {
	t.Helper()
	upstreamSrv := httptest.NewServer(handler)
	t.Cleanup(upstreamSrv.Close)

	cfg := config.Default()
	for p, pc := range cfg.Providers {
		pc.BaseURL = upstreamSrv.URL
		cfg.Providers[p] = pc
	}

	pipe := &pipeline.Pipeline{
		Config:   cfg,
		Limiter:  ratelimit.New(cfg.Quotas()),
		Upstream: upstream.NewClient(cfg.Providers, false),
	}
	return New(cfg, pipe)
}

func postJSON(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMessagesEndToEnd(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.ChatResponse{
			ID: "cmpl-1",
			Choices: []types.ChatChoice{{
				Message:      types.ChatChoiceMessage{Role: "assistant", Content: "pong"},
				FinishReason: "stop",
			}},
		})
	})

	rec := postJSON(t, s, "/v1/messages",
		`{"model":"groq/llama-3.3-70b-versatile","max_tokens":64,"messages":[{"role":"user","content":"ping"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp types.MessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != "message" || resp.Role != "assistant" {
		t.Fatalf("unexpected response shape: %+v", resp)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "pong" {
		t.Fatalf("content = %+v", resp.Content)
	}
	if resp.Model != "groq/llama-3.3-70b-versatile" {
		t.Fatalf("model = %q, want caller's model string", resp.Model)
	}
}

func TestMessagesBadJSON(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be reached")
	})

	rec := postJSON(t, s, "/v1/messages", `{"model": nope}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var env types.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "error" || env.Error.Type != "invalid_request_error" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestMessagesUpstreamErrorEnvelope(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	})

	rec := postJSON(t, s, "/v1/messages",
		`{"model":"groq/llama-3.3-70b-versatile","messages":[{"role":"user","content":"hi"}]}`)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var env types.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Type != "authentication_error" || env.Error.Message != "bad key" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestCountTokens(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("counting is local")
	})

	// 37 chars of text -> 10 tokens, plus 4 per-message overhead.
	rec := postJSON(t, s, "/v1/messages/count_tokens",
		`{"model":"m","messages":[{"role":"user","content":"`+strings.Repeat("a", 37)+`"}]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp types.CountTokensResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.InputTokens != 14 {
		t.Fatalf("input_tokens = %d, want 14", resp.InputTokens)
	}
}

func TestModelsCatalog(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Data []modelInfo `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data) != 5 {
		t.Fatalf("got %d providers, want 5", len(body.Data))
	}
	seen := map[string]modelInfo{}
	for _, m := range body.Data {
		seen[m.Provider] = m
	}
	if !seen["anthropic"].UsesNativeWire {
		t.Fatal("anthropic should use the native wire")
	}
	if !seen["featherless"].ToolEmulationMay {
		t.Fatal("featherless should always emulate tools")
	}
}

func TestHealth(t *testing.T) {
	s := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
