package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, id, baseURL string) *Client {
	t.Helper()
	prov := DefaultProviders()[id]
	prov.BaseURL = baseURL
	prov.APIKey = "test-key"
	c, err := NewClient(Options{Provider: prov, MaxRetries: 2})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.backoff = time.Millisecond
	return c
}

func TestClientComplete_OpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		if req.Model != "gpt-4.1-nano" || len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("unexpected request: %s", body)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"<root><translated>Bonjour</translated></root>"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, ProviderOpenAI, srv.URL)
	got, err := c.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "<root><translated>Bonjour</translated></root>" {
		t.Fatalf("Complete = %q", got)
	}
}

func TestClientComplete_GeminiAndAnthropic(t *testing.T) {
	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1beta/models/gemini-2.0-flash:generateContent") {
			t.Errorf("gemini path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing x-goog-api-key")
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hal"},{"text":"lo"}]}}]}`))
	}))
	defer gemini.Close()

	anthropic := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("anthropic path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic headers")
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"Ciao"}]}`))
	}))
	defer anthropic.Close()

	got, err := newTestClient(t, ProviderGoogle, gemini.URL).Complete(context.Background(), "x")
	if err != nil || got != "Hallo" {
		t.Fatalf("gemini Complete = %q, %v", got, err)
	}
	got, err = newTestClient(t, ProviderAnthropic, anthropic.URL).Complete(context.Background(), "x")
	if err != nil || got != "Ciao" {
		t.Fatalf("anthropic Complete = %q, %v", got, err)
	}
}

func TestClientComplete_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		switch n {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
		case 2:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, ProviderGroq, srv.URL)
	got, err := c.Complete(context.Background(), "x")
	if err != nil || got != "ok" {
		t.Fatalf("Complete = %q, %v", got, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestClientComplete_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, ProviderOpenAI, srv.URL).Complete(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want status 401", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestClientComplete_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(t, ProviderOpenAI, srv.URL).Complete(ctx, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNewClient_Validation(t *testing.T) {
	prov := DefaultProviders()[ProviderOpenAI]
	if _, err := NewClient(Options{Provider: prov}); err == nil {
		t.Fatal("expected error for missing API key")
	}

	custom := DefaultProviders()[ProviderCustomOpenAI]
	custom.Model = "local"
	if _, err := NewClient(Options{Provider: custom}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	custom.BaseURL = "http://localhost:8080/v1"
	if _, err := NewClient(Options{Provider: custom}); err != nil {
		t.Fatalf("custom-openai without key should be allowed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func TestExtractResponseText_Errors(t *testing.T) {
	if _, err := extractResponseText([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := extractResponseText([]byte(`{"error":{"message":"quota"}}`)); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("err = %v, want API error", err)
	}
	if _, err := extractResponseText([]byte(`{"choices":[]}`)); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestRetryDelay(t *testing.T) {
	if got := retryDelay("7", nil); got != 7*time.Second {
		t.Fatalf("header delay = %v", got)
	}
	body := []byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`)
	if got := retryDelay("", body); got != 35*time.Second {
		t.Fatalf("RetryInfo delay = %v, want 35s", got)
	}
	if got := parseRetryDelay([]byte(`{}`)); got != 65*time.Second {
		t.Fatalf("default delay = %v, want 65s", got)
	}
}

// ---------------------------------------------------------------------------
// Limiter
// ---------------------------------------------------------------------------

func TestLimiter_SpacesRequests(t *testing.T) {
	l := NewLimiter(600) // one request per 100ms
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("three waits took %v, want >= 150ms", elapsed)
	}
}

func TestLimiter_NilAndDisabled(t *testing.T) {
	var nilLimiter *Limiter
	if err := nilLimiter.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter Wait: %v", err)
	}
	nilLimiter.pause(time.Hour)

	l := NewLimiter(0)
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("disabled limiter Wait: %v", err)
		}
	}
}

func TestLimiter_PauseHonoursCancel(t *testing.T) {
	l := NewLimiter(0)
	l.pause(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait during pause = %v, want deadline exceeded", err)
	}
}
