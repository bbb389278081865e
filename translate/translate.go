// Package translate is the boundary to the completion model: an HTTP client
// for several AI providers (OpenAI, OpenRouter, Groq, Ollama, Google AI,
// Anthropic and any OpenAI-compatible endpoint), a shared request-rate
// limiter, and the Translator that turns prompts and raw answers into
// translated strings.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderOpenAI       = "openai"
	ProviderOpenRouter   = "openrouter"
	ProviderGroq         = "groq"
	ProviderOllama       = "ollama"
	ProviderGoogle       = "google"
	ProviderAnthropic    = "anthropic"
	ProviderCustomOpenAI = "custom-openai"
)

// DefaultProvider is used when nothing else is configured.
const DefaultProvider = ProviderOpenAI

// Completer is a single blocking text-in/text-out model call.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for an AI completion service.
type Provider struct {
	// ID is the provider identifier (openai, groq, ollama, etc.).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the request timeout.
	Timeout time.Duration
}

// NeedsKey reports whether the provider refuses requests without an API key.
func (p Provider) NeedsKey() bool {
	switch p.ID {
	case ProviderOllama, ProviderCustomOpenAI:
		return false
	}
	return true
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4.1-nano",
			Timeout: 60 * time.Second,
		},
		ProviderOpenRouter: {
			ID:      ProviderOpenRouter,
			Name:    "OpenRouter",
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4.1-nano",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.3-70b-versatile",
			Timeout: 60 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Model:   "llama3.2",
			Timeout: 120 * time.Second,
		},
		ProviderGoogle: {
			ID:      ProviderGoogle,
			Name:    "Google AI (Gemini)",
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.0-flash",
			Timeout: 120 * time.Second,
		},
		ProviderAnthropic: {
			ID:      ProviderAnthropic,
			Name:    "Anthropic",
			BaseURL: "https://api.anthropic.com/v1",
			Model:   "claude-3-5-haiku-latest",
			Timeout: 120 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
	}
}

// ProviderIDs returns the known provider IDs, sorted.
func ProviderIDs() []string {
	var ids []string
	for id := range DefaultProviders() {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ---------------------------------------------------------------------------
// Client options
// ---------------------------------------------------------------------------

// Options controls the HTTP client.
type Options struct {
	// Provider is the AI provider configuration.
	Provider Provider
	// Timeout is the per-request timeout (overrides provider timeout if set).
	Timeout time.Duration
	// MaxRetries is the maximum number of retries on 429, 5xx and
	// transport errors. Default: 3.
	MaxRetries int
	// Limiter spaces out requests; shared by every client of a run.
	Limiter *Limiter
	// OnLog emits diagnostic messages (retries, rate limiting).
	OnLog func(format string, args ...any)
	// Verbose enables per-request logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	if o.Provider.Timeout > 0 {
		return o.Provider.Timeout
	}
	return 120 * time.Second
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

// ---------------------------------------------------------------------------
// API format types
// ---------------------------------------------------------------------------

type apiFormat int

const (
	formatOpenAIChat   apiFormat = iota // OpenAI chat/completions
	formatGeminiNative                  // Google Gemini generateContent
	formatAnthropic                     // Anthropic messages
)

func formatFor(providerID string) apiFormat {
	switch providerID {
	case ProviderGoogle:
		return formatGeminiNative
	case ProviderAnthropic:
		return formatAnthropic
	default:
		return formatOpenAIChat
	}
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client sends prompts to one provider. It implements Completer.
type Client struct {
	opts    Options
	prov    Provider
	format  apiFormat
	http    *resty.Client
	backoff time.Duration
}

// NewClient builds a client for opts.Provider.
func NewClient(opts Options) (*Client, error) {
	prov := opts.Provider
	if prov.BaseURL == "" {
		return nil, fmt.Errorf("provider %q has no base URL", prov.ID)
	}
	if prov.Model == "" {
		return nil, fmt.Errorf("provider %q has no model", prov.ID)
	}
	if prov.NeedsKey() && prov.APIKey == "" {
		return nil, fmt.Errorf("provider %q requires an API key", prov.ID)
	}

	hc := resty.New().SetTimeout(opts.effectiveTimeout())
	if prov.Proxy != "" {
		hc.SetProxy(prov.Proxy)
	}

	return &Client{
		opts:    opts,
		prov:    prov,
		format:  formatFor(prov.ID),
		http:    hc,
		backoff: time.Second,
	}, nil
}

// Provider returns the client's provider configuration.
func (c *Client) Provider() Provider { return c.prov }

// Complete sends prompt as a single user message and returns the model's
// text. It waits on the shared limiter first, retries transport errors and
// 5xx responses with exponential backoff, and on 429 pauses every client
// sharing the limiter for the delay the server asks for.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	endpoint, headers, body, err := c.buildRequest(prompt)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	maxRetries := c.opts.effectiveMaxRetries()
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return "", err
		}

		if c.opts.Verbose {
			c.opts.log("%s attempt %d: POST %s", c.prov.Name, attempt+1, endpoint)
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(body).
			Post(endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if attempt < maxRetries {
				if err := sleep(ctx, c.backoffFor(attempt)); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("API request failed: %w", err)
		}

		respBody := resp.Body()

		if resp.StatusCode() == http.StatusTooManyRequests {
			delay := retryDelay(resp.Header().Get("Retry-After"), respBody)
			c.opts.log("429 rate limited by %s, waiting %v before retry (attempt %d/%d)", c.prov.Name, delay, attempt+1, maxRetries)
			if attempt < maxRetries {
				c.opts.Limiter.pause(delay)
				if err := c.opts.Limiter.Wait(ctx); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("rate limited after %d retries: %s", maxRetries, truncate(string(respBody), 500))
		}

		if resp.StatusCode() != http.StatusOK {
			if attempt < maxRetries && resp.StatusCode() >= 500 {
				if err := sleep(ctx, c.backoffFor(attempt)); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode(), truncate(string(respBody), 500))
		}

		return extractResponseText(respBody)
	}

	return "", fmt.Errorf("exhausted all %d retries", maxRetries)
}

func (c *Client) backoffFor(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * c.backoff
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// buildRequest constructs the endpoint, headers, and body for the provider.
func (c *Client) buildRequest(prompt string) (string, map[string]string, []byte, error) {
	prov := c.prov
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	var endpoint string
	var body []byte
	var err error

	switch c.format {
	case formatGeminiNative:
		// Google AI: POST /v1beta/models/{model}:generateContent
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent",
			strings.TrimRight(prov.BaseURL, "/"), prov.Model)
		if prov.APIKey != "" {
			headers["x-goog-api-key"] = prov.APIKey
		}
		body, err = buildGeminiRequest(prompt, 0.3)

	case formatAnthropic:
		endpoint = strings.TrimRight(prov.BaseURL, "/") + "/messages"
		if prov.APIKey != "" {
			headers["x-api-key"] = prov.APIKey
		}
		headers["anthropic-version"] = "2023-06-01"
		body, err = buildAnthropicRequest(prov.Model, prompt)

	default: // formatOpenAIChat
		baseURL := strings.TrimRight(prov.BaseURL, "/")
		if !strings.HasSuffix(baseURL, "/chat/completions") {
			endpoint = baseURL + "/chat/completions"
		} else {
			endpoint = baseURL
		}
		if prov.APIKey != "" {
			headers["Authorization"] = "Bearer " + prov.APIKey
		}
		if prov.ID == ProviderOpenRouter {
			headers["X-Title"] = "transync"
		}
		body, err = buildOpenAIChatRequest(prov.Model, prompt, 0.3)
	}

	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

// ---------------------------------------------------------------------------
// Request builders for each API format
// ---------------------------------------------------------------------------

func buildOpenAIChatRequest(model, prompt string, temperature float64) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model       string  `json:"model"`
		Messages    []msg   `json:"messages"`
		Temperature float64 `json:"temperature"`
		Stream      bool    `json:"stream"`
	}{
		Model:       model,
		Messages:    []msg{{Role: "user", Content: prompt}},
		Temperature: temperature,
	}
	return json.Marshal(req)
}

func buildGeminiRequest(prompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents         []content `json:"contents"`
		GenerationConfig genConfig `json:"generationConfig"`
	}{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	return json.Marshal(req)
}

func buildAnthropicRequest(model, prompt string) ([]byte, error) {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	req := struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []msg  `json:"messages"`
	}{
		Model:     model,
		MaxTokens: 4096,
		Messages:  []msg{{Role: "user", Content: prompt}},
	}
	return json.Marshal(req)
}

// ---------------------------------------------------------------------------
// Response parsing (multi-format)
// ---------------------------------------------------------------------------

// ErrEmptyResponse is returned when the provider answers without any text.
var ErrEmptyResponse = errors.New("could not extract text from response")

// extractResponseText tries all known response formats and returns the text.
func extractResponseText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	if errObj, ok := raw["error"]; ok && errObj != nil {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", fmt.Errorf("API error: %s", msg)
			}
		}
		return "", fmt.Errorf("API error: %v", errObj)
	}

	// 1. OpenAI chat format: choices[0].message.content
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					return content, nil
				}
			}
		}
	}

	// 2. Gemini format: candidates[0].content.parts[].text
	if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok {
					var b strings.Builder
					for _, p := range parts {
						if part, ok := p.(map[string]any); ok {
							if text, ok := part["text"].(string); ok {
								b.WriteString(text)
							}
						}
					}
					if b.Len() > 0 {
						return b.String(), nil
					}
				}
			}
		}
	}

	// 3. Anthropic format: content[].type=="text" -> .text
	if contentArr, ok := raw["content"].([]any); ok {
		for _, c := range contentArr {
			if block, ok := c.(map[string]any); ok && block["type"] == "text" {
				if text, ok := block["text"].(string); ok {
					return text, nil
				}
			}
		}
	}

	return "", fmt.Errorf("%w: %s", ErrEmptyResponse, truncate(string(body), 500))
}

// ---------------------------------------------------------------------------
// Rate limit: retry delay of a 429 response
// ---------------------------------------------------------------------------

// retryDelay prefers a numeric Retry-After header and falls back to the
// body (Google RetryInfo).
func retryDelay(header string, body []byte) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return parseRetryDelay(body)
}

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for Google's RetryInfo detail with retryDelay field.
// Returns the delay to wait, defaulting to 60s + 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return defaultDelay
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}

	return defaultDelay
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
