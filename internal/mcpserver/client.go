package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the configuration for connecting to the Textsmith API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // API key, e.g. "sk_..."
}

// TextsmithClient is a pure HTTP client for the Textsmith API.
type TextsmithClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewTextsmithClient creates a new client for the Textsmith API.
func NewTextsmithClient(cfg Config) *TextsmithClient {
	return &TextsmithClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a structured error response from the gate. The machine
// code and the billing fields survive the round trip so tool results
// can tell the LLM exactly why a call was refused.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
	UpgradeURL string `json:"upgrade_url"`
	QuotaUsed  int64  `json:"quota_used"`
	QuotaLimit int64  `json:"quota_limit"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *TextsmithClient) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) == nil && apiErr.Code != "" {
			return nil, apiErr
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Summarize condenses text down to its key points.
func (c *TextsmithClient) Summarize(ctx context.Context, text, mode string, maxLength int, tone string) (json.RawMessage, error) {
	body := map[string]any{"text": text}
	if mode != "" {
		body["mode"] = mode
	}
	if maxLength > 0 {
		body["max_length"] = maxLength
	}
	if tone != "" {
		body["tone"] = tone
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/summarize", body)
}

// SEODescription generates a search-optimized description for text.
func (c *TextsmithClient) SEODescription(ctx context.Context, text string, maxLength int, keywords []string) (json.RawMessage, error) {
	body := map[string]any{"text": text}
	if maxLength > 0 {
		body["max_length"] = maxLength
	}
	if len(keywords) > 0 {
		body["include_keywords"] = keywords
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/seo_description", body)
}

// SocialCaption turns text into a caption for a social platform.
func (c *TextsmithClient) SocialCaption(ctx context.Context, text, platform, tone string, includeEmojis bool, hashtags *int) (json.RawMessage, error) {
	body := map[string]any{
		"text":           text,
		"include_emojis": includeEmojis,
	}
	if platform != "" {
		body["platform"] = platform
	}
	if tone != "" {
		body["tone"] = tone
	}
	if hashtags != nil {
		body["include_hashtags"] = *hashtags
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/social_caption", body)
}

// Keywords extracts ranked keywords and phrases from text.
func (c *TextsmithClient) Keywords(ctx context.Context, text string, count int, includePhrases *bool) (json.RawMessage, error) {
	body := map[string]any{"text": text}
	if count > 0 {
		body["count"] = count
	}
	if includePhrases != nil {
		body["include_phrases"] = *includePhrases
	}
	return c.doRequest(ctx, http.MethodPost, "/api/v1/keywords", body)
}

// UsageStatus returns the key's current quota and rate standing. The
// call is free: it consumes neither rate nor quota.
func (c *TextsmithClient) UsageStatus(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/v1/usage_status", nil)
}
