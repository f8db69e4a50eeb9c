package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL: ts.URL,
		APIKey: "sk_test_key",
	}
	client := NewTextsmithClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewTextsmithClient(Config{APIURL: ts.URL, APIKey: "sk_secret123"})
	_, err := client.UsageStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_GateRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":       "quota_exceeded",
			"message":     "Monthly character limit reached.",
			"quota_used":  10250,
			"quota_limit": 10000,
			"upgrade_url": "https://textsmith.dev/pricing",
		})
	}))
	defer ts.Close()

	client := NewTextsmithClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.Summarize(context.Background(), "some text", "", 0, "")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "quota_exceeded", apiErr.Code)
	assert.Equal(t, int64(10250), apiErr.QuotaUsed)
	assert.Equal(t, "https://textsmith.dev/pricing", apiErr.UpgradeURL)
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewTextsmithClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.UsageStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewTextsmithClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k"})
	_, err := client.UsageStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewTextsmithClient(Config{APIURL: ts.URL, APIKey: "k"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.UsageStatus(ctx)
	require.Error(t, err)
}

func TestClient_Summarize_OmitsUnsetOptions(t *testing.T) {
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"summary":"ok"}`))
	}))
	defer ts.Close()

	client := NewTextsmithClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.Summarize(context.Background(), "the text", "", 0, "")
	require.NoError(t, err)
	assert.Equal(t, "the text", gotBody["text"])
	assert.NotContains(t, gotBody, "mode")
	assert.NotContains(t, gotBody, "max_length")
	assert.NotContains(t, gotBody, "tone")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleSummarizeText_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/summarize", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"summary":         "A short summary.",
			"character_count": 1200,
			"quota_used":      1200,
			"quota_limit":     10000,
			"plan":            "FREE",
		})
	}))
	defer done()

	result, err := h.HandleSummarizeText(context.Background(),
		makeRequest(map[string]any{"text": "long input text here", "mode": "sentence"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "A short summary.")
	assert.Contains(t, text, "1200/10000")
	assert.Contains(t, text, "FREE plan")
}

func TestHandleSummarizeText_MissingText(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("API should not be called")
	}))
	defer done()

	result, err := h.HandleSummarizeText(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "text is required")
}

func TestHandleSummarizeText_QuotaExceeded(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":       "quota_exceeded",
			"message":     "Monthly character limit reached.",
			"quota_used":  10500,
			"quota_limit": 10000,
			"upgrade_url": "https://textsmith.dev/pricing",
		})
	}))
	defer done()

	result, err := h.HandleSummarizeText(context.Background(),
		makeRequest(map[string]any{"text": "some input"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "quota_exceeded")
	assert.Contains(t, text, "10500/10000")
	assert.Contains(t, text, "https://textsmith.dev/pricing")
}

func TestHandleSummarizeText_RateLimited(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		// The gate's actual 429 body.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":              "rate_limit_exceeded",
			"message":            "Rate limit exceeded. You have 10 requests/hour on the Free plan. Try again in 30 minute(s).",
			"retry_after":        1800,
			"requests_this_hour": 10,
			"limit":              10,
			"plan":               "FREE",
		})
	}))
	defer done()

	result, err := h.HandleSummarizeText(context.Background(),
		makeRequest(map[string]any{"text": "some input"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "rate_limit_exceeded")
	assert.Contains(t, text, "Retry in 1800 seconds")
}

func TestHandleSummarizeText_InvalidKey(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_api_key",
			"message": "API key not recognized.",
		})
	}))
	defer done()

	result, err := h.HandleSummarizeText(context.Background(),
		makeRequest(map[string]any{"text": "some input"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "TEXTSMITH_API_KEY")
}

func TestHandleGenerateSEODescription_Success(t *testing.T) {
	var gotBody map[string]any
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/seo_description", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"description":     "A compelling meta description.",
			"character_count": 800,
			"quota_used":      800,
			"quota_limit":     100000,
			"plan":            "PLUS",
		})
	}))
	defer done()

	result, err := h.HandleGenerateSEODescription(context.Background(),
		makeRequest(map[string]any{
			"text":     "article body",
			"keywords": []any{"golang", "gateway"},
		}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, []any{"golang", "gateway"}, gotBody["include_keywords"])
	assert.Contains(t, resultText(t, result), "A compelling meta description.")
}

func TestHandleGenerateSocialCaption_Success(t *testing.T) {
	var gotBody map[string]any
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/social_caption", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"caption":         "Check this out #golang",
			"platform_limit":  280,
			"character_count": 300,
			"quota_used":      300,
			"quota_limit":     10000,
			"plan":            "FREE",
		})
	}))
	defer done()

	result, err := h.HandleGenerateSocialCaption(context.Background(),
		makeRequest(map[string]any{
			"text":     "announcement text",
			"platform": "twitter",
			"hashtags": float64(1),
		}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, float64(1), gotBody["include_hashtags"])
	text := resultText(t, result)
	assert.Contains(t, text, "Check this out #golang")
	assert.Contains(t, text, "/280 characters")
}

func TestHandleExtractKeywords_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/keywords", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keywords":        []string{"gateway", "quota", "metering"},
			"scores":          []float64{0.92, 0.81, 0.74},
			"character_count": 500,
			"quota_used":      500,
			"quota_limit":     10000,
			"plan":            "FREE",
		})
	}))
	defer done()

	result, err := h.HandleExtractKeywords(context.Background(),
		makeRequest(map[string]any{"text": "input text", "count": float64(3)}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "gateway (0.92)")
	assert.Contains(t, text, "metering (0.74)")
}

func TestHandleGetUsageStatus_Success(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/usage_status", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"plan":                "PRO",
			"plan_display_name":   "Pro ($29.99/month)",
			"quota_used":          250000,
			"quota_limit":         1000000,
			"quota_percentage":    25.0,
			"period_start":        "2026-08-01",
			"period_end":          "2026-08-31",
			"days_remaining":      6,
			"rate_limit_per_hour": 1000,
			"requests_this_hour":  42,
			"features":            []string{"all operations", "priority support"},
		})
	}))
	defer done()

	result, err := h.HandleGetUsageStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Pro ($29.99/month)")
	assert.Contains(t, text, "250000/1000000")
	assert.Contains(t, text, "42/1000 requests this hour")
	assert.Contains(t, text, "6 day(s) remaining")
}

func TestHandleGetUsageStatus_UnlimitedPlan(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"plan":                "ENTERPRISE",
			"quota_used":          5000000,
			"quota_limit":         0,
			"rate_limit_per_hour": 0,
			"requests_this_hour":  910,
		})
	}))
	defer done()

	result, err := h.HandleGetUsageStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "unlimited")
	assert.Contains(t, text, "910 requests this hour")
}
