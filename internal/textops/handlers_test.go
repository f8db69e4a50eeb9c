package textops

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/textsmith/internal/account"
	"github.com/mbd888/textsmith/internal/audit"
	"github.com/mbd888/textsmith/internal/auth"
	"github.com/mbd888/textsmith/internal/billing"
	"github.com/mbd888/textsmith/internal/gate"
	"github.com/mbd888/textsmith/internal/guard"
	"github.com/mbd888/textsmith/internal/ledger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newAPI builds the full in-memory stack behind the textops routes: a
// PRO tenant with one API key.
func newAPI(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	accountStore := account.NewMemoryStore()
	accounts := account.NewService(accountStore, logger)
	bill := billing.NewService(billing.NewMemoryStore(), accounts, logger)

	principal, err := accounts.CreatePrincipal(ctx, "owner@example.com", "Owner")
	require.NoError(t, err)
	tenant, err := accounts.CreateTenant(ctx, "Acme", principal.ID)
	require.NoError(t, err)
	_, err = bill.StartSubscription(ctx, tenant.ID, billing.PlanPro, false, time.Now().Add(30*24*time.Hour))
	require.NoError(t, err)

	mgr := auth.NewManager(auth.NewMemoryStore())
	rawKey, _, err := mgr.GenerateKey(ctx, principal.ID, "test")
	require.NoError(t, err)

	led := ledger.NewService(ledger.NewMemoryStore(accountStore), logger)
	grd := guard.NewService(guard.NewMemoryStore(), time.Hour, 0, logger)

	g := gate.New(gate.Deps{
		Auth:       mgr,
		Accounts:   accounts,
		Billing:    bill,
		Guard:      grd,
		Ledger:     led,
		Recorder:   audit.NewRecorder(audit.NewMemoryLogger(), logger),
		UpgradeURL: "https://textsmith.dev/pricing",
		Logger:     logger,
	})

	r := gin.New()
	NewHandler(g, led).RegisterRoutes(r.Group("/api/v1"))
	return r, rawKey
}

func post(r *gin.Engine, key, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r *gin.Engine, key, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func body(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func fieldErrors(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	resp := body(t, w)
	require.Equal(t, "validation_error", resp["error"])
	fields, ok := resp["fields"].(map[string]any)
	require.True(t, ok, "missing fields map: %s", w.Body.String())
	return fields
}

func TestSummarize_EndToEnd(t *testing.T) {
	r, key := newAPI(t)

	w := post(r, key, "/api/v1/summarize", gin.H{"text": sampleText})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := body(t, w)
	// Defaults: extractive, 150 words, professional.
	want := Summary(strings.TrimSpace(sampleText), ModeExtractive, 150, ToneProfessional)
	assert.Equal(t, want, resp["summary"])
	assert.Equal(t, float64(utf8.RuneCountInString(sampleText)), resp["character_count"])
	assert.Equal(t, "PRO", resp["plan"])
	assert.NotEmpty(t, resp["timestamp"])
}

func TestSummarize_ModeAndTone(t *testing.T) {
	r, key := newAPI(t)

	w := post(r, key, "/api/v1/summarize", gin.H{
		"text": sampleText,
		"mode": "abstractive",
		"tone": "casual",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	summary, ok := body(t, w)["summary"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(summary, "Here's the gist:"), summary)
}

func TestSummarize_Validation(t *testing.T) {
	r, key := newAPI(t)

	w := post(r, key, "/api/v1/summarize", gin.H{"text": sampleText, "mode": "telepathic"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := fieldErrors(t, w)
	assert.Contains(t, fields["mode"], "not a valid choice")

	w = post(r, key, "/api/v1/summarize", gin.H{"text": "short"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields = fieldErrors(t, w)
	assert.Equal(t, "Ensure this field has at least 10 characters.", fields["text"])

	w = post(r, key, "/api/v1/summarize", gin.H{"text": sampleText, "max_length": 20})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields = fieldErrors(t, w)
	assert.Equal(t, "Ensure this value is between 50 and 500.", fields["max_length"])
}

func TestSummarize_MalformedJSON(t *testing.T) {
	r, key := newAPI(t)

	req := httptest.NewRequest("POST", "/api/v1/summarize", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := fieldErrors(t, w)
	assert.Equal(t, "Malformed JSON payload.", fields["body"])
}

func TestSEODescription_EndToEnd(t *testing.T) {
	r, key := newAPI(t)

	w := post(r, key, "/api/v1/seo_description", gin.H{
		"text":             sampleText,
		"include_keywords": []string{"kubernetes", "scheduling", "extra"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	desc, ok := body(t, w)["description"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(desc, "kubernetes, scheduling: "), desc)
	assert.LessOrEqual(t, utf8.RuneCountInString(desc), 155)

	w = post(r, key, "/api/v1/seo_description", gin.H{"text": sampleText, "max_length": 90})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := fieldErrors(t, w)
	assert.Equal(t, "Ensure this value is between 120 and 160.", fields["max_length"])
}

func TestSocialCaption_EndToEnd(t *testing.T) {
	r, key := newAPI(t)

	w := post(r, key, "/api/v1/social_caption", gin.H{
		"text":     sampleText,
		"platform": "twitter",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := body(t, w)
	caption, ok := resp["caption"].(string)
	require.True(t, ok)
	assert.LessOrEqual(t, utf8.RuneCountInString(caption), 280)
	assert.Equal(t, float64(280), resp["platform_limit"])
	// Default of three hashtags.
	assert.Equal(t, 3, strings.Count(caption, "#"), caption)
}

func TestSocialCaption_PlatformRequired(t *testing.T) {
	r, key := newAPI(t)

	w := post(r, key, "/api/v1/social_caption", gin.H{"text": sampleText})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := fieldErrors(t, w)
	assert.Equal(t, "This field is required.", fields["platform"])

	w = post(r, key, "/api/v1/social_caption", gin.H{"text": sampleText, "platform": "myspace"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields = fieldErrors(t, w)
	assert.Contains(t, fields["platform"], "not a valid choice")
}

func TestSocialCaption_ExplicitZeroHashtags(t *testing.T) {
	r, key := newAPI(t)

	w := post(r, key, "/api/v1/social_caption", gin.H{
		"text":             sampleText,
		"platform":         "linkedin",
		"include_hashtags": 0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	caption := body(t, w)["caption"].(string)
	assert.NotContains(t, caption, "#")
}

func TestKeywords_EndToEnd(t *testing.T) {
	r, key := newAPI(t)

	w := post(r, key, "/api/v1/keywords", gin.H{"text": sampleText, "count": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := body(t, w)
	words, ok := resp["keywords"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, words)
	assert.LessOrEqual(t, len(words), 5)

	scores, ok := resp["scores"].(map[string]any)
	require.True(t, ok)
	for _, kw := range words {
		assert.Contains(t, scores, kw.(string))
	}
}

func TestKeywords_CountOutOfRange(t *testing.T) {
	r, key := newAPI(t)

	w := post(r, key, "/api/v1/keywords", gin.H{"text": sampleText, "count": 25})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := fieldErrors(t, w)
	assert.Equal(t, "Ensure this value is between 1 and 20.", fields["count"])
}

func TestKeywords_PhrasesToggle(t *testing.T) {
	r, key := newAPI(t)
	text := "Machine learning transforms industries. Machine learning powers modern search engines."

	off := false
	w := post(r, key, "/api/v1/keywords", gin.H{"text": text, "include_phrases": off})
	require.Equal(t, http.StatusOK, w.Code)
	for _, kw := range body(t, w)["keywords"].([]any) {
		assert.NotContains(t, kw.(string), " ")
	}
}

func TestUsageStatus_EndToEnd(t *testing.T) {
	r, key := newAPI(t)

	w := get(r, key, "/api/v1/usage_status")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := body(t, w)
	assert.Equal(t, "PRO", resp["plan"])
	assert.Equal(t, "Pro ($29.99/month)", resp["plan_display_name"])
	assert.Equal(t, float64(0), resp["quota_used"])
	assert.Equal(t, float64(1000000), resp["quota_limit"])
	assert.Equal(t, float64(0), resp["requests_this_hour"])
	assert.Equal(t, float64(1000), resp["rate_limit_per_hour"])

	features, ok := resp["features"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, features["extractive"])
	assert.Equal(t, true, features["abstractive"])
	assert.Equal(t, true, features["hybrid"])

	days, ok := resp["days_remaining"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, days, float64(0))
	assert.LessOrEqual(t, days, float64(30))

	// One metered call moves the counters.
	pw := post(r, key, "/api/v1/summarize", gin.H{"text": sampleText})
	require.Equal(t, http.StatusOK, pw.Code)

	w = get(r, key, "/api/v1/usage_status")
	require.Equal(t, http.StatusOK, w.Code)
	resp = body(t, w)
	assert.Equal(t, float64(utf8.RuneCountInString(sampleText)), resp["quota_used"])
	assert.Equal(t, float64(1), resp["requests_this_hour"])
}
