package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *TextsmithClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *TextsmithClient) *Handlers {
	return &Handlers{client: client}
}

// HandleSummarizeText summarizes a piece of text.
func (h *Handlers) HandleSummarizeText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	mode := req.GetString("mode", "")
	maxLength := req.GetInt("max_length", 0)
	tone := req.GetString("tone", "")

	raw, err := h.client.Summarize(ctx, text, mode, maxLength, tone)
	if err != nil {
		return toolError("Summarize failed", err), nil
	}

	return mcp.NewToolResultText(formatOperation(raw, "summary", "Summary")), nil
}

// HandleGenerateSEODescription generates a meta description.
func (h *Handlers) HandleGenerateSEODescription(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	maxLength := req.GetInt("max_length", 0)
	keywords := req.GetStringSlice("keywords", nil)

	raw, err := h.client.SEODescription(ctx, text, maxLength, keywords)
	if err != nil {
		return toolError("SEO description failed", err), nil
	}

	return mcp.NewToolResultText(formatOperation(raw, "description", "Description")), nil
}

// HandleGenerateSocialCaption builds a platform-sized caption.
func (h *Handlers) HandleGenerateSocialCaption(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	platform := req.GetString("platform", "")
	tone := req.GetString("tone", "")
	includeEmojis := req.GetBool("include_emojis", false)

	var hashtags *int
	if v, ok := req.GetArguments()["hashtags"]; ok {
		if f, ok := v.(float64); ok {
			n := int(f)
			hashtags = &n
		}
	}

	raw, err := h.client.SocialCaption(ctx, text, platform, tone, includeEmojis, hashtags)
	if err != nil {
		return toolError("Caption generation failed", err), nil
	}

	var resp struct {
		Caption       string `json:"caption"`
		PlatformLimit int    `json:"platform_limit"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(resp.Caption)
	if resp.PlatformLimit > 0 {
		fmt.Fprintf(&sb, "\n\n(%d/%d characters for the platform)", len([]rune(resp.Caption)), resp.PlatformLimit)
	}
	sb.WriteString(usageFooter(raw))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleExtractKeywords extracts ranked keywords from text.
func (h *Handlers) HandleExtractKeywords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	count := req.GetInt("count", 0)

	var includePhrases *bool
	if v, ok := req.GetArguments()["include_phrases"]; ok {
		if b, ok := v.(bool); ok {
			includePhrases = &b
		}
	}

	raw, err := h.client.Keywords(ctx, text, count, includePhrases)
	if err != nil {
		return toolError("Keyword extraction failed", err), nil
	}

	var resp struct {
		Keywords []string  `json:"keywords"`
		Scores   []float64 `json:"scores"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	if len(resp.Keywords) == 0 {
		return mcp.NewToolResultText("No keywords found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Top %d keyword(s):\n", len(resp.Keywords))
	for i, kw := range resp.Keywords {
		if i < len(resp.Scores) {
			fmt.Fprintf(&sb, "%2d. %s (%.2f)\n", i+1, kw, resp.Scores[i])
		} else {
			fmt.Fprintf(&sb, "%2d. %s\n", i+1, kw)
		}
	}
	sb.WriteString(usageFooter(raw))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetUsageStatus reports quota and rate standing for the key.
func (h *Handlers) HandleGetUsageStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.UsageStatus(ctx)
	if err != nil {
		return toolError("Failed to get usage status", err), nil
	}

	text, err := formatUsageStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse usage status: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

// toolError renders an API failure for the LLM. Gate rejections keep
// their machine code and the recovery hint the status implies.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", prefix, apiErr.Error())
	switch {
	case apiErr.StatusCode == 401:
		sb.WriteString("\nCheck that TEXTSMITH_API_KEY is set to a valid key.")
	case apiErr.Code == "rate_limit_exceeded" && apiErr.RetryAfter > 0:
		fmt.Fprintf(&sb, "\nRetry in %d seconds.", apiErr.RetryAfter)
	case apiErr.Code == "quota_exceeded":
		if apiErr.QuotaLimit > 0 {
			fmt.Fprintf(&sb, "\nQuota: %d/%d characters used this month.", apiErr.QuotaUsed, apiErr.QuotaLimit)
		}
		if apiErr.UpgradeURL != "" {
			fmt.Fprintf(&sb, "\nUpgrade at %s for more capacity.", apiErr.UpgradeURL)
		}
	}
	return mcp.NewToolResultError(sb.String())
}

// formatOperation renders a single-field operation result followed by
// the usage footer from the success envelope.
func formatOperation(raw json.RawMessage, field, label string) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return string(raw)
	}
	value, _ := m[field].(string)
	if value == "" {
		return string(raw)
	}
	return label + ":\n" + value + usageFooter(raw)
}

// usageFooter summarizes the metering fields the success envelope
// carries, so the LLM sees quota drain as it works.
func usageFooter(raw json.RawMessage) string {
	var env struct {
		CharacterCount int64  `json:"character_count"`
		QuotaUsed      int64  `json:"quota_used"`
		QuotaLimit     int64  `json:"quota_limit"`
		Plan           string `json:"plan"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.CharacterCount == 0 {
		return ""
	}
	if env.QuotaLimit > 0 {
		return fmt.Sprintf("\n\nMetered %d characters. Quota: %d/%d (%s plan).",
			env.CharacterCount, env.QuotaUsed, env.QuotaLimit, env.Plan)
	}
	return fmt.Sprintf("\n\nMetered %d characters (%s plan, unlimited quota).",
		env.CharacterCount, env.Plan)
}

func formatUsageStatus(raw json.RawMessage) (string, error) {
	var s struct {
		Plan            string   `json:"plan"`
		PlanDisplayName string   `json:"plan_display_name"`
		QuotaUsed       int64    `json:"quota_used"`
		QuotaLimit      int64    `json:"quota_limit"`
		QuotaPercentage float64  `json:"quota_percentage"`
		PeriodStart     string   `json:"period_start"`
		PeriodEnd       string   `json:"period_end"`
		DaysRemaining   int      `json:"days_remaining"`
		RatePerHour     int      `json:"rate_limit_per_hour"`
		RequestsHour    int64    `json:"requests_this_hour"`
		Features        []string `json:"features"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}

	var sb strings.Builder
	plan := s.PlanDisplayName
	if plan == "" {
		plan = s.Plan
	}
	fmt.Fprintf(&sb, "Plan: %s\n", plan)
	if s.QuotaLimit > 0 {
		fmt.Fprintf(&sb, "Quota: %d/%d characters (%.1f%%)\n", s.QuotaUsed, s.QuotaLimit, s.QuotaPercentage)
	} else {
		fmt.Fprintf(&sb, "Quota: %d characters used (unlimited)\n", s.QuotaUsed)
	}
	if s.RatePerHour > 0 {
		fmt.Fprintf(&sb, "Rate: %d/%d requests this hour\n", s.RequestsHour, s.RatePerHour)
	} else {
		fmt.Fprintf(&sb, "Rate: %d requests this hour (unlimited)\n", s.RequestsHour)
	}
	if s.PeriodStart != "" {
		fmt.Fprintf(&sb, "Period: %s to %s (%d day(s) remaining)\n", s.PeriodStart, s.PeriodEnd, s.DaysRemaining)
	}
	if len(s.Features) > 0 {
		fmt.Fprintf(&sb, "Features: %s\n", strings.Join(s.Features, ", "))
	}
	return sb.String(), nil
}
