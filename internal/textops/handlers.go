package textops

import (
	"github.com/gin-gonic/gin"

	"github.com/mbd888/textsmith/internal/gate"
	"github.com/mbd888/textsmith/internal/ledger"
)

// ctxKeyRequest carries the parsed payload from the bind step to the
// handler.
const ctxKeyRequest = "textops_request"

// Handler serves the text operation endpoints behind the gate.
type Handler struct {
	gate   *gate.Gate
	ledger *ledger.Service
}

// NewHandler creates the textops handler.
func NewHandler(g *gate.Gate, led *ledger.Service) *Handler {
	return &Handler{gate: g, ledger: led}
}

// RegisterRoutes mounts the metered operations and the usage endpoint
// under the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/summarize", h.gate.Metered(BindSummarize), h.Summarize)
	r.POST("/seo_description", h.gate.Metered(BindSEODescription), h.SEODescription)
	r.POST("/social_caption", h.gate.Metered(BindSocialCaption), h.SocialCaption)
	r.POST("/keywords", h.gate.Metered(BindKeywords), h.Keywords)
	r.GET("/usage_status", h.gate.AuthOnly(), h.UsageStatus)
}

// BindSummarize parses and validates the summarize payload.
func BindSummarize(c *gin.Context) (int64, error) {
	var req SummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return 0, gate.Invalid("body", "Malformed JSON payload.")
	}
	req.applyDefaults()
	if fields := req.validate(); len(fields) > 0 {
		return 0, &gate.ValidationError{Fields: fields}
	}
	c.Set(ctxKeyRequest, &req)
	return req.CharCount(), nil
}

// Summarize handles POST /api/v1/summarize.
func (h *Handler) Summarize(c *gin.Context) {
	req := c.MustGet(ctxKeyRequest).(*SummarizeRequest)
	summary := Summary(req.Text, req.Mode, req.MaxLength, req.Tone)
	gate.Succeed(c, gin.H{"summary": summary}, req.CharCount())
}

// BindSEODescription parses and validates the SEO payload.
func BindSEODescription(c *gin.Context) (int64, error) {
	var req SEODescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return 0, gate.Invalid("body", "Malformed JSON payload.")
	}
	req.applyDefaults()
	if fields := req.validate(); len(fields) > 0 {
		return 0, &gate.ValidationError{Fields: fields}
	}
	c.Set(ctxKeyRequest, &req)
	return req.CharCount(), nil
}

// SEODescription handles POST /api/v1/seo_description.
func (h *Handler) SEODescription(c *gin.Context) {
	req := c.MustGet(ctxKeyRequest).(*SEODescriptionRequest)
	desc := SEODescription(req.Text, req.MaxLength, req.Keywords)
	gate.Succeed(c, gin.H{"description": desc}, req.CharCount())
}

// BindSocialCaption parses and validates the caption payload.
func BindSocialCaption(c *gin.Context) (int64, error) {
	var req SocialCaptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return 0, gate.Invalid("body", "Malformed JSON payload.")
	}
	req.applyDefaults()
	if fields := req.validate(); len(fields) > 0 {
		return 0, &gate.ValidationError{Fields: fields}
	}
	c.Set(ctxKeyRequest, &req)
	return req.CharCount(), nil
}

// SocialCaption handles POST /api/v1/social_caption. The response
// carries the platform ceiling alongside the caption so clients can
// show remaining headroom.
func (h *Handler) SocialCaption(c *gin.Context) {
	req := c.MustGet(ctxKeyRequest).(*SocialCaptionRequest)
	caption := SocialCaption(req.Text, req.Platform, req.Tone, req.IncludeEmojis, *req.IncludeHashtags)
	gate.Succeed(c, gin.H{
		"caption":        caption,
		"platform_limit": PlatformLimits[req.Platform],
	}, req.CharCount())
}

// BindKeywords parses and validates the keywords payload.
func BindKeywords(c *gin.Context) (int64, error) {
	var req KeywordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return 0, gate.Invalid("body", "Malformed JSON payload.")
	}
	req.applyDefaults()
	if fields := req.validate(); len(fields) > 0 {
		return 0, &gate.ValidationError{Fields: fields}
	}
	c.Set(ctxKeyRequest, &req)
	return req.CharCount(), nil
}

// Keywords handles POST /api/v1/keywords.
func (h *Handler) Keywords(c *gin.Context) {
	req := c.MustGet(ctxKeyRequest).(*KeywordsRequest)
	words, scores := ExtractKeywords(req.Text, req.Count, *req.IncludePhrases)
	gate.Succeed(c, gin.H{
		"keywords": words,
		"scores":   scores,
	}, req.CharCount())
}
