// Package admin is the operator surface: tenant locks, session caps,
// flagged session review, usage resets, request log queries, and the
// plan catalog. Every route sits behind the admin key middleware; the
// key never transits the tenant-facing API.
package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/textsmith/internal/account"
	"github.com/mbd888/textsmith/internal/audit"
	"github.com/mbd888/textsmith/internal/billing"
	"github.com/mbd888/textsmith/internal/guard"
)

// Handler provides admin HTTP endpoints. Collaborators are attached
// with the With setters; routes whose collaborator is missing answer
// 503.
type Handler struct {
	adminKey string
	guard    *guard.Service
	accounts *account.Service
	billing  *billing.Service
	logs     audit.Querier
}

// NewHandler creates an admin handler guarding its routes with the
// given key. An empty key disables the whole surface.
func NewHandler(adminKey string) *Handler {
	return &Handler{adminKey: adminKey}
}

// WithGuard sets the security guard for lock and session operations.
func (h *Handler) WithGuard(svc *guard.Service) *Handler {
	h.guard = svc
	return h
}

// WithAccounts sets the account service for tenant lookups and resets.
func (h *Handler) WithAccounts(svc *account.Service) *Handler {
	h.accounts = svc
	return h
}

// WithBilling sets the billing service for the plan catalog.
func (h *Handler) WithBilling(svc *billing.Service) *Handler {
	h.billing = svc
	return h
}

// WithRequestLog sets the request log query side.
func (h *Handler) WithRequestLog(q audit.Querier) *Handler {
	h.logs = q
	return h
}

// RequireKey rejects requests that do not carry the admin key as a
// bearer token or X-Admin-Key header.
func (h *Handler) RequireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is not configured",
			})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" {
			token = c.GetHeader("X-Admin-Key")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid admin key required",
			})
			return
		}
		c.Next()
	}
}

// RegisterRoutes sets up admin routes. Callers mount the group behind
// RequireKey.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/lock", h.lockTenant)
	r.POST("/tenants/:id/unlock", h.unlockTenant)
	r.GET("/tenants/:id/security", h.securityState)
	r.POST("/tenants/:id/session_cap", h.setSessionCap)
	r.GET("/sessions/flagged", h.flaggedSessions)
	r.POST("/principals/:id/reset_usage", h.resetUsage)
	r.GET("/requests", h.listRequests)
	r.GET("/plans", h.listPlans)
}

// lockTenant places a temporary lock; locked tenants get 403 on every
// API call until unlocked.
func (h *Handler) lockTenant(c *gin.Context) {
	if h.guard == nil || h.accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "guard service not configured"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "reason is required"})
		return
	}

	tenantID := c.Param("id")
	if _, err := h.accounts.Store().GetTenant(c.Request.Context(), tenantID); err != nil {
		if errors.Is(err, account.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tenant_not_found", "message": "no such tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	if err := h.guard.Lock(c.Request.Context(), tenantID, strings.TrimSpace(req.Reason)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lock_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "locked": true, "reason": strings.TrimSpace(req.Reason)})
}

func (h *Handler) unlockTenant(c *gin.Context) {
	if h.guard == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "guard service not configured"})
		return
	}

	tenantID := c.Param("id")
	if err := h.guard.Unlock(c.Request.Context(), tenantID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unlock_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "locked": false})
}

func (h *Handler) securityState(c *gin.Context) {
	if h.guard == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "guard service not configured"})
		return
	}

	state, err := h.guard.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// setSessionCap overrides the plan's concurrent session limit for one
// tenant. Zero removes the override.
func (h *Handler) setSessionCap(c *gin.Context) {
	if h.guard == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "guard service not configured"})
		return
	}

	var req struct {
		Cap *int `json:"cap"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Cap == nil || *req.Cap < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "cap must be a non-negative integer"})
		return
	}

	tenantID := c.Param("id")
	if err := h.guard.SetSessionCap(c.Request.Context(), tenantID, *req.Cap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "session_cap": *req.Cap})
}

func (h *Handler) flaggedSessions(c *gin.Context) {
	if h.guard == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "guard service not configured"})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	sessions, next, more, err := h.guard.FlaggedSessions(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":    sessions,
		"next_cursor": next,
		"has_more":    more,
	})
}

// resetUsage zeroes a principal's monthly counters, the monthly cron's
// manual twin.
func (h *Handler) resetUsage(c *gin.Context) {
	if h.accounts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "account service not configured"})
		return
	}

	principalID := c.Param("id")
	if err := h.accounts.ResetMonthlyUsage(c.Request.Context(), principalID); err != nil {
		if errors.Is(err, account.ErrPrincipalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "principal_not_found", "message": "no such principal"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal_id": principalID, "reset": true})
}

// listRequests queries the request log with optional principal,
// tenant, outcome, and time range filters.
func (h *Handler) listRequests(c *gin.Context) {
	if h.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "request log not configured"})
		return
	}

	q := audit.Query{
		PrincipalID: c.Query("principal_id"),
		TenantID:    c.Query("tenant_id"),
		Outcome:     c.Query("outcome"),
		Cursor:      c.Query("cursor"),
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			q.Limit = parsed
		}
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "from must be RFC3339"})
			return
		}
		q.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "to must be RFC3339"})
			return
		}
		q.To = t
	}

	entries, next, more, err := h.logs.Query(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requests":    entries,
		"next_cursor": next,
		"has_more":    more,
	})
}

func (h *Handler) listPlans(c *gin.Context) {
	if h.billing == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "billing service not configured"})
		return
	}

	plans, err := h.billing.Store().ListPlans(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
