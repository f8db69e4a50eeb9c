package billing

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the plan catalog and subscriptions.
type Handler struct {
	svc *Service
}

// NewHandler creates a new billing handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes sets up unauthenticated catalog routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
}

// RegisterAdminRoutes sets up admin-only subscription management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id/subscription", h.GetSubscription)
	r.POST("/tenants/:id/subscription", h.StartSubscription)
	r.PATCH("/tenants/:id/subscription", h.ChangePlan)
	r.DELETE("/tenants/:id/subscription", h.CancelSubscription)
}

// ListPlans handles GET /api/v1/plans.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.svc.Store().ListPlans(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load plans"})
		return
	}

	out := make([]gin.H, 0, len(plans))
	for _, p := range plans {
		out = append(out, gin.H{
			"code":                    p.Code,
			"name":                    p.Name,
			"price_cents":             p.PriceCents,
			"char_limit":              p.CharLimit,
			"requests_per_hour":       p.ReqPerHour,
			"max_seats":               p.MaxSeats,
			"max_concurrent_sessions": p.MaxConcurrentSessions,
			"features":                p.Features(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": out, "count": len(out)})
}

// GetSubscription handles GET /admin/tenants/:id/subscription.
func (h *Handler) GetSubscription(c *gin.Context) {
	tenantID := c.Param("id")

	sub, err := h.svc.Store().GetSubscriptionByTenant(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no subscription for tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription":   sub,
		"active":         sub.IsActiveAt(time.Now()),
		"days_remaining": sub.DaysRemainingAt(time.Now()),
	})
}

// StartSubscription handles POST /admin/tenants/:id/subscription.
func (h *Handler) StartSubscription(c *gin.Context) {
	tenantID := c.Param("id")

	var req struct {
		Plan       PlanCode `json:"plan" binding:"required"`
		Trial      bool     `json:"trial"`
		PeriodDays int      `json:"period_days"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "plan required"})
		return
	}
	if !ValidPlanCode(req.Plan) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown plan"})
		return
	}
	if req.PeriodDays <= 0 {
		req.PeriodDays = 30
	}

	periodEnd := time.Now().AddDate(0, 0, req.PeriodDays)
	sub, err := h.svc.StartSubscription(c.Request.Context(), tenantID, req.Plan, req.Trial, periodEnd)
	if err != nil {
		switch {
		case errors.Is(err, ErrSubscriptionExists):
			c.JSON(http.StatusConflict, gin.H{"error": "subscription_exists", "message": "tenant already has a subscription"})
		case errors.Is(err, ErrPlanNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown plan"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// ChangePlan handles PATCH /admin/tenants/:id/subscription.
func (h *Handler) ChangePlan(c *gin.Context) {
	tenantID := c.Param("id")

	var req struct {
		Plan PlanCode `json:"plan" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "plan required"})
		return
	}
	if !ValidPlanCode(req.Plan) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown plan"})
		return
	}

	sub, err := h.svc.ChangePlan(c.Request.Context(), tenantID, req.Plan)
	if err != nil {
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no subscription for tenant"})
		case errors.Is(err, ErrPlanNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "unknown plan"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// CancelSubscription handles DELETE /admin/tenants/:id/subscription.
func (h *Handler) CancelSubscription(c *gin.Context) {
	tenantID := c.Param("id")

	sub, err := h.svc.CancelSubscription(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no subscription for tenant"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub, "message": "subscription canceled"})
}
