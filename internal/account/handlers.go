package account

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/textsmith/internal/validation"
)

// Handler provides the administrative HTTP surface for accounts.
type Handler struct {
	svc *Service
}

// NewHandler creates a new account handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterAdminRoutes sets up admin-only account management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/principals", h.CreatePrincipal)
	r.GET("/principals/:id", h.GetPrincipal)
	r.POST("/tenants", h.CreateTenant)
	r.GET("/tenants/:id", h.GetTenant)
	r.POST("/tenants/:id/members", h.AddMember)
	r.DELETE("/tenants/:id/members/:principalId", h.RemoveMember)
}

// CreatePrincipal handles POST /admin/principals.
func (h *Handler) CreatePrincipal(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "email required"})
		return
	}

	p, err := h.svc.CreatePrincipal(c.Request.Context(), req.Email, validation.SanitizeString(req.Name, 200))
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken", "message": "email already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"principal": p})
}

// GetPrincipal handles GET /admin/principals/:id.
func (h *Handler) GetPrincipal(c *gin.Context) {
	p, err := h.svc.Store().GetPrincipal(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "principal not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": p})
}

// CreateTenant handles POST /admin/tenants.
func (h *Handler) CreateTenant(c *gin.Context) {
	var req struct {
		Name    string `json:"name" binding:"required"`
		OwnerID string `json:"owner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and owner_id required"})
		return
	}

	t, err := h.svc.CreateTenant(c.Request.Context(), validation.SanitizeString(req.Name, 200), req.OwnerID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "owner principal not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tenant": t})
}

// GetTenant handles GET /admin/tenants/:id.
func (h *Handler) GetTenant(c *gin.Context) {
	tenantID := c.Param("id")

	t, err := h.svc.Store().GetTenant(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	members, err := h.svc.Store().ListMembershipsByTenant(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": t, "members": members, "member_count": len(members)})
}

// AddMember handles POST /admin/tenants/:id/members.
func (h *Handler) AddMember(c *gin.Context) {
	tenantID := c.Param("id")

	var req struct {
		PrincipalID string `json:"principal_id" binding:"required"`
		Role        Role   `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "principal_id required"})
		return
	}
	if req.Role == "" {
		req.Role = RoleMember
	}

	m, err := h.svc.AddMember(c.Request.Context(), tenantID, req.PrincipalID, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role", "message": "role must be ADMIN, MEMBER, or READONLY"})
		case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrPrincipalNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		case errors.Is(err, ErrSeatLimitReached):
			c.JSON(http.StatusForbidden, gin.H{"error": "seat_limit_reached", "message": "maximum seats reached for the tenant's plan"})
		case errors.Is(err, ErrMembershipExists):
			c.JSON(http.StatusConflict, gin.H{"error": "membership_exists", "message": "principal is already a member"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"membership": m})
}

// RemoveMember handles DELETE /admin/tenants/:id/members/:principalId.
func (h *Handler) RemoveMember(c *gin.Context) {
	err := h.svc.RemoveMember(c.Request.Context(), c.Param("id"), c.Param("principalId"))
	if err != nil {
		switch {
		case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrMembershipNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "membership removed"})
}
