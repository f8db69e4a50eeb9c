package webhooks

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/textsmith/internal/idgen"
)

// Handler provides the admin CRUD surface for webhook endpoints.
type Handler struct {
	store       Store
	validateURL func(string) error
}

// NewHandler creates a webhook handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// WithURLValidation rejects endpoint URLs that fail the given check.
// Production wires the SSRF guard here; tests and dev leave it off so
// local delivery targets still work.
func (h *Handler) WithURLValidation(fn func(string) error) *Handler {
	h.validateURL = fn
	return h
}

// RegisterAdminRoutes mounts the endpoint CRUD on an admin group.
// Callers mount the group behind the admin key check.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tenants/:id/webhooks", h.CreateEndpoint)
	r.GET("/tenants/:id/webhooks", h.ListEndpoints)
	r.DELETE("/webhooks/:id", h.DeleteEndpoint)
}

// CreateEndpointRequest registers a delivery target for a tenant. An
// empty events list subscribes to every event type.
type CreateEndpointRequest struct {
	URL    string   `json:"url" binding:"required,url"`
	Events []string `json:"events"`
}

// CreateEndpoint handles POST /tenants/:id/webhooks.
func (h *Handler) CreateEndpoint(c *gin.Context) {
	tenantID := c.Param("id")

	var req CreateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "url is required and must be a valid URL",
		})
		return
	}

	if h.validateURL != nil {
		if err := h.validateURL(req.URL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_url",
				"message": err.Error(),
			})
			return
		}
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		t := EventType(e)
		if !ValidEventType(t) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_event",
				"message": "Unknown event type: " + e,
			})
			return
		}
		events = append(events, t)
	}

	secret := idgen.Hex(32)
	ep := &Endpoint{
		ID:        idgen.WithPrefix("wh_"),
		TenantID:  tenantID,
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), ep); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook endpoint",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"endpoint": ep,
		"secret":   secret, // shown once
		"usage": gin.H{
			"header":    "X-Textsmith-Signature",
			"signature": "sha256=HMAC-SHA256(body, secret)",
		},
	})
}

// ListEndpoints handles GET /tenants/:id/webhooks.
func (h *Handler) ListEndpoints(c *gin.Context) {
	endpoints, err := h.store.ListByTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhook endpoints",
		})
		return
	}
	if endpoints == nil {
		endpoints = []*Endpoint{}
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

// DeleteEndpoint handles DELETE /webhooks/:id.
func (h *Handler) DeleteEndpoint(c *gin.Context) {
	err := h.store.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrEndpointNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Webhook endpoint not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook endpoint",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
