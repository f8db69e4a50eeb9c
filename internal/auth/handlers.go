package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for credential management.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler.
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterProtectedRoutes sets up self-service key routes. The routes must be
// mounted behind the gate's authentication step.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/keys", h.CreateKey)
	r.GET("/keys", h.ListKeys)
	r.DELETE("/keys/:keyId", h.RevokeKey)
}

// RegisterAdminRoutes sets up admin-only credential issuance.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/principals/:id/keys", h.CreateKeyForPrincipal)
}

// CreateKey handles POST /api/v1/keys — issue an additional key for the
// authenticated principal.
func (h *Handler) CreateKey(c *gin.Context) {
	cred, ok := GetCredential(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_api_key", "message": "credential required"})
		return
	}

	var req struct {
		Label string `json:"label"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Label == "" {
		req.Label = "Additional key"
	}

	rawKey, newCred, err := h.manager.GenerateKey(c.Request.Context(), cred.PrincipalID, req.Label)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"api_key": rawKey,
		"key_id":  newCred.ID,
		"label":   newCred.Label,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// ListKeys handles GET /api/v1/keys for the authenticated principal.
func (h *Handler) ListKeys(c *gin.Context) {
	cred, ok := GetCredential(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_api_key", "message": "credential required"})
		return
	}

	creds, err := h.manager.ListKeys(c.Request.Context(), cred.PrincipalID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list keys"})
		return
	}

	// Hashes stay server-side.
	out := make([]gin.H, len(creds))
	for i, k := range creds {
		out[i] = gin.H{
			"id":         k.ID,
			"label":      k.Label,
			"active":     k.Active,
			"created_at": k.CreatedAt,
			"last_used":  k.LastUsed,
		}
	}

	c.JSON(http.StatusOK, gin.H{"keys": out, "count": len(out)})
}

// RevokeKey handles DELETE /api/v1/keys/:keyId.
func (h *Handler) RevokeKey(c *gin.Context) {
	cred, ok := GetCredential(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_api_key", "message": "credential required"})
		return
	}

	keyID := c.Param("keyId")

	// The key in use stays usable; revoking it mid-request would strand the
	// caller with no working credential.
	if keyID == cred.ID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "cannot revoke the key used for this request",
		})
		return
	}

	if err := h.manager.RevokeKey(c.Request.Context(), keyID, cred.PrincipalID); err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "key_not_found", "message": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to revoke key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "key revoked", "key_id": keyID})
}

// CreateKeyForPrincipal handles POST /admin/principals/:id/keys.
func (h *Handler) CreateKeyForPrincipal(c *gin.Context) {
	principalID := c.Param("id")

	var req struct {
		Label string `json:"label"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Label == "" {
		req.Label = "Provisioned key"
	}

	rawKey, cred, err := h.manager.GenerateKey(c.Request.Context(), principalID, req.Label)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"api_key":      rawKey,
		"key_id":       cred.ID,
		"principal_id": cred.PrincipalID,
		"label":        cred.Label,
		"warning":      "Store this key securely. It will not be shown again.",
	})
}
