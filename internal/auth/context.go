package auth

import (
	"github.com/gin-gonic/gin"
)

// ContextKeyCredential is the gin context key holding the authenticated
// *Credential. The request gate sets it after validation.
const ContextKeyCredential = "credential"

// GetCredential returns the authenticated credential from the gin context.
func GetCredential(c *gin.Context) (*Credential, bool) {
	v, exists := c.Get(ContextKeyCredential)
	if !exists {
		return nil, false
	}
	cred, ok := v.(*Credential)
	return cred, ok
}

// IsAuthenticated checks if the request carries a validated credential.
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyCredential)
	return exists
}
