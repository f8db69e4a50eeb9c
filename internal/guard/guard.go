// Package guard tracks request sessions and per-tenant security state.
//
// A session is the (principal, origin, client) tuple a caller presents,
// stored under a one-way key; the raw network address is hashed and
// never persisted. The guard is advisory on the request path: breaching
// the concurrent session cap flags the session and raises the tenant's
// warning counter. Only the temp-lock that may follow rejects requests,
// and that happens at the gate's authentication step, not here.
package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("guard: session not found")

// Session is one observed (principal, origin, client) tuple.
type Session struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	IPHash      string    `json:"ip_hash"`
	UserAgent   string    `json:"user_agent"`
	Suspicious  bool      `json:"suspicious"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// SecurityState is the per-tenant security posture. A missing row reads
// as the zero state: unlocked, no override, no warnings.
type SecurityState struct {
	TenantID   string    `json:"tenant_id"`
	TempLocked bool      `json:"temp_locked"`
	SessionCap int       `json:"session_cap"` // 0 = inherit plan
	FlagReason string    `json:"flag_reason,omitempty"`
	Warnings   int       `json:"warnings"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HashIP returns the SHA-256 hex of the raw remote address. Equal
// inputs map to equal hashes and the stored value never reveals the
// address.
func HashIP(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SessionKey derives the deterministic session identifier. The same
// principal, origin hash, and client string always map to the same
// session.
func SessionKey(principalID, ipHash, userAgent string) string {
	sum := sha256.Sum256([]byte(principalID + "|" + ipHash + "|" + userAgent))
	return "sess_" + hex.EncodeToString(sum[:])
}
