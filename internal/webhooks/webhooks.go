// Package webhooks notifies tenant-registered endpoints of gateway
// events: quota milestones and account lock transitions. Deliveries are
// signed with a per-endpoint secret and retried with backoff; an
// endpoint that keeps failing is disabled rather than retried forever.
package webhooks

import (
	"context"
	"errors"
	"time"
)

// EventType identifies a webhook event.
type EventType string

const (
	EventUsageWarning    EventType = "usage.warning"
	EventQuotaExhausted  EventType = "quota.exhausted"
	EventAccountLocked   EventType = "account.locked"
	EventAccountUnlocked EventType = "account.unlocked"
)

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventUsageWarning, EventQuotaExhausted, EventAccountLocked, EventAccountUnlocked:
		return true
	}
	return false
}

var (
	ErrEndpointNotFound = errors.New("webhooks: endpoint not found")
	ErrInvalidEvent     = errors.New("webhooks: unknown event type")
)

// Event is the JSON document delivered to an endpoint.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Endpoint is a tenant-registered delivery target. An empty Events
// filter subscribes the endpoint to every event type.
type Endpoint struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	URL       string      `json:"url"`
	Secret    string      `json:"-"` // HMAC signing key, shown once at creation
	Events    []EventType `json:"events"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`

	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// Wants reports whether the endpoint subscribes to the event type.
func (e *Endpoint) Wants(t EventType) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, et := range e.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Store persists webhook endpoints.
type Store interface {
	Create(ctx context.Context, ep *Endpoint) error
	Get(ctx context.Context, id string) (*Endpoint, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Endpoint, error)
	// ListForEvent returns active endpoints of the tenant subscribed to
	// the event type.
	ListForEvent(ctx context.Context, tenantID string, t EventType) ([]*Endpoint, error)
	Update(ctx context.Context, ep *Endpoint) error
	Delete(ctx context.Context, id string) error
}
