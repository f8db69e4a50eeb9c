package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/textsmith/internal/circuitbreaker"
	"github.com/mbd888/textsmith/internal/metrics"
	"github.com/mbd888/textsmith/internal/retry"
)

const (
	deliveryTimeout = 10 * time.Second
	retryBaseDelay  = 500 * time.Millisecond
)

// Dispatcher delivers events to a tenant's endpoints. Each delivery is
// signed, retried with backoff, and isolated behind a per-endpoint
// circuit breaker so one dead URL cannot slow the rest.
type Dispatcher struct {
	store        Store
	client       *http.Client
	breaker      *circuitbreaker.Breaker
	maxAttempts  int
	disableAfter int // consecutive failed deliveries before the endpoint is disabled; 0 keeps trying
	logger       *slog.Logger
}

// NewDispatcher creates a dispatcher with the delivery policy from config.
func NewDispatcher(store Store, maxAttempts, disableAfter int, logger *slog.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Dispatcher{
		store:        store,
		client:       &http.Client{Timeout: deliveryTimeout},
		breaker:      circuitbreaker.New(3, 30*time.Second),
		maxAttempts:  maxAttempts,
		disableAfter: disableAfter,
		logger:       logger,
	}
}

// Dispatch delivers the event to every subscribed endpoint of its
// tenant, synchronously. Callers wanting fire-and-forget run it in a
// goroutine (the Emitter does).
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	endpoints, err := d.store.ListForEvent(ctx, event.TenantID, event.Type)
	if err != nil {
		return fmt.Errorf("webhooks: list endpoints: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhooks: marshal event: %w", err)
	}

	for _, ep := range endpoints {
		d.deliver(ctx, ep, event, payload)
	}
	return nil
}

// deliver posts the payload to one endpoint and records the outcome on
// the endpoint row.
func (d *Dispatcher) deliver(ctx context.Context, ep *Endpoint, event *Event, payload []byte) {
	err := d.breaker.Do(ep.ID, func() error {
		return retry.Do(ctx, d.maxAttempts, retryBaseDelay, func() error {
			return d.post(ctx, ep, event, payload)
		})
	})
	if err == nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
		now := time.Now()
		ep.LastSuccess = &now
		ep.LastError = ""
		ep.ConsecutiveFailures = 0
		if uerr := d.store.Update(ctx, ep); uerr != nil {
			d.logger.Warn("webhook endpoint update failed", "endpoint", ep.ID, "error", uerr)
		}
		return
	}

	if err == circuitbreaker.ErrOpen {
		metrics.WebhookDeliveriesTotal.WithLabelValues("shed").Inc()
		d.logger.Warn("webhook delivery shed, breaker open", "endpoint", ep.ID, "event", event.Type)
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
	ep.LastError = err.Error()
	ep.ConsecutiveFailures++
	if d.disableAfter > 0 && ep.ConsecutiveFailures >= d.disableAfter {
		ep.Active = false
		d.logger.Warn("webhook endpoint disabled after repeated failures",
			"endpoint", ep.ID, "tenant", ep.TenantID, "failures", ep.ConsecutiveFailures)
	}
	if uerr := d.store.Update(ctx, ep); uerr != nil {
		d.logger.Warn("webhook endpoint update failed", "endpoint", ep.ID, "error", uerr)
	}
	d.logger.Warn("webhook delivery failed",
		"endpoint", ep.ID, "event", event.Type, "error", err)
}

// post performs one signed HTTP delivery attempt. Non-2xx responses are
// retryable except 4xx, which will not change on retry.
func (d *Dispatcher) post(ctx context.Context, ep *Endpoint, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Textsmith-Event", string(event.Type))
	req.Header.Set("X-Textsmith-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	req.Header.Set("X-Textsmith-Signature", "sha256="+Sign(payload, ep.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("endpoint returned status %d", resp.StatusCode))
	default:
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
}

// Sign computes the hex HMAC-SHA256 of payload under secret. Receivers
// verify the X-Textsmith-Signature header with the same computation.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
