package gate

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/mbd888/textsmith/internal/account"
	"github.com/mbd888/textsmith/internal/audit"
	"github.com/mbd888/textsmith/internal/auth"
	"github.com/mbd888/textsmith/internal/billing"
	"github.com/mbd888/textsmith/internal/ledger"
	"github.com/mbd888/textsmith/internal/metrics"
	"github.com/mbd888/textsmith/internal/traces"
)

// rejection describes a request the gate refuses, everything needed to
// write the response and the audit entry.
type rejection struct {
	status  int
	code    string // wire error code, doubles as the audit reject reason
	message string
	extra   gin.H  // additional body fields
	outcome string // audit.OutcomeRejected or audit.OutcomeError
	errText string
}

func rejected(status int, code, message string) *rejection {
	return &rejection{status: status, code: code, message: message, outcome: audit.OutcomeRejected}
}

func failed(code, message, errText string) *rejection {
	return &rejection{status: http.StatusInternalServerError, code: code, message: message, outcome: audit.OutcomeError, errText: errText}
}

// trip tracks one request's passage through the gate.
type trip struct {
	started time.Time
	span    trace.Span
	caller  *Caller
}

// Metered is the full pipeline: authenticate, validate and estimate,
// rate check, quota check, handler, usage commit. Mount one per metered
// route with that route's estimator.
func (g *Gate) Metered(estimate EstimateFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := &trip{started: time.Now()}
		ctx, span := traces.StartSpan(c.Request.Context(), "gate.metered", traces.Endpoint(pathOf(c)))
		t.span = span
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		caller, rej := g.authenticate(c)
		t.caller = caller
		if rej != nil {
			g.refuse(c, t, rej, 0)
			return
		}

		var estChars int64
		if estimate != nil {
			var err error
			estChars, err = estimate(c)
			if err != nil {
				g.refuse(c, t, validationRejection(err), 0)
				return
			}
		}

		now := time.Now()
		rate, err := g.ledger.CheckRate(ctx, caller.Principal.ID, caller.Plan, now)
		if err != nil {
			g.refuse(c, t, failed("internal_error", "Error checking rate limit", err.Error()), estChars)
			return
		}
		if !rate.Allowed {
			metrics.RateRejectionsTotal.WithLabelValues(string(caller.Plan.Code)).Inc()
			g.refuse(c, t, rateRejection(rate, caller.Plan), estChars)
			return
		}

		quota := g.ledger.CheckQuota(caller.Principal, caller.Plan, estChars)
		if !quota.Allowed {
			metrics.QuotaRejectionsTotal.WithLabelValues(string(caller.Plan.Code)).Inc()
			g.refuse(c, t, g.quotaRejection(quota, caller.Plan), estChars)
			return
		}

		c.Next()

		g.settle(c, t, estChars)
	}
}

// AuthOnly authenticates and resolves the caller without the metering
// pipeline. Key management and usage_status mount this; those calls are
// not rate limited, not quota checked, and not request-logged.
func (g *Gate) AuthOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, rej := g.authenticate(c); rej != nil {
			writeRejection(c, rej)
			return
		}
		c.Next()
	}
}

// authenticate runs the gate's first stage: parse the Authorization
// header, validate the credential, resolve principal, tenant, and plan,
// reject locked tenants, and register the session. The returned Caller
// is partially filled when a later step rejects, so audit entries keep
// whatever attribution exists.
func (g *Gate) authenticate(c *gin.Context) (*Caller, *rejection) {
	ctx := c.Request.Context()
	caller := &Caller{}

	header := c.GetHeader("Authorization")
	if header == "" {
		return caller, rejected(http.StatusUnauthorized, "missing_authorization",
			"Authorization header is required. Use format: Authorization: Bearer <API_KEY>")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return caller, rejected(http.StatusUnauthorized, "invalid_authorization_format",
			"Authorization must use Bearer token format: Authorization: Bearer <API_KEY>")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return caller, rejected(http.StatusUnauthorized, "empty_api_key", "API key cannot be empty")
	}

	cred, err := g.auth.ValidateKey(ctx, raw)
	if err != nil {
		return caller, rejected(http.StatusUnauthorized, "invalid_api_key",
			"Invalid or inactive API key. Check your keys at https://textsmith.dev/dashboard/api-keys")
	}
	caller.Credential = cred
	c.Set(auth.ContextKeyCredential, cred)

	principal, err := g.accounts.Store().GetPrincipal(ctx, cred.PrincipalID)
	if err != nil {
		if errors.Is(err, account.ErrPrincipalNotFound) {
			// Credential outlived its principal.
			return caller, rejected(http.StatusUnauthorized, "invalid_api_key",
				"Invalid or inactive API key. Check your keys at https://textsmith.dev/dashboard/api-keys")
		}
		return caller, failed("subscription_error", "Error retrieving subscription information", err.Error())
	}
	caller.Principal = principal

	tenant, err := g.accounts.ResolveTenant(ctx, principal.ID)
	if err != nil {
		return caller, failed("subscription_error", "Error retrieving subscription information", err.Error())
	}
	caller.Tenant = tenant

	// Inactive tenants fall back to FREE instead of their subscription.
	planTenantID := ""
	if tenant != nil && tenant.Active {
		planTenantID = tenant.ID
	}
	plan, err := g.billing.EffectivePlan(ctx, planTenantID, time.Now())
	if errors.Is(err, billing.ErrPlanNotFound) {
		return caller, rejected(http.StatusPaymentRequired, "no_active_subscription",
			"No active subscription found. Please subscribe at https://textsmith.dev/pricing")
	}
	if err != nil {
		return caller, failed("subscription_error", "Error retrieving subscription information", err.Error())
	}
	caller.Plan = plan

	if tenant != nil {
		state, err := g.guard.State(ctx, tenant.ID)
		if err != nil {
			return caller, failed("internal_error", "Error checking account status", err.Error())
		}
		if state.TempLocked {
			return caller, rejected(http.StatusForbidden, "account_locked",
				"This account is temporarily locked. Contact support at https://textsmith.dev/support")
		}
	}

	// Session tracking is advisory; a guard failure never blocks the call.
	sess, err := g.guard.Observe(ctx, principal.ID, caller.TenantID(), plan,
		c.ClientIP(), c.Request.UserAgent(), time.Now())
	if err != nil {
		g.logger.Error("session observe failed", "principal", principal.ID, "error", err)
	} else {
		caller.Session = sess
	}

	c.Set(ContextKeyCaller, caller)
	return caller, nil
}

// settle resolves the handler's outcome: commit and envelope on
// success, propagate on failure.
func (g *Gate) settle(c *gin.Context, t *trip, estChars int64) {
	if v, exists := c.Get(ctxKeyFailure); exists {
		f := v.(*failure)
		c.JSON(f.status, gin.H{"error": f.code, "message": f.message})
		outcome := audit.OutcomeRejected
		if f.status >= http.StatusInternalServerError {
			outcome = audit.OutcomeError
		}
		g.record(c, t, f.status, outcome, f.code, f.message, estChars)
		return
	}

	v, exists := c.Get(ctxKeyResult)
	if !exists {
		if c.Writer.Written() {
			// Handler bypassed the envelope. Nothing was committed.
			g.record(c, t, c.Writer.Status(), audit.OutcomeError, "handler_error",
				"handler wrote its own response", estChars)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "handler_error",
			"message": "Handler completed without a result",
		})
		g.record(c, t, http.StatusInternalServerError, audit.OutcomeError, "handler_error",
			"handler completed without a result", estChars)
		return
	}
	res := v.(*result)

	caller := t.caller
	if err := g.ledger.Commit(c.Request.Context(), caller.Principal.ID, res.chars, time.Now()); err != nil {
		g.logger.Error("usage commit failed",
			"principal", caller.Principal.ID,
			"chars", res.chars,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Error recording usage",
		})
		g.record(c, t, http.StatusInternalServerError, audit.OutcomeError, "internal_error",
			"usage commit failed: "+err.Error(), res.chars)
		return
	}

	body := gin.H{}
	for k, val := range res.fields {
		body[k] = val
	}
	body["character_count"] = res.chars
	body["quota_used"] = caller.Principal.MonthlyCharsUsed + res.chars
	body["quota_limit"] = caller.Plan.CharLimit
	body["plan"] = caller.Plan.Code
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	c.JSON(http.StatusOK, body)

	metrics.CharactersProcessedTotal.WithLabelValues(string(caller.Plan.Code)).Add(float64(res.chars))
	g.notifyMilestones(caller, res.chars)
	g.record(c, t, http.StatusOK, audit.OutcomeCommitted, "", "", res.chars)
}

// notifyMilestones reports quota threshold crossings caused by this
// commit. Crossing detection keys on the pre-commit counter, so each
// milestone fires once per billing period no matter how many requests
// follow it.
func (g *Gate) notifyMilestones(caller *Caller, chars int64) {
	if g.events == nil || caller.Plan.CharLimit <= 0 {
		return
	}
	before := caller.Principal.MonthlyCharsUsed
	after := before + chars
	limit := caller.Plan.CharLimit
	warnAt := limit * 8 / 10

	switch {
	case before < limit && after >= limit:
		g.events.QuotaExhausted(caller.TenantID(), caller.Principal.ID, after, limit, string(caller.Plan.Code))
	case before < warnAt && after >= warnAt:
		g.events.UsageWarning(caller.TenantID(), caller.Principal.ID, after, limit, string(caller.Plan.Code))
	}
}

// refuse writes a rejection and records it.
func (g *Gate) refuse(c *gin.Context, t *trip, rej *rejection, chars int64) {
	writeRejection(c, rej)
	g.record(c, t, rej.status, rej.outcome, rej.code, rej.errText, chars)
}

func writeRejection(c *gin.Context, rej *rejection) {
	body := gin.H{"error": rej.code, "message": rej.message}
	for k, v := range rej.extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(rej.status, body)
}

// record writes the audit entry, gate metrics, and span attributes for
// a terminal state.
func (g *Gate) record(c *gin.Context, t *trip, status int, outcome, reason, errText string, chars int64) {
	entry := &audit.Entry{
		Endpoint:     pathOf(c),
		Method:       c.Request.Method,
		StatusCode:   status,
		Outcome:      outcome,
		RejectReason: reason,
		CharCount:    chars,
		LatencyMS:    time.Since(t.started).Milliseconds(),
		Error:        errText,
	}
	if t.caller != nil && t.caller.Principal != nil {
		entry.PrincipalID = t.caller.Principal.ID
		entry.TenantID = t.caller.TenantID()
	}
	g.recorder.Record(c.Request.Context(), entry)

	reasonLabel := reason
	if reasonLabel == "" {
		reasonLabel = "none"
	}
	metrics.GateDecisionsTotal.WithLabelValues(outcome, reasonLabel).Inc()

	t.span.SetAttributes(traces.Outcome(outcome))
	if reason != "" {
		t.span.SetAttributes(traces.RejectReason(reason))
	}
	if t.caller != nil {
		if t.caller.Principal != nil {
			t.span.SetAttributes(traces.Principal(t.caller.Principal.ID))
		}
		if t.caller.Tenant != nil {
			t.span.SetAttributes(traces.Tenant(t.caller.Tenant.ID))
		}
		if t.caller.Plan != nil {
			t.span.SetAttributes(traces.Plan(string(t.caller.Plan.Code)))
		}
	}
}

func validationRejection(err error) *rejection {
	rej := rejected(http.StatusBadRequest, "validation_error", "Request validation failed")
	var verr *ValidationError
	if errors.As(err, &verr) {
		rej.extra = gin.H{"fields": verr.Fields}
	} else {
		rej.message = err.Error()
	}
	return rej
}

func rateRejection(rate ledger.RateDecision, plan *billing.Plan) *rejection {
	minutes := (rate.RetryAfter + 59) / 60
	rej := rejected(http.StatusTooManyRequests, "rate_limit_exceeded",
		fmt.Sprintf("Rate limit exceeded. You have %d requests/hour on the %s plan. Try again in %d minute(s).",
			plan.ReqPerHour, plan.Name, minutes))
	rej.extra = gin.H{
		"retry_after":        rate.RetryAfter,
		"requests_this_hour": rate.Count,
		"limit":              rate.Limit,
		"plan":               plan.Code,
	}
	return rej
}

func (g *Gate) quotaRejection(quota ledger.QuotaDecision, plan *billing.Plan) *rejection {
	rej := rejected(http.StatusPaymentRequired, "quota_exceeded",
		fmt.Sprintf("Monthly character limit reached. You have used %d/%d characters. Upgrade to a higher plan for more capacity.",
			quota.Used, quota.Limit))
	rej.extra = gin.H{
		"quota_used":  quota.Used,
		"quota_limit": quota.Limit,
		"plan":        plan.Code,
		"upgrade_url": g.upgradeURL,
	}
	return rej
}

// pathOf prefers the route template over the raw URL so audit entries
// and spans group by endpoint.
func pathOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}
