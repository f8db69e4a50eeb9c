package textops

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/textsmith/internal/billing"
	"github.com/mbd888/textsmith/internal/gate"
)

// UsageStatus handles GET /api/v1/usage_status. Authenticated but not
// metered: the call itself consumes no rate or quota and is not
// request-logged. The reporting period is the UTC calendar month,
// matching the monthly counter reset.
func (h *Handler) UsageStatus(c *gin.Context) {
	caller, ok := gate.GetCaller(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Caller not resolved",
		})
		return
	}
	principal, plan := caller.Principal, caller.Plan
	now := time.Now().UTC()

	rate, err := h.ledger.CheckRate(c.Request.Context(), principal.ID, plan, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Error reading usage counters",
		})
		return
	}

	var pct float64
	if plan.CharLimit > 0 {
		pct = math.Round(float64(principal.MonthlyCharsUsed)/float64(plan.CharLimit)*1000) / 10
	}

	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastOfMonth := firstOfMonth.AddDate(0, 1, -1)
	daysRemaining := lastOfMonth.Day() - now.Day()

	c.JSON(http.StatusOK, gin.H{
		"plan":                plan.Code,
		"plan_display_name":   planDisplayName(plan),
		"quota_used":          principal.MonthlyCharsUsed,
		"quota_limit":         plan.CharLimit,
		"quota_percentage":    pct,
		"period_start":        firstOfMonth.Format("2006-01-02"),
		"period_end":          lastOfMonth.Format("2006-01-02"),
		"days_remaining":      daysRemaining,
		"rate_limit_per_hour": plan.ReqPerHour,
		"requests_this_hour":  rate.Count,
		"features":            plan.Features(),
	})
}

func planDisplayName(p *billing.Plan) string {
	return fmt.Sprintf("%s ($%d.%02d/month)", p.Name, p.PriceCents/100, p.PriceCents%100)
}
