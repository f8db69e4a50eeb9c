package billing

// DefaultCatalog returns the built-in plan reference data. It seeds new
// stores; administrative updates may later diverge from these values.
func DefaultCatalog() []*Plan {
	return []*Plan{
		{
			Code:                  PlanFree,
			Name:                  "Free",
			PriceCents:            0,
			CharLimit:             10_000,
			ReqPerHour:            10,
			MaxSeats:              1,
			MaxConcurrentSessions: 2,
		},
		{
			Code:                  PlanPlus,
			Name:                  "Plus",
			PriceCents:            999,
			CharLimit:             100_000,
			ReqPerHour:            100,
			MaxSeats:              1,
			MaxConcurrentSessions: 2,
		},
		{
			Code:                  PlanPro,
			Name:                  "Pro",
			PriceCents:            2999,
			CharLimit:             1_000_000,
			ReqPerHour:            1000,
			MaxSeats:              5,
			MaxConcurrentSessions: 8,
			TeamMembers:           true,
			PrioritySupport:       true,
		},
		{
			Code:                  PlanEnterprise,
			Name:                  "Enterprise",
			PriceCents:            9999,
			CharLimit:             10_000_000,
			ReqPerHour:            10_000,
			MaxSeats:              20,
			MaxConcurrentSessions: 40,
			TeamMembers:           true,
			PrioritySupport:       true,
			SLA:                   true,
		},
	}
}

// ValidPlanCode returns true if the code names a catalog tier.
func ValidPlanCode(code PlanCode) bool {
	switch code {
	case PlanFree, PlanPlus, PlanPro, PlanEnterprise:
		return true
	default:
		return false
	}
}
