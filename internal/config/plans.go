package config

// PlanLimitConfig holds the quota ceilings applied by the entitlement
// engine. Free accounts get a per-calendar-day allowance; purchased plans
// carry either a subscription-cycle ceiling (all_count) or a fixed credit
// ceiling (limit_count), selected by the plan type the billing provider
// reports.
type PlanLimitConfig struct {
	FreeDailyLimit int

	// SubscriptionCounts maps a subscription plan type to its all_count.
	SubscriptionCounts map[string]int
	// CreditPackCounts maps a credit-pack plan type to its limit_count.
	CreditPackCounts map[string]int
}

func NewPlanLimitConfig() *PlanLimitConfig {
	return &PlanLimitConfig{
		FreeDailyLimit: 3,
		SubscriptionCounts: map[string]int{
			"professional": 200,
			"master":       2000,
		},
		CreditPackCounts: map[string]int{
			"small":  10,
			"medium": 25,
			"large":  60,
		},
	}
}
