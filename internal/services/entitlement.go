package services

import (
	"fmt"
	"strings"
	"time"

	"kurate-api/internal/config"
	"kurate-api/internal/models"
)

type DecisionKind string

const (
	DecisionCreateAndAllow     DecisionKind = "create_and_allow"
	DecisionAllowWithIncrement DecisionKind = "allow_with_increment"
	DecisionAllowWithReset     DecisionKind = "allow_with_reset"
	DecisionDeny               DecisionKind = "deny"
)

// Decision is the outcome of evaluating one metered request against an
// account. NewUsedCount is the counter value to persist for allow outcomes;
// Reason carries the user-facing message for denials.
type Decision struct {
	Kind         DecisionKind
	NewUsedCount int
	Reason       string
}

func (d Decision) Allowed() bool {
	return d.Kind != DecisionDeny
}

// Evaluate decides whether a metered request is permitted and how the
// counter must change. It is pure: the caller supplies the account state
// (nil when no record exists) and the current time.
func Evaluate(account *models.Account, anonymous bool, now time.Time, limits *config.PlanLimitConfig) Decision {
	if account == nil {
		return Decision{Kind: DecisionCreateAndAllow, NewUsedCount: 1}
	}

	switch models.SubscriptionStatus(account.SubscriptionStatus) {
	case models.StatusFree:
		if !sameCalendarDay(account.UpdatedAt, now) {
			// The daily cap resets on calendar-day rollover; a stale counter restarts.
			return Decision{Kind: DecisionAllowWithReset, NewUsedCount: 1}
		}
		if account.UsedCount >= limits.FreeDailyLimit {
			return Decision{Kind: DecisionDeny, Reason: freeLimitMessage(anonymous, limits.FreeDailyLimit)}
		}
		return Decision{Kind: DecisionAllowWithIncrement, NewUsedCount: account.UsedCount + 1}

	case models.StatusActive, models.StatusOnTrial, models.StatusPaid:
		if ceilingExhausted(account) {
			return Decision{Kind: DecisionDeny, Reason: "You have reached your limit"}
		}
		return Decision{Kind: DecisionAllowWithIncrement, NewUsedCount: account.UsedCount + 1}

	default:
		// Unrecognized plan states (cancelled, provider-specific statuses)
		// admit unmetered rather than blocking a paid-seeming user while
		// billing support sorts the account out.
		return Decision{Kind: DecisionAllowWithIncrement, NewUsedCount: account.UsedCount + 1}
	}
}

func freeLimitMessage(anonymous bool, limit int) string {
	if anonymous {
		return fmt.Sprintf("You have reached your daily free usage limit of %d images. Please try again tomorrow or sign up for an account to get more benefits.", limit)
	}
	return fmt.Sprintf("You have reached your daily free usage limit of %d images. Please try again tomorrow or upgrade to a paid plan.", limit)
}

// sameCalendarDay compares dates in b's location; the store may hand back
// timestamps in a different zone than the clock the caller supplies.
func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierFree      Tier = "free"
	TierPremium   Tier = "premium"
)

// Entitlement is the resolved {tier, watermark} state for a caller at a
// point in time.
type Entitlement struct {
	Tier               Tier
	RequiresWatermark  bool
	SubscriptionStatus string
}

// AnonymousEntitlement is the entitlement for callers with no verifiable
// identity.
func AnonymousEntitlement() Entitlement {
	return Entitlement{Tier: TierAnonymous, RequiresWatermark: true}
}

// ResolveEntitlement is the single canonical tier/watermark rule, shared by
// the admission path and the status query so the two cannot drift. A nil
// account means a verified identity with no stored record.
func ResolveEntitlement(account *models.Account, now time.Time) Entitlement {
	if account == nil {
		return Entitlement{Tier: TierFree, RequiresWatermark: true, SubscriptionStatus: string(models.StatusFree)}
	}

	// An exhausted purchase demotes the caller regardless of nominal status.
	if ceilingExhausted(account) {
		return Entitlement{Tier: TierFree, RequiresWatermark: true, SubscriptionStatus: string(models.StatusFree)}
	}

	if models.SubscriptionStatus(account.SubscriptionStatus).Premium() {
		return Entitlement{Tier: TierPremium, RequiresWatermark: false, SubscriptionStatus: account.SubscriptionStatus}
	}
	return Entitlement{Tier: TierFree, RequiresWatermark: true, SubscriptionStatus: account.SubscriptionStatus}
}

// ceilingExhausted reports whether the account's purchased allowance is
// spent. The product selects the authoritative ceiling: credit packs carry
// limit_count, subscriptions all_count. Shared by the admission path and
// the status query so the two cannot disagree on which column counts.
func ceilingExhausted(account *models.Account) bool {
	if isCreditPackProduct(account.ProductName) {
		return account.UsedCount >= account.CreditCeiling()
	}
	return account.UsedCount >= account.CycleCeiling()
}

func isCreditPackProduct(productName string) bool {
	return strings.Contains(strings.ToLower(productName), "credit")
}
