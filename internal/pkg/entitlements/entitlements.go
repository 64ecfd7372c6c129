package entitlements

import "strings"

type Plan string

const (
	PlanStarter Plan = "starter"
	PlanGrowth  Plan = "growth"
	PlanScale   Plan = "scale"
)

// Limits describes what a plan entitles an account to per billing cycle.
type Limits struct {
	MinuteQuota    int64
	AssistantQuota int
}

// PlanLimits returns the cycle quotas for a plan.
func PlanLimits(plan Plan) Limits {
	switch plan {
	case PlanScale:
		return Limits{MinuteQuota: 10000, AssistantQuota: 25}
	case PlanGrowth:
		return Limits{MinuteQuota: 2000, AssistantQuota: 5}
	default:
		return Limits{MinuteQuota: 200, AssistantQuota: 1}
	}
}

// NormalizePlan maps arbitrary plan strings onto a known plan.
func NormalizePlan(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanGrowth):
		return PlanGrowth
	case string(PlanScale):
		return PlanScale
	default:
		return PlanStarter
	}
}

// PlanRank orders plans so the best entitling subscription wins.
func PlanRank(plan Plan) int {
	switch plan {
	case PlanScale:
		return 2
	case PlanGrowth:
		return 1
	default:
		return 0
	}
}

// IsEntitlingStatus reports whether a subscription status keeps paid
// entitlements active.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}
