package enums

import "fmt"

// Plan identifies a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanCreator Plan = "creator"
	PlanAgency  Plan = "agency"
)

var validPlans = []Plan{
	PlanFree,
	PlanCreator,
	PlanAgency,
}

// String implements fmt.Stringer.
func (p Plan) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p Plan) IsValid() bool {
	for _, candidate := range validPlans {
		if candidate == p {
			return true
		}
	}
	return false
}

// Priority orders plans for upgrade/downgrade comparison. A change to a plan
// with strictly higher priority is an upgrade.
func (p Plan) Priority() int {
	switch p {
	case PlanCreator:
		return 1
	case PlanAgency:
		return 2
	default:
		return 0
	}
}

// ParsePlan converts raw input into a Plan.
func ParsePlan(value string) (Plan, error) {
	for _, candidate := range validPlans {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan %q", value)
}
