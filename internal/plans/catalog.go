package plans

import (
	"github.com/shopspring/decimal"

	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// Details describes one subscription tier. The catalog is static
// configuration, not account state.
type Details struct {
	ID             enums.Plan
	Name           string
	MonthlyPrice   decimal.Decimal
	MonthlyCredits int
	Features       []string
}

var catalog = []Details{
	{
		ID:             enums.PlanFree,
		Name:           "Free Trial",
		MonthlyPrice:   decimal.Zero,
		MonthlyCredits: 10,
		Features:       []string{"1 Free Generation", "Standard Quality", "Public Access"},
	},
	{
		ID:             enums.PlanCreator,
		Name:           "Creator",
		MonthlyPrice:   decimal.NewFromInt(19),
		MonthlyCredits: 1000,
		Features:       []string{"~100 Thumbnails", "Prioritized Generation", "Commercial License", "Video Beta Access"},
	},
	{
		ID:             enums.PlanAgency,
		Name:           "Agency",
		MonthlyPrice:   decimal.NewFromInt(49),
		MonthlyCredits: 5000,
		Features:       []string{"~500 Thumbnails", "Highest Speed", "Dedicated Support", "Bulk Export"},
	},
}

// Catalog returns all plans ordered by priority.
func Catalog() []Details {
	out := make([]Details, len(catalog))
	copy(out, catalog)
	return out
}

// ByID looks up a plan's details.
func ByID(plan enums.Plan) (Details, bool) {
	for _, details := range catalog {
		if details.ID == plan {
			return details, true
		}
	}
	return Details{}, false
}
