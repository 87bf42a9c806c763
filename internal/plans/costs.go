package plans

import (
	"fmt"

	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

var creditCosts = map[enums.CreditOperationType]int{
	enums.CreditOperationThumbnailStandard: 10,
	enums.CreditOperationThumbnailHigh:     15,
	enums.CreditOperationThumbnailUltra:    25,
	enums.CreditOperationVideo:             50,
	enums.CreditOperationAudit:             5,
	enums.CreditOperationMetadata:          5,
}

// CostOf returns the fixed credit cost of a billable operation.
func CostOf(operation enums.CreditOperationType) (int, error) {
	cost, ok := creditCosts[operation]
	if !ok {
		return 0, fmt.Errorf("no cost configured for operation %q", operation)
	}
	return cost, nil
}
