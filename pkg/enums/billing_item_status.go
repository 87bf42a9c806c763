package enums

import "fmt"

// BillingItemStatus reflects the settlement state of a billing history item.
type BillingItemStatus string

const (
	BillingItemStatusPaid    BillingItemStatus = "paid"
	BillingItemStatusPending BillingItemStatus = "pending"
	BillingItemStatusFailed  BillingItemStatus = "failed"
)

var validBillingItemStatuses = []BillingItemStatus{
	BillingItemStatusPaid,
	BillingItemStatusPending,
	BillingItemStatusFailed,
}

// IsValid reports whether the value is known.
func (s BillingItemStatus) IsValid() bool {
	for _, candidate := range validBillingItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseBillingItemStatus converts raw input into a BillingItemStatus.
func ParseBillingItemStatus(value string) (BillingItemStatus, error) {
	for _, candidate := range validBillingItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing item status %q", value)
}
