package enums

import "fmt"

// PendingOperationStatus tracks a deduction awaiting confirmation or refund.
type PendingOperationStatus string

const (
	PendingOperationStatusPending   PendingOperationStatus = "pending"
	PendingOperationStatusConfirmed PendingOperationStatus = "confirmed"
	PendingOperationStatusRefunded  PendingOperationStatus = "refunded"
)

var validPendingOperationStatuses = []PendingOperationStatus{
	PendingOperationStatusPending,
	PendingOperationStatusConfirmed,
	PendingOperationStatusRefunded,
}

// IsValid reports whether the value is known.
func (s PendingOperationStatus) IsValid() bool {
	for _, candidate := range validPendingOperationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePendingOperationStatus converts raw input into a PendingOperationStatus.
func ParsePendingOperationStatus(value string) (PendingOperationStatus, error) {
	for _, candidate := range validPendingOperationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pending operation status %q", value)
}
