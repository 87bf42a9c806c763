package enums

import "fmt"

// CreditOperationType enumerates the billable actions a client can request.
type CreditOperationType string

const (
	CreditOperationThumbnailStandard CreditOperationType = "thumbnail_standard"
	CreditOperationThumbnailHigh     CreditOperationType = "thumbnail_high"
	CreditOperationThumbnailUltra    CreditOperationType = "thumbnail_ultra"
	CreditOperationVideo             CreditOperationType = "video"
	CreditOperationAudit             CreditOperationType = "audit"
	CreditOperationMetadata          CreditOperationType = "metadata"
)

var validCreditOperationTypes = []CreditOperationType{
	CreditOperationThumbnailStandard,
	CreditOperationThumbnailHigh,
	CreditOperationThumbnailUltra,
	CreditOperationVideo,
	CreditOperationAudit,
	CreditOperationMetadata,
}

// String implements fmt.Stringer.
func (t CreditOperationType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t CreditOperationType) IsValid() bool {
	for _, candidate := range validCreditOperationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCreditOperationType converts raw input into a CreditOperationType.
func ParseCreditOperationType(value string) (CreditOperationType, error) {
	for _, candidate := range validCreditOperationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit operation type %q", value)
}
