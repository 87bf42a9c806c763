package enums

import "fmt"

// CreditEntryType classifies a row in the credit journal.
type CreditEntryType string

const (
	CreditEntryTypeDeduct   CreditEntryType = "deduct"
	CreditEntryTypeRefund   CreditEntryType = "refund"
	CreditEntryTypeGrant    CreditEntryType = "grant"
	CreditEntryTypePurchase CreditEntryType = "purchase"
)

var validCreditEntryTypes = []CreditEntryType{
	CreditEntryTypeDeduct,
	CreditEntryTypeRefund,
	CreditEntryTypeGrant,
	CreditEntryTypePurchase,
}

// IsValid reports whether the value is known.
func (t CreditEntryType) IsValid() bool {
	for _, candidate := range validCreditEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseCreditEntryType converts raw input into a CreditEntryType.
func ParseCreditEntryType(value string) (CreditEntryType, error) {
	for _, candidate := range validCreditEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit entry type %q", value)
}
