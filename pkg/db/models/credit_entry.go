package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// CreditEntry records an immutable balance mutation in the credit journal.
// Amount is the signed delta applied to the account; BalanceAfter snapshots
// the balance the mutation produced.
type CreditEntry struct {
	ID           uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID    uuid.UUID                  `gorm:"column:account_id;type:uuid;not null;index"`
	Type         enums.CreditEntryType      `gorm:"column:type;type:credit_entry_type_enum;not null"`
	Operation    *enums.CreditOperationType `gorm:"column:operation"`
	Amount       int                        `gorm:"column:amount;not null"`
	BalanceAfter int                        `gorm:"column:balance_after;not null"`
	Reason       string                     `gorm:"column:reason;not null"`
	CreatedAt    time.Time                  `gorm:"column:created_at;autoCreateTime"`
}
