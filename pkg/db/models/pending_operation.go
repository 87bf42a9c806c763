package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// PendingOperation is the durable record of a deduction awaiting its
// downstream action. It is created in the same transaction as the deduct and
// resolved on confirm or refund, so a crash between deduct and refund leaves
// an auditable pending row instead of silently lost credits.
type PendingOperation struct {
	ID         uuid.UUID                    `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID  uuid.UUID                    `gorm:"column:account_id;type:uuid;not null;index"`
	Operation  enums.CreditOperationType    `gorm:"column:operation;not null"`
	Cost       int                          `gorm:"column:cost;not null"`
	Status     enums.PendingOperationStatus `gorm:"column:status;type:pending_operation_status_enum;not null;default:'pending'"`
	ResolvedAt *time.Time                   `gorm:"column:resolved_at"`
	CreatedAt  time.Time                    `gorm:"column:created_at;autoCreateTime"`
}
