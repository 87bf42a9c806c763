package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// BillingHistoryItem is an immutable entry shown to the user on the billing
// panel. Only the most recent items are retained per account.
type BillingHistoryItem struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID   uuid.UUID               `gorm:"column:account_id;type:uuid;not null;index"`
	Amount      string                  `gorm:"column:amount;not null"`
	Description string                  `gorm:"column:description;not null"`
	Status      enums.BillingItemStatus `gorm:"column:status;type:billing_item_status_enum;not null;default:'paid'"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
}
