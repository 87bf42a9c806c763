package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// Account is the authoritative credit/entitlement record per user. The
// credits column is only mutated through the ledger service, which takes a
// row lock before every read-modify-write.
type Account struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Credits          int        `gorm:"column:credits;not null;default:0"`
	Plan             enums.Plan `gorm:"column:plan;type:plan_enum;not null;default:'free'"`
	TotalGenerations int        `gorm:"column:total_generations;not null;default:0"`
	Email            *string    `gorm:"column:email;uniqueIndex"`
	StripeCustomerID *string    `gorm:"column:stripe_customer_id;index"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
