package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// Subscription persists subscription state per account. Exactly one row per
// account; plan changes mutate it in place.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID            uuid.UUID                `gorm:"column:account_id;type:uuid;not null;uniqueIndex"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'trialing'"`
	Plan                 enums.Plan               `gorm:"column:plan;type:plan_enum;not null;default:'free'"`
	StartedAt            time.Time                `gorm:"column:started_at;not null"`
	CurrentPeriodEnd     time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	StripeSubscriptionID *string                  `gorm:"column:stripe_subscription_id;index"`
	ProviderUpdatedAt    *time.Time               `gorm:"column:provider_updated_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
