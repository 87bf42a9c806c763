package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent records a processed payment provider event. The unique
// constraint on EventID is the authoritative dedup for at-least-once
// delivery; the row is inserted in the same transaction that applies the
// event, so a failed apply rolls it back and redelivery can retry.
type WebhookEvent struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID    string    `gorm:"column:event_id;not null;uniqueIndex"`
	Type       string    `gorm:"column:type;not null"`
	ReceivedAt time.Time `gorm:"column:received_at;autoCreateTime"`
}
