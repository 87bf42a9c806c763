package stripewebhook

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
)

// EventStore is the durable record of processed provider events. The unique
// constraint on event_id is the authoritative dedup; Record runs inside the
// transaction that applies the event.
type EventStore interface {
	WithTx(tx *gorm.DB) EventStore
	Record(ctx context.Context, event *models.WebhookEvent) error
	Seen(ctx context.Context, eventID string) (bool, error)
}

type eventStore struct {
	db *gorm.DB
}

// NewEventStore returns an event store bound to the provided database.
func NewEventStore(db *gorm.DB) EventStore {
	return &eventStore{db: db}
}

func (s *eventStore) WithTx(tx *gorm.DB) EventStore {
	if tx == nil {
		return s
	}
	return &eventStore{db: tx}
}

func (s *eventStore) Record(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *eventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
