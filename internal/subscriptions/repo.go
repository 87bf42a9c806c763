package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// Repository manages persistence for subscriptions and billing history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, subscription *models.Subscription) error
	FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	// FindByAccountIDForUpdate locks the subscription row. Must run inside
	// a transaction.
	FindByAccountIDForUpdate(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	Update(ctx context.Context, subscription *models.Subscription) error
	// ListDueCancellations returns subscriptions flagged to cancel whose
	// period has ended.
	ListDueCancellations(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	CreateBillingItem(ctx context.Context, item *models.BillingHistoryItem) error
	ListBillingItems(ctx context.Context, accountID uuid.UUID, limit int) ([]models.BillingHistoryItem, error)
	// TrimBillingHistory deletes all but the newest keep items for the
	// account.
	TrimBillingHistory(ctx context.Context, accountID uuid.UUID, keep int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&subscription).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) FindByAccountIDForUpdate(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	var subscription models.Subscription
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		First(&subscription).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var subscription models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&subscription).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repository) Update(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) ListDueCancellations(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subscriptions []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("cancel_at_period_end = ? AND status <> ? AND current_period_end <= ?",
			true, enums.SubscriptionStatusCancelled, now).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repository) CreateBillingItem(ctx context.Context, item *models.BillingHistoryItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repository) ListBillingItems(ctx context.Context, accountID uuid.UUID, limit int) ([]models.BillingHistoryItem, error) {
	if limit <= 0 {
		limit = 10
	}
	var items []models.BillingHistoryItem
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) TrimBillingHistory(ctx context.Context, accountID uuid.UUID, keep int) error {
	if keep <= 0 {
		keep = 10
	}
	newest := r.db.Model(&models.BillingHistoryItem{}).
		Select("id").
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(keep)
	return r.db.WithContext(ctx).
		Where("account_id = ? AND id NOT IN (?)", accountID, newest).
		Delete(&models.BillingHistoryItem{}).Error
}
