package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// Repository manages persistence for the credit journal and the pending
// operation records that track in-flight deductions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateEntry(ctx context.Context, entry *models.CreditEntry) error
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditEntry, error)
	CreatePendingOperation(ctx context.Context, op *models.PendingOperation) error
	// FindPendingOperationForUpdate locks the pending row so concurrent
	// confirm/refund attempts serialize. Must run inside a transaction.
	FindPendingOperationForUpdate(ctx context.Context, id uuid.UUID) (*models.PendingOperation, error)
	UpdatePendingOperation(ctx context.Context, op *models.PendingOperation) error
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.PendingOperation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.CreditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.CreditEntry
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) CreatePendingOperation(ctx context.Context, op *models.PendingOperation) error {
	return r.db.WithContext(ctx).Create(op).Error
}

func (r *repository) FindPendingOperationForUpdate(ctx context.Context, id uuid.UUID) (*models.PendingOperation, error) {
	var op models.PendingOperation
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&op).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &op, nil
}

func (r *repository) UpdatePendingOperation(ctx context.Context, op *models.PendingOperation) error {
	return r.db.WithContext(ctx).Save(op).Error
}

func (r *repository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.PendingOperation, error) {
	var ops []models.PendingOperation
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PendingOperationStatusPending, cutoff).
		Order("created_at ASC").
		Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}
