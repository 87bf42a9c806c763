package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
)

// Pending operations older than this were orphaned by a crash between the
// deduct and its confirm/refund; any live generation has long finished.
const defaultStalePendingAge = time.Hour

type stalePendingReader interface {
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.PendingOperation, error)
}

type refunder interface {
	Refund(ctx context.Context, pendingID uuid.UUID, reason string) (*models.Account, error)
}

// PendingRefundJobParams configure the orphaned deduction sweep.
type PendingRefundJobParams struct {
	Logger *logger.Logger
	Reader stalePendingReader
	Ledger refunder
	MaxAge time.Duration
}

// NewPendingRefundJob builds the job that refunds deductions left unresolved
// by a crash.
func NewPendingRefundJob(params PendingRefundJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("pending operation reader required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultStalePendingAge
	}
	return &pendingRefundJob{
		logg:   params.Logger,
		reader: params.Reader,
		ledger: params.Ledger,
		maxAge: maxAge,
		now:    time.Now,
	}, nil
}

type pendingRefundJob struct {
	logg   *logger.Logger
	reader stalePendingReader
	ledger refunder
	maxAge time.Duration
	now    func() time.Time
}

func (j *pendingRefundJob) Name() string { return "pending-refund" }

func (j *pendingRefundJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	stale, err := j.reader.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale pending operations: %w", err)
	}

	var errs error
	refunded := 0
	for _, op := range stale {
		if _, err := j.ledger.Refund(ctx, op.ID, "stale pending operation"); err != nil {
			// Resolved between listing and refund; nothing to do.
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("pending %s: %w", op.ID, err))
			continue
		}
		refunded++
	}
	if refunded > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", refunded), "refunded stale pending operations")
	}
	return errs
}
