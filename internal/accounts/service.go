package accounts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns account lifecycle: creation on first use and read access.
type Service interface {
	Create(ctx context.Context, email *string) (*models.Account, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// ServiceParams groups dependencies for the account service.
type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	StarterCredits    int
	RenewalInterval   time.Duration
}

type service struct {
	repo            Repository
	txRunner        txRunner
	starterCredits  int
	renewalInterval time.Duration
}

// NewService wires an account service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	starter := params.StarterCredits
	if starter < 0 {
		starter = 0
	}
	interval := params.RenewalInterval
	if interval <= 0 {
		interval = 30 * 24 * time.Hour
	}
	return &service{
		repo:            params.Repo,
		txRunner:        params.TransactionRunner,
		starterCredits:  starter,
		renewalInterval: interval,
	}, nil
}

// Create provisions a new account on the free plan with the starter balance,
// plus its trialing subscription row and the opening journal entry.
func (s *service) Create(ctx context.Context, email *string) (*models.Account, error) {
	if email != nil {
		trimmed := strings.TrimSpace(strings.ToLower(*email))
		if trimmed == "" {
			email = nil
		} else {
			email = &trimmed
		}
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:      uuid.New(),
		Credits: s.starterCredits,
		Plan:    enums.PlanFree,
		Email:   email,
	}

	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		if email != nil {
			existing, err := repo.FindByEmail(ctx, *email)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account by email")
			}
			if existing != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "account already exists for email")
			}
		}

		if err := repo.Create(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
		}

		subscription := &models.Subscription{
			ID:               uuid.New(),
			AccountID:        account.ID,
			Status:           enums.SubscriptionStatusTrialing,
			Plan:             enums.PlanFree,
			StartedAt:        now,
			CurrentPeriodEnd: now.Add(s.renewalInterval),
		}
		if err := tx.WithContext(ctx).Create(subscription).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription record")
		}

		if s.starterCredits > 0 {
			entry := &models.CreditEntry{
				ID:           uuid.New(),
				AccountID:    account.ID,
				Type:         enums.CreditEntryTypeGrant,
				Amount:       s.starterCredits,
				BalanceAfter: s.starterCredits,
				Reason:       "starter credits",
			}
			if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "journal starter grant")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Get loads the authoritative account record.
func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}
