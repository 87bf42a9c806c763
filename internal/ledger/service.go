package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thumbgen/thumbgen-backend/internal/accounts"
	"github.com/thumbgen/thumbgen-backend/internal/plans"
	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
	"github.com/thumbgen/thumbgen-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DeductResult reports a successful deduction along with the pending
// operation created to track it.
type DeductResult struct {
	Account            *models.Account
	PendingOperationID uuid.UUID
	Cost               int
}

// InsufficientCreditsDetails is attached to rejected deductions so callers
// can surface the shortfall.
type InsufficientCreditsDetails struct {
	Required  int `json:"required"`
	Available int `json:"available"`
}

// Service is the only writer of account credit balances. Every mutation runs
// inside a transaction holding a row lock on the account, so concurrent
// deductions against the same account serialize and the balance can never go
// negative.
type Service interface {
	Deduct(ctx context.Context, accountID uuid.UUID, operation enums.CreditOperationType) (*DeductResult, error)
	ConfirmPending(ctx context.Context, pendingID uuid.UUID) error
	Refund(ctx context.Context, pendingID uuid.UUID, reason string) (*models.Account, error)
	AddCredits(ctx context.Context, accountID uuid.UUID, amount int, entryType enums.CreditEntryType, reason string) (*models.Account, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditEntry, error)
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo              Repository
	Accounts          accounts.Repository
	TransactionRunner txRunner
	Metrics           *metrics.LedgerMetrics
	Logger            *logger.Logger
}

type service struct {
	repo     Repository
	accounts accounts.Repository
	txRunner txRunner
	metrics  *metrics.LedgerMetrics
	log      *logger.Logger
}

// NewService wires a ledger service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		repo:     params.Repo,
		accounts: params.Accounts,
		txRunner: params.TransactionRunner,
		metrics:  params.Metrics,
		log:      params.Logger,
	}, nil
}

// Deduct charges the fixed cost of the operation against the account. On
// success it increments the generation counter, journals the deduction and
// creates a pending operation row that a later confirm or refund resolves.
// A balance below the cost rejects the deduction without any mutation.
func (s *service) Deduct(ctx context.Context, accountID uuid.UUID, operation enums.CreditOperationType) (*DeductResult, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !operation.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown operation type")
	}
	cost, err := plans.CostOf(operation)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolve operation cost")
	}

	result := &DeductResult{Cost: cost}
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		accountRepo := s.accounts.WithTx(tx)
		account, err := accountRepo.FindByIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock account")
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		if account.Credits < cost {
			s.metrics.IncInsufficient(string(operation))
			return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "balance below operation cost").
				WithDetails(InsufficientCreditsDetails{Required: cost, Available: account.Credits})
		}

		account.Credits -= cost
		account.TotalGenerations++
		if err := accountRepo.Update(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist balance")
		}

		repo := s.repo.WithTx(tx)
		pending := &models.PendingOperation{
			ID:        uuid.New(),
			AccountID: account.ID,
			Operation: operation,
			Cost:      cost,
			Status:    enums.PendingOperationStatusPending,
		}
		if err := repo.CreatePendingOperation(ctx, pending); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pending operation")
		}

		op := operation
		entry := &models.CreditEntry{
			ID:           uuid.New(),
			AccountID:    account.ID,
			Type:         enums.CreditEntryTypeDeduct,
			Operation:    &op,
			Amount:       -cost,
			BalanceAfter: account.Credits,
			Reason:       string(operation),
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "journal deduction")
		}

		result.Account = account
		result.PendingOperationID = pending.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncDeduct(string(operation))
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"accountId": accountID.String(),
		"operation": string(operation),
		"cost":      cost,
		"balance":   result.Account.Credits,
	}), "credits deducted")
	return result, nil
}

// ConfirmPending marks a pending deduction as settled after its downstream
// action succeeded. Confirming an already resolved operation is rejected.
func (s *service) ConfirmPending(ctx context.Context, pendingID uuid.UUID) error {
	if pendingID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "pending operation id is required")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		pending, err := repo.FindPendingOperationForUpdate(ctx, pendingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock pending operation")
		}
		if pending == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "pending operation not found")
		}
		if pending.Status != enums.PendingOperationStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "pending operation already resolved").
				WithDetails(map[string]string{"status": string(pending.Status)})
		}
		now := time.Now().UTC()
		pending.Status = enums.PendingOperationStatusConfirmed
		pending.ResolvedAt = &now
		if err := repo.UpdatePendingOperation(ctx, pending); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist confirmation")
		}
		return nil
	})
}

// Refund returns the cost of a pending deduction to the account after its
// downstream action failed. The generation counter is decremented but never
// below zero, and resolving the same operation twice is rejected.
func (s *service) Refund(ctx context.Context, pendingID uuid.UUID, reason string) (*models.Account, error) {
	if pendingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pending operation id is required")
	}
	if reason == "" {
		reason = "refund"
	}

	var refunded *models.Account
	var operation enums.CreditOperationType
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		pending, err := repo.FindPendingOperationForUpdate(ctx, pendingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock pending operation")
		}
		if pending == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "pending operation not found")
		}
		if pending.Status != enums.PendingOperationStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "pending operation already resolved").
				WithDetails(map[string]string{"status": string(pending.Status)})
		}
		operation = pending.Operation

		accountRepo := s.accounts.WithTx(tx)
		account, err := accountRepo.FindByIDForUpdate(ctx, pending.AccountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock account")
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}

		account.Credits += pending.Cost
		if account.TotalGenerations > 0 {
			account.TotalGenerations--
		}
		if err := accountRepo.Update(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist balance")
		}

		op := pending.Operation
		entry := &models.CreditEntry{
			ID:           uuid.New(),
			AccountID:    account.ID,
			Type:         enums.CreditEntryTypeRefund,
			Operation:    &op,
			Amount:       pending.Cost,
			BalanceAfter: account.Credits,
			Reason:       reason,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "journal refund")
		}

		now := time.Now().UTC()
		pending.Status = enums.PendingOperationStatusRefunded
		pending.ResolvedAt = &now
		if err := repo.UpdatePendingOperation(ctx, pending); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refund")
		}

		refunded = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncRefund(string(operation))
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"accountId":          refunded.ID.String(),
		"pendingOperationId": pendingID.String(),
		"reason":             reason,
		"balance":            refunded.Credits,
	}), "credits refunded")
	return refunded, nil
}

// AddCredits applies an unconditional positive grant to the account, used by
// plan changes, renewals and purchases.
func (s *service) AddCredits(ctx context.Context, accountID uuid.UUID, amount int, entryType enums.CreditEntryType, reason string) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "grant amount must be positive")
	}
	if entryType != enums.CreditEntryTypeGrant && entryType != enums.CreditEntryTypePurchase {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry type must be grant or purchase")
	}
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "grant reason is required")
	}

	var granted *models.Account
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		accountRepo := s.accounts.WithTx(tx)
		account, err := accountRepo.FindByIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock account")
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}

		account.Credits += amount
		if err := accountRepo.Update(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist balance")
		}

		entry := &models.CreditEntry{
			ID:           uuid.New(),
			AccountID:    account.ID,
			Type:         entryType,
			Amount:       amount,
			BalanceAfter: account.Credits,
			Reason:       reason,
		}
		if err := s.repo.WithTx(tx).CreateEntry(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "journal grant")
		}

		granted = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncGrant(reason)
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"accountId": accountID.String(),
		"amount":    amount,
		"reason":    reason,
		"balance":   granted.Credits,
	}), "credits granted")
	return granted, nil
}

// GetBalance loads the authoritative account record.
func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}

// History returns the most recent journal entries for the account.
func (s *service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditEntry, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	entries, err := s.repo.ListEntries(ctx, accountID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit history")
	}
	return entries, nil
}
