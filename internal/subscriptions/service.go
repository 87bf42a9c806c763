package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/thumbgen/thumbgen-backend/internal/accounts"
	"github.com/thumbgen/thumbgen-backend/internal/ledger"
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

// boundTxRunner reuses an already open transaction instead of starting a
// new one.
type boundTxRunner struct {
	tx *gorm.DB
}

func (r boundTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(r.tx)
}

// Overview bundles a subscription with its recent billing history.
type Overview struct {
	Subscription   *models.Subscription
	BillingHistory []models.BillingHistoryItem
}

// ProviderSync carries the subscription state reported by the billing
// provider. OccurredAt orders updates so a stale redelivery never overwrites
// newer state.
type ProviderSync struct {
	AccountID            uuid.UUID
	Status               enums.SubscriptionStatus
	CancelAtPeriodEnd    bool
	CurrentPeriodEnd     time.Time
	StripeSubscriptionID *string
	OccurredAt           time.Time
}

// Service drives subscription state transitions. Client-facing operations
// (ChangePlan, Cancel, Reactivate) and reconciler-only transitions
// (MarkPastDue, MarkCancelled, Renew, SyncProviderState) all run inside a
// transaction with the subscription row locked.
type Service interface {
	// WithTx returns a view of the service whose transitions join the
	// provided transaction instead of opening their own.
	WithTx(tx *gorm.DB) Service
	Get(ctx context.Context, accountID uuid.UUID) (*Overview, error)
	ChangePlan(ctx context.Context, accountID uuid.UUID, target enums.Plan) (*models.Subscription, error)
	Cancel(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	Reactivate(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error)
	MarkPastDue(ctx context.Context, accountID uuid.UUID, occurredAt time.Time) error
	MarkCancelled(ctx context.Context, accountID uuid.UUID, occurredAt time.Time) error
	Renew(ctx context.Context, accountID uuid.UUID) error
	SyncProviderState(ctx context.Context, sync ProviderSync) error
	ExpireDueCancellations(ctx context.Context, now time.Time, limit int) (int, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              Repository
	Accounts          accounts.Repository
	Journal           ledger.Repository
	TransactionRunner txRunner
	Metrics           *metrics.LedgerMetrics
	Logger            *logger.Logger
	BillingHistoryCap int
	RenewalInterval   time.Duration
}

type service struct {
	repo            Repository
	accounts        accounts.Repository
	journal         ledger.Repository
	txRunner        txRunner
	metrics         *metrics.LedgerMetrics
	log             *logger.Logger
	historyCap      int
	renewalInterval time.Duration
}

// NewService wires a subscription service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account repo required")
	}
	if params.Journal == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	historyCap := params.BillingHistoryCap
	if historyCap <= 0 {
		historyCap = 10
	}
	interval := params.RenewalInterval
	if interval <= 0 {
		interval = 30 * 24 * time.Hour
	}
	return &service{
		repo:            params.Repo,
		accounts:        params.Accounts,
		journal:         params.Journal,
		txRunner:        params.TransactionRunner,
		metrics:         params.Metrics,
		log:             params.Logger,
		historyCap:      historyCap,
		renewalInterval: interval,
	}, nil
}

// WithTx rebinds the service to the caller's transaction. The webhook
// reconciler uses this so the durable event record and the transition it
// triggers commit or roll back together.
func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	bound := *s
	bound.txRunner = boundTxRunner{tx: tx}
	return &bound
}

// Get loads the subscription and recent billing history for the account.
func (s *service) Get(ctx context.Context, accountID uuid.UUID) (*Overview, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	subscription, err := s.repo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if subscription == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	history, err := s.repo.ListBillingItems(ctx, accountID, s.historyCap)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing history")
	}
	return &Overview{Subscription: subscription, BillingHistory: history}, nil
}

// ChangePlan moves the account to the target tier. An upgrade takes effect
// immediately and grants the target plan's monthly credits; a downgrade only
// records the new plan and leaves the balance alone until the next renewal.
// Changing to the current tier is rejected.
func (s *service) ChangePlan(ctx context.Context, accountID uuid.UUID, target enums.Plan) (*models.Subscription, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown plan")
	}
	details, ok := plans.ByID(target)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown plan")
	}

	var updated *models.Subscription
	var upgraded bool
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription, err := repo.FindByAccountIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock subscription")
		}
		if subscription == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if target.Priority() == subscription.Plan.Priority() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "already on the requested tier").
				WithDetails(map[string]string{"plan": subscription.Plan.String()})
		}

		accountRepo := s.accounts.WithTx(tx)
		account, err := accountRepo.FindByIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock account")
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}

		now := time.Now().UTC()
		upgraded = target.Priority() > subscription.Plan.Priority()
		subscription.Plan = target
		account.Plan = target

		var description string
		if upgraded {
			subscription.Status = enums.SubscriptionStatusActive
			if target == enums.PlanFree {
				subscription.Status = enums.SubscriptionStatusTrialing
			}
			subscription.CancelAtPeriodEnd = false
			subscription.CurrentPeriodEnd = now.Add(s.renewalInterval)

			account.Credits += details.MonthlyCredits
			entry := &models.CreditEntry{
				ID:           uuid.New(),
				AccountID:    account.ID,
				Type:         enums.CreditEntryTypeGrant,
				Amount:       details.MonthlyCredits,
				BalanceAfter: account.Credits,
				Reason:       "upgrade to " + details.Name,
			}
			if err := s.journal.WithTx(tx).CreateEntry(ctx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "journal upgrade grant")
			}
			description = "Upgrade to " + details.Name
		} else {
			// A downgrade starts a fresh billing period too; only the
			// credit grant waits for the next renewal.
			subscription.CancelAtPeriodEnd = false
			subscription.CurrentPeriodEnd = now.Add(s.renewalInterval)
			description = "Downgrade to " + details.Name
		}

		if err := repo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
		}
		if err := accountRepo.Update(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist account")
		}
		if err := s.appendBillingItem(ctx, repo, accountID, models.BillingHistoryItem{
			AccountID:   accountID,
			Amount:      "$" + details.MonthlyPrice.StringFixed(2),
			Description: description,
			Status:      enums.BillingItemStatusPaid,
		}); err != nil {
			return err
		}

		updated = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	if upgraded {
		s.metrics.IncGrant("plan upgrade")
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"accountId": accountID.String(),
		"plan":      target.String(),
		"upgrade":   upgraded,
	}), "plan changed")
	return updated, nil
}

// Cancel flags the subscription to end at the close of the current period.
// Access continues until then.
func (s *service) Cancel(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	var updated *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription, err := repo.FindByAccountIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock subscription")
		}
		if subscription == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if subscription.Status == enums.SubscriptionStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already cancelled")
		}
		subscription.CancelAtPeriodEnd = true
		if err := repo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
		}
		updated = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(s.log.WithAccountID(ctx, accountID.String()), "subscription cancelled at period end")
	return updated, nil
}

// Reactivate clears a pending cancellation. Once the period has ended the
// subscription is gone and the caller must subscribe again.
func (s *service) Reactivate(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	var updated *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription, err := repo.FindByAccountIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock subscription")
		}
		if subscription == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if !subscription.CancelAtPeriodEnd {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is not scheduled for cancellation")
		}
		now := time.Now().UTC()
		if subscription.Status == enums.SubscriptionStatusCancelled || !subscription.CurrentPeriodEnd.After(now) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "billing period already ended")
		}
		subscription.CancelAtPeriodEnd = false
		if err := repo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
		}
		updated = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(s.log.WithAccountID(ctx, accountID.String()), "subscription reactivated")
	return updated, nil
}

// MarkPastDue records a failed payment reported by the provider. Stale
// events, ordered by occurredAt, are ignored.
func (s *service) MarkPastDue(ctx context.Context, accountID uuid.UUID, occurredAt time.Time) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription, err := repo.FindByAccountIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock subscription")
		}
		if subscription == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if stale(subscription, occurredAt) {
			return nil
		}
		subscription.Status = enums.SubscriptionStatusPastDue
		subscription.ProviderUpdatedAt = &occurredAt
		if err := repo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
		}

		details, _ := plans.ByID(subscription.Plan)
		return s.appendBillingItem(ctx, repo, accountID, models.BillingHistoryItem{
			AccountID:   accountID,
			Amount:      "$" + details.MonthlyPrice.StringFixed(2),
			Description: "Payment failed",
			Status:      enums.BillingItemStatusFailed,
		})
	})
}

// MarkCancelled ends the subscription now, reverting the plan to free. The
// remaining credit balance is preserved.
func (s *service) MarkCancelled(ctx context.Context, accountID uuid.UUID, occurredAt time.Time) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription, err := repo.FindByAccountIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock subscription")
		}
		if subscription == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if stale(subscription, occurredAt) {
			return nil
		}

		accountRepo := s.accounts.WithTx(tx)
		account, err := accountRepo.FindByIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock account")
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}

		subscription.Status = enums.SubscriptionStatusCancelled
		subscription.Plan = enums.PlanFree
		subscription.ProviderUpdatedAt = &occurredAt
		account.Plan = enums.PlanFree

		if err := repo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
		}
		if err := accountRepo.Update(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist account")
		}
		return nil
	})
}

// Renew applies a successful renewal invoice: the current plan's monthly
// credits are granted and the period advances.
func (s *service) Renew(ctx context.Context, accountID uuid.UUID) error {
	if accountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	var planName string
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription, err := repo.FindByAccountIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock subscription")
		}
		if subscription == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		details, ok := plans.ByID(subscription.Plan)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInternal, "subscription carries unknown plan")
		}
		planName = details.Name

		accountRepo := s.accounts.WithTx(tx)
		account, err := accountRepo.FindByIDForUpdate(ctx, accountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock account")
		}
		if account == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}

		now := time.Now().UTC()
		subscription.Status = enums.SubscriptionStatusActive
		subscription.CurrentPeriodEnd = now.Add(s.renewalInterval)
		account.Credits += details.MonthlyCredits

		entry := &models.CreditEntry{
			ID:           uuid.New(),
			AccountID:    account.ID,
			Type:         enums.CreditEntryTypeGrant,
			Amount:       details.MonthlyCredits,
			BalanceAfter: account.Credits,
			Reason:       "plan renewal",
		}
		if err := s.journal.WithTx(tx).CreateEntry(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "journal renewal grant")
		}
		if err := repo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
		}
		if err := accountRepo.Update(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist account")
		}
		return s.appendBillingItem(ctx, repo, accountID, models.BillingHistoryItem{
			AccountID:   accountID,
			Amount:      "$" + details.MonthlyPrice.StringFixed(2),
			Description: fmt.Sprintf("%s Plan - Monthly", details.Name),
			Status:      enums.BillingItemStatusPaid,
		})
	})
	if err != nil {
		return err
	}
	s.metrics.IncGrant("plan renewal")
	s.log.Info(s.log.WithFields(ctx, map[string]any{
		"accountId": accountID.String(),
		"plan":      planName,
	}), "subscription renewed")
	return nil
}

// SyncProviderState copies provider-reported status, cancel flag and period
// end onto the local record, last write wins by event timestamp.
func (s *service) SyncProviderState(ctx context.Context, sync ProviderSync) error {
	if sync.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !sync.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown subscription status")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subscription, err := repo.FindByAccountIDForUpdate(ctx, sync.AccountID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock subscription")
		}
		if subscription == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if stale(subscription, sync.OccurredAt) {
			return nil
		}
		subscription.Status = sync.Status
		subscription.CancelAtPeriodEnd = sync.CancelAtPeriodEnd
		if !sync.CurrentPeriodEnd.IsZero() {
			subscription.CurrentPeriodEnd = sync.CurrentPeriodEnd
		}
		if sync.StripeSubscriptionID != nil {
			subscription.StripeSubscriptionID = sync.StripeSubscriptionID
		}
		occurredAt := sync.OccurredAt
		subscription.ProviderUpdatedAt = &occurredAt
		if err := repo.Update(ctx, subscription); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
		}
		return nil
	})
}

// ExpireDueCancellations sweeps subscriptions whose cancel-at-period-end
// deadline has passed and finalizes them. It keeps going past individual
// failures and reports them together.
func (s *service) ExpireDueCancellations(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repo.ListDueCancellations(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due cancellations")
	}

	var expired int
	var errs error
	for _, subscription := range due {
		if err := s.MarkCancelled(ctx, subscription.AccountID, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("account %s: %w", subscription.AccountID, err))
			continue
		}
		expired++
	}
	if expired > 0 {
		s.log.Info(s.log.WithField(ctx, "expired", expired), "finalized due cancellations")
	}
	return expired, errs
}

func (s *service) appendBillingItem(ctx context.Context, repo Repository, accountID uuid.UUID, item models.BillingHistoryItem) error {
	item.ID = uuid.New()
	if err := repo.CreateBillingItem(ctx, &item); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append billing history")
	}
	if err := repo.TrimBillingHistory(ctx, accountID, s.historyCap); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "trim billing history")
	}
	return nil
}

func stale(subscription *models.Subscription, occurredAt time.Time) bool {
	return subscription.ProviderUpdatedAt != nil && !occurredAt.After(*subscription.ProviderUpdatedAt)
}
