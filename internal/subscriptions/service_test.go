package subscriptions

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thumbgen/thumbgen-backend/internal/accounts"
	"github.com/thumbgen/thumbgen-backend/internal/ledger"
	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
)

type fakeSubscriptionRepo struct {
	subscriptions map[uuid.UUID]*models.Subscription
	billing       []models.BillingHistoryItem
}

func newFakeSubscriptionRepo(seed ...*models.Subscription) *fakeSubscriptionRepo {
	repo := &fakeSubscriptionRepo{subscriptions: map[uuid.UUID]*models.Subscription{}}
	for _, subscription := range seed {
		copied := *subscription
		repo.subscriptions[subscription.AccountID] = &copied
	}
	return repo
}

func (f *fakeSubscriptionRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeSubscriptionRepo) Create(ctx context.Context, subscription *models.Subscription) error {
	copied := *subscription
	f.subscriptions[subscription.AccountID] = &copied
	return nil
}

func (f *fakeSubscriptionRepo) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	subscription, ok := f.subscriptions[accountID]
	if !ok {
		return nil, nil
	}
	copied := *subscription
	return &copied, nil
}

func (f *fakeSubscriptionRepo) FindByAccountIDForUpdate(ctx context.Context, accountID uuid.UUID) (*models.Subscription, error) {
	return f.FindByAccountID(ctx, accountID)
}

func (f *fakeSubscriptionRepo) FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	for _, subscription := range f.subscriptions {
		if subscription.StripeSubscriptionID != nil && *subscription.StripeSubscriptionID == stripeSubscriptionID {
			copied := *subscription
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeSubscriptionRepo) Update(ctx context.Context, subscription *models.Subscription) error {
	copied := *subscription
	f.subscriptions[subscription.AccountID] = &copied
	return nil
}

func (f *fakeSubscriptionRepo) ListDueCancellations(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var due []models.Subscription
	for _, subscription := range f.subscriptions {
		if subscription.CancelAtPeriodEnd &&
			subscription.Status != enums.SubscriptionStatusCancelled &&
			!subscription.CurrentPeriodEnd.After(now) {
			due = append(due, *subscription)
		}
	}
	return due, nil
}

func (f *fakeSubscriptionRepo) CreateBillingItem(ctx context.Context, item *models.BillingHistoryItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	f.billing = append(f.billing, *item)
	return nil
}

func (f *fakeSubscriptionRepo) ListBillingItems(ctx context.Context, accountID uuid.UUID, limit int) ([]models.BillingHistoryItem, error) {
	var items []models.BillingHistoryItem
	for i := len(f.billing) - 1; i >= 0; i-- {
		if f.billing[i].AccountID == accountID {
			items = append(items, f.billing[i])
		}
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func (f *fakeSubscriptionRepo) TrimBillingHistory(ctx context.Context, accountID uuid.UUID, keep int) error {
	var kept []models.BillingHistoryItem
	count := 0
	for i := len(f.billing) - 1; i >= 0; i-- {
		item := f.billing[i]
		if item.AccountID == accountID {
			if count >= keep {
				continue
			}
			count++
		}
		kept = append([]models.BillingHistoryItem{item}, kept...)
	}
	f.billing = kept
	return nil
}

type fakeAccountRepo struct {
	accounts map[uuid.UUID]*models.Account
}

func newFakeAccountRepo(seed ...*models.Account) *fakeAccountRepo {
	repo := &fakeAccountRepo{accounts: map[uuid.UUID]*models.Account{}}
	for _, account := range seed {
		copied := *account
		repo.accounts[account.ID] = &copied
	}
	return repo
}

func (f *fakeAccountRepo) WithTx(tx *gorm.DB) accounts.Repository { return f }

func (f *fakeAccountRepo) Create(ctx context.Context, account *models.Account) error {
	copied := *account
	f.accounts[account.ID] = &copied
	return nil
}

func (f *fakeAccountRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	account, ok := f.accounts[id]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (f *fakeAccountRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeAccountRepo) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return nil, nil
}

func (f *fakeAccountRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	return nil, nil
}

func (f *fakeAccountRepo) Update(ctx context.Context, account *models.Account) error {
	copied := *account
	f.accounts[account.ID] = &copied
	return nil
}

type fakeJournal struct {
	entries []models.CreditEntry
}

func (f *fakeJournal) WithTx(tx *gorm.DB) ledger.Repository { return f }

func (f *fakeJournal) CreateEntry(ctx context.Context, entry *models.CreditEntry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeJournal) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditEntry, error) {
	return nil, nil
}

func (f *fakeJournal) CreatePendingOperation(ctx context.Context, op *models.PendingOperation) error {
	return nil
}

func (f *fakeJournal) FindPendingOperation(ctx context.Context, id uuid.UUID) (*models.PendingOperation, error) {
	return nil, nil
}

func (f *fakeJournal) FindPendingOperationForUpdate(ctx context.Context, id uuid.UUID) (*models.PendingOperation, error) {
	return nil, nil
}

func (f *fakeJournal) UpdatePendingOperation(ctx context.Context, op *models.PendingOperation) error {
	return nil
}

func (f *fakeJournal) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.PendingOperation, error) {
	return nil, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fixture struct {
	svc      Service
	repo     *fakeSubscriptionRepo
	accounts *fakeAccountRepo
	journal  *fakeJournal
}

func newFixture(t *testing.T, account *models.Account, subscription *models.Subscription) *fixture {
	t.Helper()
	repo := newFakeSubscriptionRepo()
	if subscription != nil {
		repo = newFakeSubscriptionRepo(subscription)
	}
	accountRepo := newFakeAccountRepo()
	if account != nil {
		accountRepo = newFakeAccountRepo(account)
	}
	journal := &fakeJournal{}
	svc, err := NewService(ServiceParams{
		Repo:              repo,
		Accounts:          accountRepo,
		Journal:           journal,
		TransactionRunner: stubTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{svc: svc, repo: repo, accounts: accountRepo, journal: journal}
}

func activeSubscription(accountID uuid.UUID, plan enums.Plan) *models.Subscription {
	now := time.Now().UTC()
	return &models.Subscription{
		ID:               uuid.New(),
		AccountID:        accountID,
		Status:           enums.SubscriptionStatusActive,
		Plan:             plan,
		StartedAt:        now.Add(-time.Hour),
		CurrentPeriodEnd: now.Add(29 * 24 * time.Hour),
	}
}

func TestChangePlanUpgradeGrantsCreditsImmediately(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 4, Plan: enums.PlanFree}
	sub := activeSubscription(account.ID, enums.PlanFree)
	sub.Status = enums.SubscriptionStatusTrialing
	f := newFixture(t, account, sub)

	updated, err := f.svc.ChangePlan(context.Background(), account.ID, enums.PlanCreator)
	if err != nil {
		t.Fatalf("change plan: %v", err)
	}
	if updated.Plan != enums.PlanCreator {
		t.Fatalf("expected creator plan, got %s", updated.Plan)
	}
	if updated.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %s", updated.Status)
	}
	if updated.CancelAtPeriodEnd {
		t.Fatal("expected cancel flag cleared")
	}

	stored, _ := f.accounts.FindByID(context.Background(), account.ID)
	if stored.Credits != 1004 {
		t.Fatalf("expected starter balance plus 1000 grant, got %d", stored.Credits)
	}
	if stored.Plan != enums.PlanCreator {
		t.Fatalf("expected account plan updated, got %s", stored.Plan)
	}
	if len(f.journal.entries) != 1 || f.journal.entries[0].Amount != 1000 {
		t.Fatalf("expected one 1000 credit grant entry, got %+v", f.journal.entries)
	}
	items, _ := f.repo.ListBillingItems(context.Background(), account.ID, 10)
	if len(items) != 1 || items[0].Description != "Upgrade to Creator" {
		t.Fatalf("expected upgrade billing item, got %+v", items)
	}
}

func TestChangePlanDowngradeKeepsBalance(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 4200, Plan: enums.PlanAgency}
	subscription := activeSubscription(account.ID, enums.PlanAgency)
	subscription.CurrentPeriodEnd = time.Now().UTC().Add(48 * time.Hour)
	subscription.CancelAtPeriodEnd = true
	f := newFixture(t, account, subscription)

	updated, err := f.svc.ChangePlan(context.Background(), account.ID, enums.PlanCreator)
	if err != nil {
		t.Fatalf("change plan: %v", err)
	}
	if updated.Plan != enums.PlanCreator {
		t.Fatalf("expected creator plan, got %s", updated.Plan)
	}
	if updated.CurrentPeriodEnd.Before(time.Now().UTC().Add(29 * 24 * time.Hour)) {
		t.Fatalf("expected a fresh billing period, got %s", updated.CurrentPeriodEnd)
	}
	if updated.CancelAtPeriodEnd {
		t.Fatal("expected cancel flag cleared on plan change")
	}

	stored, _ := f.accounts.FindByID(context.Background(), account.ID)
	if stored.Credits != 4200 {
		t.Fatalf("expected balance untouched, got %d", stored.Credits)
	}
	if len(f.journal.entries) != 0 {
		t.Fatalf("expected no grant on downgrade, got %+v", f.journal.entries)
	}
	items, _ := f.repo.ListBillingItems(context.Background(), account.ID, 10)
	if len(items) != 1 || items[0].Description != "Downgrade to Creator" {
		t.Fatalf("expected downgrade billing item, got %+v", items)
	}
}

func TestChangePlanSameTierRejected(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Plan: enums.PlanCreator}
	f := newFixture(t, account, activeSubscription(account.ID, enums.PlanCreator))

	_, err := f.svc.ChangePlan(context.Background(), account.ID, enums.PlanCreator)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestCancelSetsFlagAndKeepsAccess(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Plan: enums.PlanCreator}
	f := newFixture(t, account, activeSubscription(account.ID, enums.PlanCreator))

	updated, err := f.svc.Cancel(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !updated.CancelAtPeriodEnd {
		t.Fatal("expected cancel flag set")
	}
	if updated.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected subscription still active, got %s", updated.Status)
	}
}

func TestReactivateClearsFlagBeforePeriodEnd(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Plan: enums.PlanCreator}
	sub := activeSubscription(account.ID, enums.PlanCreator)
	sub.CancelAtPeriodEnd = true
	f := newFixture(t, account, sub)

	updated, err := f.svc.Reactivate(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if updated.CancelAtPeriodEnd {
		t.Fatal("expected cancel flag cleared")
	}
}

func TestReactivateAfterPeriodEndRejected(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Plan: enums.PlanCreator}
	sub := activeSubscription(account.ID, enums.PlanCreator)
	sub.CancelAtPeriodEnd = true
	sub.CurrentPeriodEnd = time.Now().UTC().Add(-time.Minute)
	f := newFixture(t, account, sub)

	_, err := f.svc.Reactivate(context.Background(), account.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestMarkCancelledRevertsPlanKeepsCredits(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 700, Plan: enums.PlanCreator}
	f := newFixture(t, account, activeSubscription(account.ID, enums.PlanCreator))

	if err := f.svc.MarkCancelled(context.Background(), account.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark cancelled: %v", err)
	}

	sub, _ := f.repo.FindByAccountID(context.Background(), account.ID)
	if sub.Status != enums.SubscriptionStatusCancelled || sub.Plan != enums.PlanFree {
		t.Fatalf("expected cancelled free subscription, got %+v", sub)
	}
	stored, _ := f.accounts.FindByID(context.Background(), account.ID)
	if stored.Credits != 700 {
		t.Fatalf("expected credits preserved, got %d", stored.Credits)
	}
	if stored.Plan != enums.PlanFree {
		t.Fatalf("expected account plan reverted to free, got %s", stored.Plan)
	}
}

func TestRenewGrantsCurrentPlanCredits(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 12, Plan: enums.PlanCreator}
	sub := activeSubscription(account.ID, enums.PlanCreator)
	sub.Status = enums.SubscriptionStatusPastDue
	f := newFixture(t, account, sub)

	if err := f.svc.Renew(context.Background(), account.ID); err != nil {
		t.Fatalf("renew: %v", err)
	}

	stored, _ := f.accounts.FindByID(context.Background(), account.ID)
	if stored.Credits != 1012 {
		t.Fatalf("expected renewal grant of 1000, got balance %d", stored.Credits)
	}
	updated, _ := f.repo.FindByAccountID(context.Background(), account.ID)
	if updated.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active after renewal, got %s", updated.Status)
	}
	items, _ := f.repo.ListBillingItems(context.Background(), account.ID, 10)
	if len(items) != 1 || items[0].Description != "Creator Plan - Monthly" {
		t.Fatalf("expected renewal billing item, got %+v", items)
	}
}

func TestSyncProviderStateIgnoresStaleEvents(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Plan: enums.PlanCreator}
	sub := activeSubscription(account.ID, enums.PlanCreator)
	newer := time.Now().UTC()
	sub.ProviderUpdatedAt = &newer
	f := newFixture(t, account, sub)

	err := f.svc.SyncProviderState(context.Background(), ProviderSync{
		AccountID:  account.ID,
		Status:     enums.SubscriptionStatusPastDue,
		OccurredAt: newer.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	stored, _ := f.repo.FindByAccountID(context.Background(), account.ID)
	if stored.Status != enums.SubscriptionStatusActive {
		t.Fatalf("stale event overwrote state: %s", stored.Status)
	}
}

func TestSyncProviderStateAppliesNewerEvents(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Plan: enums.PlanCreator}
	sub := activeSubscription(account.ID, enums.PlanCreator)
	older := time.Now().UTC().Add(-time.Hour)
	sub.ProviderUpdatedAt = &older
	f := newFixture(t, account, sub)

	periodEnd := time.Now().UTC().Add(14 * 24 * time.Hour)
	err := f.svc.SyncProviderState(context.Background(), ProviderSync{
		AccountID:         account.ID,
		Status:            enums.SubscriptionStatusActive,
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  periodEnd,
		OccurredAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	stored, _ := f.repo.FindByAccountID(context.Background(), account.ID)
	if !stored.CancelAtPeriodEnd {
		t.Fatal("expected cancel flag synced")
	}
	if !stored.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("expected period end synced, got %v", stored.CurrentPeriodEnd)
	}
}

func TestExpireDueCancellations(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 88, Plan: enums.PlanAgency}
	sub := activeSubscription(account.ID, enums.PlanAgency)
	sub.CancelAtPeriodEnd = true
	sub.CurrentPeriodEnd = time.Now().UTC().Add(-time.Hour)
	f := newFixture(t, account, sub)

	expired, err := f.svc.ExpireDueCancellations(context.Background(), time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected one expiry, got %d", expired)
	}

	stored, _ := f.repo.FindByAccountID(context.Background(), account.ID)
	if stored.Status != enums.SubscriptionStatusCancelled || stored.Plan != enums.PlanFree {
		t.Fatalf("expected cancelled free subscription, got %+v", stored)
	}
	acct, _ := f.accounts.FindByID(context.Background(), account.ID)
	if acct.Credits != 88 {
		t.Fatalf("expected credits preserved, got %d", acct.Credits)
	}
}

func TestBillingHistoryCapped(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 0, Plan: enums.PlanCreator}
	f := newFixture(t, account, activeSubscription(account.ID, enums.PlanCreator))

	for i := 0; i < 14; i++ {
		if err := f.svc.Renew(context.Background(), account.ID); err != nil {
			t.Fatalf("renew %d: %v", i, err)
		}
	}

	items, _ := f.repo.ListBillingItems(context.Background(), account.ID, 0)
	if len(items) > 10 {
		t.Fatalf("expected at most 10 billing items, got %d", len(items))
	}
}
