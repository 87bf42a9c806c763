package ledger

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thumbgen/thumbgen-backend/internal/accounts"
	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
)

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
	for _, account := range f.accounts {
		if account.Email != nil && *account.Email == email {
			copied := *account
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	for _, account := range f.accounts {
		if account.StripeCustomerID != nil && *account.StripeCustomerID == customerID {
			copied := *account
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) Update(ctx context.Context, account *models.Account) error {
	copied := *account
	f.accounts[account.ID] = &copied
	return nil
}

type fakeLedgerRepo struct {
	entries []models.CreditEntry
	pending map[uuid.UUID]*models.PendingOperation
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{pending: map[uuid.UUID]*models.PendingOperation{}}
}

func (f *fakeLedgerRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeLedgerRepo) CreateEntry(ctx context.Context, entry *models.CreditEntry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeLedgerRepo) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]models.CreditEntry, error) {
	var out []models.CreditEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].AccountID == accountID {
			out = append(out, f.entries[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) CreatePendingOperation(ctx context.Context, op *models.PendingOperation) error {
	copied := *op
	f.pending[op.ID] = &copied
	return nil
}

func (f *fakeLedgerRepo) FindPendingOperation(ctx context.Context, id uuid.UUID) (*models.PendingOperation, error) {
	op, ok := f.pending[id]
	if !ok {
		return nil, nil
	}
	copied := *op
	return &copied, nil
}

func (f *fakeLedgerRepo) FindPendingOperationForUpdate(ctx context.Context, id uuid.UUID) (*models.PendingOperation, error) {
	return f.FindPendingOperation(ctx, id)
}

func (f *fakeLedgerRepo) UpdatePendingOperation(ctx context.Context, op *models.PendingOperation) error {
	copied := *op
	f.pending[op.ID] = &copied
	return nil
}

func (f *fakeLedgerRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.PendingOperation, error) {
	var out []models.PendingOperation
	for _, op := range f.pending {
		if op.Status == enums.PendingOperationStatusPending && op.CreatedAt.Before(cutoff) {
			out = append(out, *op)
		}
	}
	return out, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestService(t *testing.T, accountRepo accounts.Repository, repo Repository) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:              repo,
		Accounts:          accountRepo,
		TransactionRunner: stubTxRunner{},
		Logger:            testLogger(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestDeductChargesCostAndRecordsPendingOperation(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 100, Plan: enums.PlanCreator}
	accountRepo := newFakeAccountRepo(account)
	repo := newFakeLedgerRepo()
	svc := newTestService(t, accountRepo, repo)

	result, err := svc.Deduct(context.Background(), account.ID, enums.CreditOperationThumbnailStandard)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if result.Cost != 10 {
		t.Fatalf("expected cost 10, got %d", result.Cost)
	}
	if result.Account.Credits != 90 {
		t.Fatalf("expected balance 90, got %d", result.Account.Credits)
	}
	if result.Account.TotalGenerations != 1 {
		t.Fatalf("expected generation counter 1, got %d", result.Account.TotalGenerations)
	}

	pending, _ := repo.FindPendingOperation(context.Background(), result.PendingOperationID)
	if pending == nil {
		t.Fatal("expected pending operation row")
	}
	if pending.Status != enums.PendingOperationStatusPending {
		t.Fatalf("expected pending status, got %s", pending.Status)
	}
	if pending.Cost != 10 {
		t.Fatalf("expected pending cost 10, got %d", pending.Cost)
	}

	if len(repo.entries) != 1 {
		t.Fatalf("expected one journal entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.Type != enums.CreditEntryTypeDeduct {
		t.Fatalf("expected deduct entry, got %s", entry.Type)
	}
	if entry.Amount != -10 || entry.BalanceAfter != 90 {
		t.Fatalf("unexpected entry amount=%d balanceAfter=%d", entry.Amount, entry.BalanceAfter)
	}
}

func TestDeductRejectsInsufficientBalanceWithoutMutation(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 5}
	accountRepo := newFakeAccountRepo(account)
	repo := newFakeLedgerRepo()
	svc := newTestService(t, accountRepo, repo)

	_, err := svc.Deduct(context.Background(), account.ID, enums.CreditOperationThumbnailStandard)
	if err == nil {
		t.Fatal("expected insufficient credits error")
	}
	typed := pkgerrors.As(err)
	if typed.Code() != pkgerrors.CodeInsufficientCredits {
		t.Fatalf("expected insufficient credits code, got %s", typed.Code())
	}
	details, ok := typed.Details().(InsufficientCreditsDetails)
	if !ok {
		t.Fatalf("expected shortfall details, got %T", typed.Details())
	}
	if details.Required != 10 || details.Available != 5 {
		t.Fatalf("unexpected details %+v", details)
	}

	stored, _ := accountRepo.FindByID(context.Background(), account.ID)
	if stored.Credits != 5 || stored.TotalGenerations != 0 {
		t.Fatalf("balance mutated on rejected deduct: %+v", stored)
	}
	if len(repo.entries) != 0 || len(repo.pending) != 0 {
		t.Fatal("expected no journal entries or pending operations")
	}
}

func TestDeductAtExactBalanceSucceeds(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 50}
	accountRepo := newFakeAccountRepo(account)
	svc := newTestService(t, accountRepo, newFakeLedgerRepo())

	result, err := svc.Deduct(context.Background(), account.ID, enums.CreditOperationVideo)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if result.Account.Credits != 0 {
		t.Fatalf("expected zero balance, got %d", result.Account.Credits)
	}

	_, err = svc.Deduct(context.Background(), account.ID, enums.CreditOperationAudit)
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredits) {
		t.Fatalf("expected insufficient credits at zero balance, got %v", err)
	}
}

func TestDeductUnknownOperation(t *testing.T) {
	svc := newTestService(t, newFakeAccountRepo(), newFakeLedgerRepo())
	_, err := svc.Deduct(context.Background(), uuid.New(), enums.CreditOperationType("hologram"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeductMissingAccount(t *testing.T) {
	svc := newTestService(t, newFakeAccountRepo(), newFakeLedgerRepo())
	_, err := svc.Deduct(context.Background(), uuid.New(), enums.CreditOperationAudit)
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRefundRestoresBalanceAndCounter(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 100}
	accountRepo := newFakeAccountRepo(account)
	repo := newFakeLedgerRepo()
	svc := newTestService(t, accountRepo, repo)

	result, err := svc.Deduct(context.Background(), account.ID, enums.CreditOperationThumbnailUltra)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}

	refunded, err := svc.Refund(context.Background(), result.PendingOperationID, "generation failed")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Credits != 100 {
		t.Fatalf("expected balance restored to 100, got %d", refunded.Credits)
	}
	if refunded.TotalGenerations != 0 {
		t.Fatalf("expected generation counter back to 0, got %d", refunded.TotalGenerations)
	}

	pending, _ := repo.FindPendingOperation(context.Background(), result.PendingOperationID)
	if pending.Status != enums.PendingOperationStatusRefunded {
		t.Fatalf("expected refunded status, got %s", pending.Status)
	}
	if pending.ResolvedAt == nil {
		t.Fatal("expected resolved timestamp")
	}

	if len(repo.entries) != 2 {
		t.Fatalf("expected deduct and refund entries, got %d", len(repo.entries))
	}
	refund := repo.entries[1]
	if refund.Type != enums.CreditEntryTypeRefund || refund.Amount != 25 || refund.BalanceAfter != 100 {
		t.Fatalf("unexpected refund entry %+v", refund)
	}
}

func TestRefundTwiceIsRejected(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 20}
	accountRepo := newFakeAccountRepo(account)
	svc := newTestService(t, accountRepo, newFakeLedgerRepo())

	result, err := svc.Deduct(context.Background(), account.ID, enums.CreditOperationThumbnailStandard)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if _, err := svc.Refund(context.Background(), result.PendingOperationID, "failed"); err != nil {
		t.Fatalf("first refund: %v", err)
	}

	_, err = svc.Refund(context.Background(), result.PendingOperationID, "failed again")
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict on second refund, got %v", err)
	}

	stored, _ := accountRepo.FindByID(context.Background(), account.ID)
	if stored.Credits != 20 {
		t.Fatalf("expected balance unchanged at 20, got %d", stored.Credits)
	}
}

func TestRefundAfterConfirmIsRejected(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 20}
	svc := newTestService(t, newFakeAccountRepo(account), newFakeLedgerRepo())

	result, err := svc.Deduct(context.Background(), account.ID, enums.CreditOperationThumbnailStandard)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if err := svc.ConfirmPending(context.Background(), result.PendingOperationID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err = svc.Refund(context.Background(), result.PendingOperationID, "too late")
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRefundNeverDropsGenerationCounterBelowZero(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 0, TotalGenerations: 0}
	accountRepo := newFakeAccountRepo(account)
	repo := newFakeLedgerRepo()
	svc := newTestService(t, accountRepo, repo)

	pending := &models.PendingOperation{
		ID:        uuid.New(),
		AccountID: account.ID,
		Operation: enums.CreditOperationAudit,
		Cost:      5,
		Status:    enums.PendingOperationStatusPending,
	}
	if err := repo.CreatePendingOperation(context.Background(), pending); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	refunded, err := svc.Refund(context.Background(), pending.ID, "stale")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.TotalGenerations != 0 {
		t.Fatalf("expected counter floored at 0, got %d", refunded.TotalGenerations)
	}
	if refunded.Credits != 5 {
		t.Fatalf("expected refunded balance 5, got %d", refunded.Credits)
	}
}

func TestConfirmPendingMarksResolved(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 20}
	repo := newFakeLedgerRepo()
	svc := newTestService(t, newFakeAccountRepo(account), repo)

	result, err := svc.Deduct(context.Background(), account.ID, enums.CreditOperationThumbnailStandard)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if err := svc.ConfirmPending(context.Background(), result.PendingOperationID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	pending, _ := repo.FindPendingOperation(context.Background(), result.PendingOperationID)
	if pending.Status != enums.PendingOperationStatusConfirmed {
		t.Fatalf("expected confirmed status, got %s", pending.Status)
	}
	if pending.ResolvedAt == nil {
		t.Fatal("expected resolved timestamp")
	}

	if err := svc.ConfirmPending(context.Background(), result.PendingOperationID); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict on double confirm, got %v", err)
	}
}

func TestAddCreditsGrants(t *testing.T) {
	account := &models.Account{ID: uuid.New(), Credits: 3}
	accountRepo := newFakeAccountRepo(account)
	repo := newFakeLedgerRepo()
	svc := newTestService(t, accountRepo, repo)

	granted, err := svc.AddCredits(context.Background(), account.ID, 1000, enums.CreditEntryTypeGrant, "plan upgrade")
	if err != nil {
		t.Fatalf("add credits: %v", err)
	}
	if granted.Credits != 1003 {
		t.Fatalf("expected balance 1003, got %d", granted.Credits)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(repo.entries))
	}
	if repo.entries[0].Reason != "plan upgrade" || repo.entries[0].Amount != 1000 {
		t.Fatalf("unexpected grant entry %+v", repo.entries[0])
	}
}

func TestAddCreditsValidation(t *testing.T) {
	svc := newTestService(t, newFakeAccountRepo(), newFakeLedgerRepo())

	if _, err := svc.AddCredits(context.Background(), uuid.New(), 0, enums.CreditEntryTypeGrant, "r"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
	if _, err := svc.AddCredits(context.Background(), uuid.New(), 10, enums.CreditEntryTypeDeduct, "r"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for deduct type, got %v", err)
	}
	if _, err := svc.AddCredits(context.Background(), uuid.New(), 10, enums.CreditEntryTypeGrant, ""); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty reason, got %v", err)
	}
}

func TestGetBalanceMissingAccount(t *testing.T) {
	svc := newTestService(t, newFakeAccountRepo(), newFakeLedgerRepo())
	if _, err := svc.GetBalance(context.Background(), uuid.New()); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
