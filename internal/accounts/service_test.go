package accounts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
)

func setupAccountsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	accounts := `
CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  credits INTEGER NOT NULL DEFAULT 0,
  plan TEXT NOT NULL DEFAULT 'free',
  total_generations INTEGER NOT NULL DEFAULT 0,
  email TEXT UNIQUE,
  stripe_customer_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	subscriptions := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL UNIQUE,
  status TEXT NOT NULL DEFAULT 'trialing',
  plan TEXT NOT NULL DEFAULT 'free',
  started_at DATETIME NOT NULL,
  current_period_end DATETIME NOT NULL,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  stripe_subscription_id TEXT,
  provider_updated_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	creditEntries := `
CREATE TABLE IF NOT EXISTS credit_entries (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  type TEXT NOT NULL,
  operation TEXT,
  amount INTEGER NOT NULL,
  balance_after INTEGER NOT NULL,
  reason TEXT NOT NULL,
  created_at DATETIME
);`
	for _, stmt := range []string{accounts, subscriptions, creditEntries} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newAccountService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:              NewRepository(db),
		TransactionRunner: gormTxRunner{db: db},
		StarterCredits:    10,
		RenewalInterval:   30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return svc
}

func randomEmail() string {
	return fmt.Sprintf("user-%s@example.com", uuid.NewString()[:8])
}

func TestCreateProvisionsAccountSubscriptionAndStarterGrant(t *testing.T) {
	db := setupAccountsTestDB(t)
	svc := newAccountService(t, db)
	email := randomEmail()

	account, err := svc.Create(context.Background(), &email)
	require.NoError(t, err)
	require.NotNil(t, account)

	assert.Equal(t, 10, account.Credits)
	assert.Equal(t, enums.PlanFree, account.Plan)
	assert.Equal(t, 0, account.TotalGenerations)

	var subscription models.Subscription
	require.NoError(t, db.Where("account_id = ?", account.ID).First(&subscription).Error)
	assert.Equal(t, enums.SubscriptionStatusTrialing, subscription.Status)
	assert.Equal(t, enums.PlanFree, subscription.Plan)
	assert.False(t, subscription.CancelAtPeriodEnd)
	assert.True(t, subscription.CurrentPeriodEnd.After(time.Now()))

	var entries []models.CreditEntry
	require.NoError(t, db.Where("account_id = ?", account.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.CreditEntryTypeGrant, entries[0].Type)
	assert.Equal(t, 10, entries[0].Amount)
	assert.Equal(t, 10, entries[0].BalanceAfter)
}

func TestCreateNormalizesEmail(t *testing.T) {
	db := setupAccountsTestDB(t)
	svc := newAccountService(t, db)
	suffix := uuid.NewString()[:8]
	raw := "  Creator-" + suffix + "@Example.COM  "

	account, err := svc.Create(context.Background(), &raw)
	require.NoError(t, err)
	require.NotNil(t, account.Email)
	assert.Equal(t, "creator-"+suffix+"@example.com", *account.Email)
}

func TestCreateDuplicateEmailRejected(t *testing.T) {
	db := setupAccountsTestDB(t)
	svc := newAccountService(t, db)
	email := randomEmail()

	_, err := svc.Create(context.Background(), &email)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), &email)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
}

func TestCreateAnonymousAccount(t *testing.T) {
	db := setupAccountsTestDB(t)
	svc := newAccountService(t, db)

	account, err := svc.Create(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, account.Email)
	assert.Equal(t, 10, account.Credits)
}

func TestGetReturnsStoredAccount(t *testing.T) {
	db := setupAccountsTestDB(t)
	svc := newAccountService(t, db)

	created, err := svc.Create(context.Background(), nil)
	require.NoError(t, err)

	loaded, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, created.Credits, loaded.Credits)
}

func TestGetUnknownAccount(t *testing.T) {
	db := setupAccountsTestDB(t)
	svc := newAccountService(t, db)

	_, err := svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
