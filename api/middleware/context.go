package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/thumbgen/thumbgen-backend/pkg/auth"
)

type contextKey string

const (
	ctxAccountID contextKey = "account_id"
	ctxSnapshot  contextKey = "account_snapshot"
)

// AccountIDFromContext returns the authenticated account id, or uuid.Nil
// when the request was not authenticated.
func AccountIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxAccountID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// SnapshotFromContext returns the token-embedded account snapshot. The
// snapshot is advisory; handlers that mutate balances re-read the ledger.
func SnapshotFromContext(ctx context.Context) (auth.AccountSnapshot, bool) {
	if ctx == nil {
		return auth.AccountSnapshot{}, false
	}
	v, ok := ctx.Value(ctxSnapshot).(auth.AccountSnapshot)
	return v, ok
}

// WithAccountID injects the account identifier for downstream handlers.
func WithAccountID(ctx context.Context, accountID uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxAccountID, accountID)
}

func withSnapshot(ctx context.Context, snapshot auth.AccountSnapshot) context.Context {
	return context.WithValue(ctx, ctxSnapshot, snapshot)
}
