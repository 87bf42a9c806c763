package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/thumbgen/thumbgen-backend/pkg/enums"
)

// AccountSnapshot captures the ledger state embedded in a session token.
// The snapshot is a verifiable cache only; balance-affecting operations
// always re-read the ledger.
type AccountSnapshot struct {
	AccountID        uuid.UUID
	Credits          int
	Plan             enums.Plan
	TotalGenerations int
}

// SessionClaims is the typed JWT issued to clients.
type SessionClaims struct {
	AccountID        uuid.UUID  `json:"account_id"`
	Credits          int        `json:"credits"`
	Plan             enums.Plan `json:"plan"`
	TotalGenerations int        `json:"total_generations"`
	jwt.RegisteredClaims
}

// Snapshot converts the claims back into an AccountSnapshot.
func (c *SessionClaims) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		AccountID:        c.AccountID,
		Credits:          c.Credits,
		Plan:             c.Plan,
		TotalGenerations: c.TotalGenerations,
	}
}
