package controllers

import (
	"net/http"
	"time"

	"github.com/thumbgen/thumbgen-backend/api/middleware"
	"github.com/thumbgen/thumbgen-backend/api/responses"
	"github.com/thumbgen/thumbgen-backend/api/validators"
	"github.com/thumbgen/thumbgen-backend/internal/accounts"
	pkgAuth "github.com/thumbgen/thumbgen-backend/pkg/auth"
	"github.com/thumbgen/thumbgen-backend/pkg/config"
	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
)

type sessionCreateRequest struct {
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

type sessionResponse struct {
	Token   string          `json:"token"`
	Account accountSnapshot `json:"account"`
}

type accountSnapshot struct {
	ID               string  `json:"id"`
	Email            *string `json:"email,omitempty"`
	Credits          int     `json:"credits"`
	Plan             string  `json:"plan"`
	TotalGenerations int     `json:"total_generations"`
}

func snapshotOf(account *models.Account) accountSnapshot {
	return accountSnapshot{
		ID:               account.ID.String(),
		Email:            account.Email,
		Credits:          account.Credits,
		Plan:             string(account.Plan),
		TotalGenerations: account.TotalGenerations,
	}
}

func mintFor(cfg config.SessionConfig, account *models.Account) (string, error) {
	return pkgAuth.MintSessionToken(cfg, time.Now().UTC(), pkgAuth.AccountSnapshot{
		AccountID:        account.ID,
		Credits:          account.Credits,
		Plan:             account.Plan,
		TotalGenerations: account.TotalGenerations,
	})
}

// SessionCreate provisions a new account with starter credits and returns a
// signed session token embedding the balance snapshot.
func SessionCreate(svc accounts.Service, cfg config.SessionConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		var body sessionCreateRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		account, err := svc.Create(r.Context(), body.Email)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		token, err := mintFor(cfg, account)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint session token"))
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, sessionResponse{
			Token:   token,
			Account: snapshotOf(account),
		})
	}
}

// SessionRefresh re-issues a token from the authoritative ledger state. The
// presented token's balance claim is ignored.
func SessionRefresh(svc accounts.Service, cfg config.SessionConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		accountID := middleware.AccountIDFromContext(r.Context())
		account, err := svc.Get(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		token, err := mintFor(cfg, account)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint session token"))
			return
		}

		responses.WriteSuccess(w, sessionResponse{
			Token:   token,
			Account: snapshotOf(account),
		})
	}
}
