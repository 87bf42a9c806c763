package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/thumbgen/thumbgen-backend/api/middleware"
	"github.com/thumbgen/thumbgen-backend/api/responses"
	"github.com/thumbgen/thumbgen-backend/internal/accounts"
	"github.com/thumbgen/thumbgen-backend/internal/ledger"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
)

type balanceResponse struct {
	Credits          int    `json:"credits"`
	Plan             string `json:"plan"`
	TotalGenerations int    `json:"total_generations"`
}

type creditEntryResponse struct {
	Type         string    `json:"type"`
	Operation    *string   `json:"operation,omitempty"`
	Amount       int       `json:"amount"`
	BalanceAfter int       `json:"balance_after"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountProfile returns the authoritative account state, bypassing the
// token snapshot entirely.
func AccountProfile(svc accounts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		account, err := svc.Get(r.Context(), middleware.AccountIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, snapshotOf(account))
	}
}

// AccountBalance returns the current credit balance from the ledger.
func AccountBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		account, err := svc.GetBalance(r.Context(), middleware.AccountIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, balanceResponse{
			Credits:          account.Credits,
			Plan:             string(account.Plan),
			TotalGenerations: account.TotalGenerations,
		})
	}
}

// AccountHistory returns the most recent credit journal entries.
func AccountHistory(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			limit = parsed
		}

		entries, err := svc.History(r.Context(), middleware.AccountIDFromContext(r.Context()), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]creditEntryResponse, 0, len(entries))
		for _, entry := range entries {
			item := creditEntryResponse{
				Type:         string(entry.Type),
				Amount:       entry.Amount,
				BalanceAfter: entry.BalanceAfter,
				Reason:       entry.Reason,
				CreatedAt:    entry.CreatedAt,
			}
			if entry.Operation != nil {
				op := string(*entry.Operation)
				item.Operation = &op
			}
			out = append(out, item)
		}
		responses.WriteSuccess(w, out)
	}
}
