package controllers

import (
	"net/http"
	"time"

	"github.com/thumbgen/thumbgen-backend/api/middleware"
	"github.com/thumbgen/thumbgen-backend/api/responses"
	"github.com/thumbgen/thumbgen-backend/api/validators"
	"github.com/thumbgen/thumbgen-backend/internal/subscriptions"
	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
)

type changePlanRequest struct {
	Plan string `json:"plan" validate:"required"`
}

type subscriptionResponse struct {
	Status            string    `json:"status"`
	Plan              string    `json:"plan"`
	StartedAt         time.Time `json:"started_at"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
}

type billingItemResponse struct {
	Amount      string    `json:"amount"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type subscriptionOverviewResponse struct {
	Subscription   subscriptionResponse  `json:"subscription"`
	BillingHistory []billingItemResponse `json:"billing_history"`
}

func subscriptionOf(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Status:            string(sub.Status),
		Plan:              string(sub.Plan),
		StartedAt:         sub.StartedAt,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}

// SubscriptionFetch returns the subscription plus recent billing history.
func SubscriptionFetch(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		overview, err := svc.Get(r.Context(), middleware.AccountIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		history := make([]billingItemResponse, 0, len(overview.BillingHistory))
		for _, item := range overview.BillingHistory {
			history = append(history, billingItemResponse{
				Amount:      item.Amount,
				Description: item.Description,
				Status:      string(item.Status),
				CreatedAt:   item.CreatedAt,
			})
		}

		responses.WriteSuccess(w, subscriptionOverviewResponse{
			Subscription:   subscriptionOf(overview.Subscription),
			BillingHistory: history,
		})
	}
}

// SubscriptionChangePlan moves the account to another tier. Upgrades grant
// credits immediately; downgrades take effect at the next renewal.
func SubscriptionChangePlan(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		var body changePlanRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParsePlan(body.Plan)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown plan"))
			return
		}

		sub, err := svc.ChangePlan(r.Context(), middleware.AccountIDFromContext(r.Context()), target)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionOf(sub))
	}
}

// SubscriptionCancel flags the subscription to lapse at the period end.
func SubscriptionCancel(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		sub, err := svc.Cancel(r.Context(), middleware.AccountIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionOf(sub))
	}
}

// SubscriptionReactivate clears the cancellation flag while the period is
// still running.
func SubscriptionReactivate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		sub, err := svc.Reactivate(r.Context(), middleware.AccountIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, subscriptionOf(sub))
	}
}
