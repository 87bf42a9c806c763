package controllers

import (
	"net/http"

	"github.com/thumbgen/thumbgen-backend/api/responses"
	"github.com/thumbgen/thumbgen-backend/internal/plans"
)

type planResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	MonthlyPrice   string   `json:"monthly_price"`
	MonthlyCredits int      `json:"monthly_credits"`
	Features       []string `json:"features"`
}

// PlanCatalog serves the static plan catalog.
func PlanCatalog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		catalog := plans.Catalog()
		out := make([]planResponse, 0, len(catalog))
		for _, details := range catalog {
			out = append(out, planResponse{
				ID:             string(details.ID),
				Name:           details.Name,
				MonthlyPrice:   details.MonthlyPrice.StringFixed(2),
				MonthlyCredits: details.MonthlyCredits,
				Features:       details.Features,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
