package controllers

import (
	"net/http"

	"github.com/thumbgen/thumbgen-backend/api/middleware"
	"github.com/thumbgen/thumbgen-backend/api/responses"
	"github.com/thumbgen/thumbgen-backend/api/validators"
	"github.com/thumbgen/thumbgen-backend/internal/generations"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
)

type generateRequest struct {
	Operation   string `json:"operation" validate:"required"`
	Prompt      string `json:"prompt,omitempty" validate:"omitempty,max=4000"`
	SourceImage string `json:"source_image,omitempty" validate:"omitempty,url"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

type generateResponse struct {
	ArtifactURL      string `json:"artifact_url"`
	MimeType         string `json:"mime_type"`
	CreditsCharged   int    `json:"credits_charged"`
	Credits          int    `json:"credits"`
	TotalGenerations int    `json:"total_generations"`
}

// Generate runs one billable generation: deduct, call the generator, confirm
// or refund.
func Generate(svc generations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "generation service unavailable"))
			return
		}

		var body generateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		operation, err := enums.ParseCreditOperationType(body.Operation)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown operation"))
			return
		}

		result, err := svc.Generate(r.Context(), generations.Params{
			AccountID:   middleware.AccountIDFromContext(r.Context()),
			Operation:   operation,
			Prompt:      body.Prompt,
			SourceImage: body.SourceImage,
			AspectRatio: body.AspectRatio,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, generateResponse{
			ArtifactURL:      result.ArtifactURL,
			MimeType:         result.MimeType,
			CreditsCharged:   result.CreditsCharged,
			Credits:          result.Credits,
			TotalGenerations: result.TotalGenerations,
		})
	}
}
