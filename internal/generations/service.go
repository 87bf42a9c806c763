package generations

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thumbgen/thumbgen-backend/internal/ledger"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/generator"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
)

// Params describes one billable generation request.
type Params struct {
	AccountID   uuid.UUID
	Operation   enums.CreditOperationType
	Prompt      string
	SourceImage string
	AspectRatio string
}

// Result reports the artifact plus the ledger outcome the caller needs to
// refresh its view of the balance.
type Result struct {
	ArtifactURL      string
	MimeType         string
	CreditsCharged   int
	Credits          int
	TotalGenerations int
}

// Service orchestrates a billable generation: charge the ledger first, call
// the generation service with no locks held, then settle or refund the
// charge depending on the outcome.
type Service interface {
	Generate(ctx context.Context, params Params) (*Result, error)
}

// ServiceParams groups dependencies for the generation service.
type ServiceParams struct {
	Ledger    ledger.Service
	Generator generator.Client
	Logger    *logger.Logger
}

const (
	confirmAttempts   = 3
	confirmRetryDelay = 200 * time.Millisecond
)

type service struct {
	ledger       ledger.Service
	generator    generator.Client
	log          *logger.Logger
	confirmDelay time.Duration
}

// NewService wires a generation service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Generator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "generator client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		ledger:       params.Ledger,
		generator:    params.Generator,
		log:          params.Logger,
		confirmDelay: confirmRetryDelay,
	}, nil
}

func (s *service) Generate(ctx context.Context, params Params) (*Result, error) {
	if params.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !params.Operation.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown operation type")
	}

	deducted, err := s.ledger.Deduct(ctx, params.AccountID, params.Operation)
	if err != nil {
		return nil, err
	}

	artifact, err := s.generator.Generate(ctx, generator.Request{
		Operation:   params.Operation,
		Prompt:      params.Prompt,
		SourceImage: params.SourceImage,
		AspectRatio: params.AspectRatio,
	})
	if err != nil {
		s.log.Error(s.log.WithFields(ctx, map[string]any{
			"accountId":          params.AccountID.String(),
			"operation":          params.Operation.String(),
			"pendingOperationId": deducted.PendingOperationID.String(),
		}), "generation failed, refunding charge", err)

		if _, refundErr := s.ledger.Refund(ctx, deducted.PendingOperationID, "generation failed"); refundErr != nil {
			// The pending operation row remains for reconciliation.
			s.log.Error(s.log.WithField(ctx, "pendingOperationId", deducted.PendingOperationID.String()),
				"refund after failed generation did not apply", refundErr)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generation failed and refund pending")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generation failed, credits refunded")
	}

	// The artifact was delivered, so the pending row must settle as
	// confirmed; a row left pending would get refunded by the stale sweep
	// on top of the delivered artifact. Retry transient failures.
	if err := s.confirmDelivered(ctx, deducted.PendingOperationID); err != nil {
		s.log.Error(s.log.WithField(ctx, "pendingOperationId", deducted.PendingOperationID.String()),
			"confirm after successful generation did not apply", err)
	}

	return &Result{
		ArtifactURL:      artifact.ArtifactURL,
		MimeType:         artifact.MimeType,
		CreditsCharged:   deducted.Cost,
		Credits:          deducted.Account.Credits,
		TotalGenerations: deducted.Account.TotalGenerations,
	}, nil
}

func (s *service) confirmDelivered(ctx context.Context, pendingID uuid.UUID) error {
	var err error
	for attempt := 0; attempt < confirmAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.confirmDelay):
			}
		}
		if err = s.ledger.ConfirmPending(ctx, pendingID); err == nil {
			return nil
		}
		// An already resolved row will not change on retry.
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return err
		}
	}
	return err
}
