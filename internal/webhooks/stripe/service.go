package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/thumbgen/thumbgen-backend/internal/accounts"
	"github.com/thumbgen/thumbgen-backend/internal/subscriptions"
	"github.com/thumbgen/thumbgen-backend/pkg/db/models"
	"github.com/thumbgen/thumbgen-backend/pkg/enums"
	pkgerrors "github.com/thumbgen/thumbgen-backend/pkg/errors"
	"github.com/thumbgen/thumbgen-backend/pkg/logger"
	"github.com/thumbgen/thumbgen-backend/pkg/metrics"
)

// Outcome reports what the reconciler did with an event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the webhook reconciler.
type ServiceParams struct {
	Accounts          accounts.Repository
	Subscriptions     subscriptions.Service
	Events            EventStore
	Guard             *IdempotencyGuard
	TransactionRunner txRunner
	Metrics           *metrics.WebhookMetrics
	Logger            *logger.Logger
}

// Service reconciles provider events against local billing state. Events are
// deduplicated twice: a redis mark for the fast path and the webhook_events
// unique constraint as the durable record. The durable record is inserted in
// the same transaction that applies the event, so a failure rolls both back
// and the provider's redelivery retries cleanly.
type Service struct {
	accounts      accounts.Repository
	subscriptions subscriptions.Service
	events        EventStore
	guard         *IdempotencyGuard
	txRunner      txRunner
	metrics       *metrics.WebhookMetrics
	log           *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "account repo required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event store required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		accounts:      params.Accounts,
		subscriptions: params.Subscriptions,
		events:        params.Events,
		guard:         params.Guard,
		txRunner:      params.TransactionRunner,
		metrics:       params.Metrics,
		log:           params.Logger,
	}, nil
}

// HandleEvent applies one provider event. Redeliveries of an already
// processed event return OutcomeIgnored with no side effects.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (Outcome, error) {
	if event == nil || event.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "stripe event required")
	}
	ctx = s.log.WithEventID(ctx, event.ID)
	eventType := string(event.Type)

	if !s.handles(event.Type) {
		s.metrics.IncIgnored(eventType)
		s.log.Debug(ctx, "unhandled event type acknowledged")
		return OutcomeIgnored, nil
	}

	duplicate, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		// Redis being down must not drop events; fall through to the
		// durable check.
		s.log.Warn(ctx, "idempotency guard unavailable")
	}
	if duplicate {
		s.metrics.IncIgnored(eventType)
		return OutcomeIgnored, nil
	}

	// Durable fast path for redeliveries that outlived the redis mark.
	seen, err := s.events.Seen(ctx, event.ID)
	if err != nil {
		s.log.Warn(ctx, "durable dedup lookup failed")
	}
	if seen {
		s.metrics.IncIgnored(eventType)
		return OutcomeIgnored, nil
	}

	started := time.Now()
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.events.WithTx(tx).Record(ctx, &models.WebhookEvent{
			EventID: event.ID,
			Type:    eventType,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
		}
		return s.apply(ctx, tx, event)
	})
	if err != nil {
		if pkgerrors.IsUniqueViolation(err) {
			s.metrics.IncIgnored(eventType)
			return OutcomeIgnored, nil
		}
		// The durable record rolled back with the transaction; only the
		// redis mark is left to release.
		s.releaseGuard(ctx, event.ID)
		s.metrics.IncRejected(eventType)
		return "", err
	}

	s.metrics.ObserveDuration(eventType, time.Since(started))
	s.metrics.IncApplied(eventType)
	s.log.Info(s.log.WithField(ctx, "eventType", eventType), "webhook event applied")
	return OutcomeApplied, nil
}

func (s *Service) handles(eventType stripe.EventType) bool {
	switch eventType {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeInvoicePaymentSucceeded,
		stripe.EventTypeInvoicePaymentFailed:
		return true
	default:
		return false
	}
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return s.applyCheckoutCompleted(ctx, tx, event)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, tx, event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, tx, event)
	case stripe.EventTypeInvoicePaymentSucceeded:
		return s.applyInvoicePaid(ctx, tx, event)
	case stripe.EventTypeInvoicePaymentFailed:
		return s.applyInvoiceFailed(ctx, tx, event)
	default:
		return nil
	}
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	customerID := event.GetObjectValue("customer")
	email := event.GetObjectValue("customer_details", "email")
	if email == "" {
		email = event.GetObjectValue("customer_email")
	}

	account, err := s.resolveAccount(ctx, tx, customerID, email)
	if err != nil {
		return err
	}

	planRaw := event.GetObjectValue("metadata", "planId")
	if planRaw == "" {
		planRaw = event.GetObjectValue("metadata", "plan")
	}
	plan, err := enums.ParsePlan(strings.TrimSpace(planRaw))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "checkout session carries no plan")
	}

	if customerID != "" && (account.StripeCustomerID == nil || *account.StripeCustomerID != customerID) {
		account.StripeCustomerID = &customerID
		if err := s.accounts.WithTx(tx).Update(ctx, account); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist stripe customer id")
		}
	}

	if _, err := s.subscriptions.WithTx(tx).ChangePlan(ctx, account.ID, plan); err != nil {
		// The customer may retry checkout for the tier they are already
		// on; that is settled, not an error.
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			s.log.Info(ctx, "checkout for current tier, nothing to change")
			return nil
		}
		return err
	}

	if subscriptionID := event.GetObjectValue("subscription"); subscriptionID != "" {
		return s.subscriptions.WithTx(tx).SyncProviderState(ctx, subscriptions.ProviderSync{
			AccountID:            account.ID,
			Status:               enums.SubscriptionStatusActive,
			CurrentPeriodEnd:     time.Time{},
			StripeSubscriptionID: &subscriptionID,
			OccurredAt:           eventTime(event),
		})
	}
	return nil
}

func (s *Service) applySubscriptionUpdated(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	stripeSub, err := decodeSubscription(event)
	if err != nil {
		return err
	}
	account, err := s.accountForSubscription(ctx, tx, stripeSub)
	if err != nil {
		return err
	}
	subscriptionID := stripeSub.ID
	return s.subscriptions.WithTx(tx).SyncProviderState(ctx, subscriptions.ProviderSync{
		AccountID:            account.ID,
		Status:               mapStatus(stripeSub.Status),
		CancelAtPeriodEnd:    stripeSub.CancelAtPeriodEnd,
		CurrentPeriodEnd:     periodEnd(stripeSub),
		StripeSubscriptionID: &subscriptionID,
		OccurredAt:           eventTime(event),
	})
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	stripeSub, err := decodeSubscription(event)
	if err != nil {
		return err
	}
	account, err := s.accountForSubscription(ctx, tx, stripeSub)
	if err != nil {
		return err
	}
	return s.subscriptions.WithTx(tx).MarkCancelled(ctx, account.ID, eventTime(event))
}

func (s *Service) applyInvoicePaid(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	if event.GetObjectValue("billing_reason") != "subscription_cycle" {
		// First invoices arrive alongside checkout completion; only
		// recurring cycles grant credits.
		return nil
	}
	account, err := s.resolveAccount(ctx, tx, event.GetObjectValue("customer"), "")
	if err != nil {
		return err
	}
	return s.subscriptions.WithTx(tx).Renew(ctx, account.ID)
}

func (s *Service) applyInvoiceFailed(ctx context.Context, tx *gorm.DB, event *stripe.Event) error {
	account, err := s.resolveAccount(ctx, tx, event.GetObjectValue("customer"), "")
	if err != nil {
		return err
	}
	return s.subscriptions.WithTx(tx).MarkPastDue(ctx, account.ID, eventTime(event))
}

func (s *Service) resolveAccount(ctx context.Context, tx *gorm.DB, customerID, email string) (*models.Account, error) {
	repo := s.accounts.WithTx(tx)
	if customerID != "" {
		account, err := repo.FindByStripeCustomerID(ctx, customerID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account by customer id")
		}
		if account != nil {
			return account, nil
		}
	}
	if email != "" {
		account, err := repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account by email")
		}
		if account != nil {
			return account, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no account for provider customer")
}

func (s *Service) accountForSubscription(ctx context.Context, tx *gorm.DB, stripeSub *stripe.Subscription) (*models.Account, error) {
	customerID := ""
	if stripeSub.Customer != nil {
		customerID = stripeSub.Customer.ID
	}
	return s.resolveAccount(ctx, tx, customerID, "")
}

func (s *Service) releaseGuard(ctx context.Context, eventID string) {
	if err := s.guard.Delete(ctx, eventID); err != nil {
		s.log.Error(ctx, "release idempotency mark", err)
	}
}

func decodeSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	if event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	return &stripeSub, nil
}

func mapStatus(status stripe.SubscriptionStatus) enums.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCancelled
	default:
		return enums.SubscriptionStatusActive
	}
}

func periodEnd(stripeSub *stripe.Subscription) time.Time {
	if stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return time.Time{}
	}
	ts := stripeSub.Items.Data[0].CurrentPeriodEnd
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func eventTime(event *stripe.Event) time.Time {
	if event.Created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(event.Created, 0).UTC()
}
