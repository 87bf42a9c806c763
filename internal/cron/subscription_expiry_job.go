package cron

import (
	"context"
	"fmt"
	"time"
)

const expiryBatchSize = 200

type cancellationExpirer interface {
	ExpireDueCancellations(ctx context.Context, now time.Time, limit int) (int, error)
}

// SubscriptionExpiryJobParams configure the cancellation sweep.
type SubscriptionExpiryJobParams struct {
	Subscriptions cancellationExpirer
}

// NewSubscriptionExpiryJob builds the job that finalizes subscriptions whose
// cancel-at-period-end deadline has passed.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	return &subscriptionExpiryJob{
		subscriptions: params.Subscriptions,
		now:           time.Now,
	}, nil
}

type subscriptionExpiryJob struct {
	subscriptions cancellationExpirer
	now           func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	for {
		expired, err := j.subscriptions.ExpireDueCancellations(ctx, j.now().UTC(), expiryBatchSize)
		if err != nil {
			return err
		}
		if expired < expiryBatchSize {
			return nil
		}
	}
}
