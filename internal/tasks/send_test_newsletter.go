package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/pkg/job"
)

// SendTestTask runs one attempt of a test send. It retries under the same
// policy as bulk sends but independently of them.
type SendTestTask struct {
	dispatcher Dispatcher
	retrier    *dispatch.Retrier
	enqueuer   Enqueuer
}

func NewSendTestTask(d Dispatcher, r *dispatch.Retrier, e Enqueuer) *SendTestTask {
	return &SendTestTask{dispatcher: d, retrier: r, enqueuer: e}
}

func (t *SendTestTask) Name() string { return SendTestNewsletter }

func (t *SendTestTask) Handle(ctx context.Context, p SendTestPayload) error {
	if p.NewsletterID <= 0 || p.Email == "" {
		return fmt.Errorf("%w: newsletter_id and email are required", job.ErrInvalidPayload)
	}

	_, err := t.retrier.Run(ctx, p.Attempt,
		func(ctx context.Context) error {
			err := t.dispatcher.SendTest(ctx, p.NewsletterID, p.Email)
			if errors.Is(err, dispatch.ErrInvalidTestEmail) {
				return dispatch.Permanent(err)
			}
			return err
		},
		func(ctx context.Context, next int, delay time.Duration) error {
			retry := p
			retry.Attempt = next
			return EnqueueTest(ctx, t.enqueuer, retry, job.ScheduledIn(delay))
		},
	)
	return err
}
