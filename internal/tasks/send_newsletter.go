package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/pkg/job"
)

// SendNewsletterTask runs one attempt of a bulk send. When the last attempt
// fails the newsletter is marked so scheduled pickup leaves it alone.
type SendNewsletterTask struct {
	dispatcher Dispatcher
	retrier    *dispatch.Retrier
	enqueuer   Enqueuer
	failures   FailureMarker
	now        func() time.Time
	log        *slog.Logger
}

func NewSendNewsletterTask(d Dispatcher, r *dispatch.Retrier, e Enqueuer, f FailureMarker, log *slog.Logger) *SendNewsletterTask {
	return &SendNewsletterTask{dispatcher: d, retrier: r, enqueuer: e, failures: f, now: time.Now, log: log}
}

func (t *SendNewsletterTask) Name() string { return SendNewsletter }

func (t *SendNewsletterTask) Handle(ctx context.Context, p SendNewsletterPayload) error {
	if p.SendKey == "" {
		return fmt.Errorf("%w: send_key is required", job.ErrInvalidPayload)
	}
	ctx = dispatch.WithSendKey(ctx, p.SendKey)

	state, err := t.retrier.Run(ctx, p.Attempt,
		func(ctx context.Context) error {
			res, err := t.dispatcher.Dispatch(ctx, p.SendKey, p.BatchSize)
			if err != nil {
				return err
			}
			t.log.InfoContext(ctx, "send newsletter finished",
				slog.String("status", string(res.Status)),
				slog.Int("sent", res.Sent),
				slog.Int("failed", res.Failed),
				slog.Int("skipped", res.Skipped),
			)
			return nil
		},
		func(ctx context.Context, next int, delay time.Duration) error {
			retry := p
			retry.Attempt = next
			return EnqueueSend(ctx, t.enqueuer, retry, job.ScheduledIn(delay))
		},
	)
	if state == dispatch.StateFailedTerminal {
		t.markFailed(ctx, p.SendKey)
	}
	return err
}

func (t *SendNewsletterTask) markFailed(ctx context.Context, sendKey string) {
	if t.failures == nil {
		return
	}
	if err := t.failures.MarkDispatchFailed(context.WithoutCancel(ctx), sendKey, t.now()); err != nil {
		t.log.WarnContext(ctx, "failed to mark newsletter dispatch failed", slog.Any("error", err))
	}
}
