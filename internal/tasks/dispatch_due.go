package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hybridprotocol/newsletter/internal/newsletter"
)

const dueBatchLimit = 50

// DispatchDueTask enqueues a bulk send for every scheduled newsletter whose
// time has come. Repeated ticks are collapsed by the send job's unique key and,
// past the dedup window, by the dispatcher's per-send-key lock.
type DispatchDueTask struct {
	newsletters newsletter.NewsletterStore
	enqueuer    Enqueuer
	now         func() time.Time
	log         *slog.Logger
}

func NewDispatchDueTask(n newsletter.NewsletterStore, e Enqueuer, log *slog.Logger) *DispatchDueTask {
	return &DispatchDueTask{newsletters: n, enqueuer: e, now: time.Now, log: log}
}

func (t *DispatchDueTask) Name() string { return DispatchDue }

// Schedule runs every minute.
func (t *DispatchDueTask) Schedule() string { return "* * * * *" }

func (t *DispatchDueTask) Handle(ctx context.Context) error {
	due, err := t.newsletters.Due(ctx, t.now(), dueBatchLimit)
	if err != nil {
		return fmt.Errorf("tasks: list due newsletters: %w", err)
	}

	var errs []error
	for _, n := range due {
		if err := EnqueueSend(ctx, t.enqueuer, SendNewsletterPayload{SendKey: n.SendKey}); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", n.SendKey, err))
			continue
		}
		t.log.InfoContext(ctx, "scheduled newsletter enqueued",
			slog.String("send_key", n.SendKey),
			slog.Time("scheduled_for", *n.ScheduledFor),
		)
	}
	return errors.Join(errs...)
}
