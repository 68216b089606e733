// Package tasks binds the dispatcher to the job queue: bulk sends, test sends
// and the periodic pickup of scheduled newsletters. Every job runs with River
// attempts capped at one; retries are new jobs scheduled by dispatch.Retrier.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/pkg/job"
)

// Task names.
const (
	SendNewsletter     = "send_newsletter"
	SendTestNewsletter = "send_test_newsletter"
	DispatchDue        = "dispatch_due_newsletters"
)

// Trigger deduplication windows. Retries carry their attempt number in the
// unique key and are never collapsed into the original job.
const (
	sendDedupWindow = 5 * time.Minute
	testDedupWindow = 30 * time.Second
)

// Enqueuer inserts jobs. Implemented by *job.Enqueuer and *job.Manager.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...job.EnqueueOption) error
}

// Dispatcher is the part of *dispatch.Dispatcher the tasks call.
type Dispatcher interface {
	Dispatch(ctx context.Context, sendKey string, batchSize int) (dispatch.Result, error)
	SendTest(ctx context.Context, newsletterID int64, email string) error
}

// FailureMarker records a bulk send that failed terminally so the scheduled
// pickup stops re-enqueueing it. Implemented by newsletter.NewsletterStore.
type FailureMarker interface {
	MarkDispatchFailed(ctx context.Context, sendKey string, at time.Time) error
}

// SendNewsletterPayload triggers a bulk send.
type SendNewsletterPayload struct {
	SendKey   string `json:"send_key"`
	BatchSize int    `json:"batch_size,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
}

// SendTestPayload triggers a single test send.
type SendTestPayload struct {
	Email        string `json:"email"`
	NewsletterID int64  `json:"newsletter_id"`
	Attempt      int    `json:"attempt,omitempty"`
}

// EnqueueSend schedules a bulk send of sendKey. A zero batch size uses the
// configured default.
func EnqueueSend(ctx context.Context, e Enqueuer, p SendNewsletterPayload, opts ...job.EnqueueOption) error {
	if p.SendKey == "" {
		return fmt.Errorf("%w: send_key is required", job.ErrInvalidPayload)
	}
	if p.Attempt < 1 {
		p.Attempt = 1
	}
	base := []job.EnqueueOption{
		job.MaxAttempts(1),
		job.UniqueKey(fmt.Sprintf("%s#%d", p.SendKey, p.Attempt)),
		job.UniqueFor(sendDedupWindow),
		job.Tags("newsletter", "bulk"),
	}
	return e.Enqueue(ctx, SendNewsletter, p, append(base, opts...)...)
}

// EnqueueTest schedules a test send of newsletterID to email.
func EnqueueTest(ctx context.Context, e Enqueuer, p SendTestPayload, opts ...job.EnqueueOption) error {
	if p.NewsletterID <= 0 || p.Email == "" {
		return fmt.Errorf("%w: newsletter_id and email are required", job.ErrInvalidPayload)
	}
	if p.Attempt < 1 {
		p.Attempt = 1
	}
	base := []job.EnqueueOption{
		job.MaxAttempts(1),
		job.UniqueKey(fmt.Sprintf("%d:%s#%d", p.NewsletterID, p.Email, p.Attempt)),
		job.UniqueFor(testDedupWindow),
		job.Tags("newsletter", "test"),
	}
	return e.Enqueue(ctx, SendTestNewsletter, p, append(base, opts...)...)
}

type queuedEnqueuer struct {
	next  Enqueuer
	queue string
}

// InQueue routes every job inserted through e into the named queue. Callers'
// options are applied after it and may override the queue.
func InQueue(e Enqueuer, queue string) Enqueuer {
	if queue == "" {
		return e
	}
	return &queuedEnqueuer{next: e, queue: queue}
}

func (q *queuedEnqueuer) Enqueue(ctx context.Context, name string, payload any, opts ...job.EnqueueOption) error {
	return q.next.Enqueue(ctx, name, payload, append([]job.EnqueueOption{job.InQueue(q.queue)}, opts...)...)
}
