package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hybridprotocol/newsletter/pkg/logger"
)

var (
	// ErrRetriesExhausted wraps the last failure once the retry budget is spent.
	ErrRetriesExhausted = errors.New("dispatch: retries exhausted")
	// ErrJobPanic wraps a panic recovered from a job attempt.
	ErrJobPanic = errors.New("dispatch: job panic")
)

// RetryState is a node of the job-level retry state machine:
//
//	pending -> running -> done
//	                   -> retry_scheduled -> running (bounded)
//	                   -> failed_terminal
type RetryState string

const (
	StatePending        RetryState = "pending"
	StateRunning        RetryState = "running"
	StateDone           RetryState = "done"
	StateRetryScheduled RetryState = "retry_scheduled"
	StateFailedTerminal RetryState = "failed_terminal"
)

// Transition is reported to observers on every state change.
type Transition struct {
	Err     error
	From    RetryState
	To      RetryState
	Delay   time.Duration
	Attempt int
}

// ScheduleFunc arranges for attempt next to run after delay.
type ScheduleFunc func(ctx context.Context, next int, delay time.Duration) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Retrier retries a whole job a bounded number of times with a fixed backoff.
// It knows nothing about per-recipient state.
type Retrier struct {
	log        *slog.Logger
	observe    func(Transition)
	sleep      Sleeper
	maxRetries int
	backoff    time.Duration
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithRetryLogger sets the logger for transitions and terminal failures.
func WithRetryLogger(l *slog.Logger) RetrierOption {
	return func(r *Retrier) {
		if l != nil {
			r.log = l
		}
	}
}

// WithObserver receives every state transition.
func WithObserver(fn func(Transition)) RetrierOption {
	return func(r *Retrier) { r.observe = fn }
}

// WithRetrySleeper replaces the wait used by RunInline.
func WithRetrySleeper(s Sleeper) RetrierOption {
	return func(r *Retrier) {
		if s != nil {
			r.sleep = s
		}
	}
}

// NewRetrier uses cfg.MaxRetries and cfg.RetryBackoff.
func NewRetrier(cfg Config, opts ...RetrierOption) *Retrier {
	cfg = cfg.withDefaults()
	r := &Retrier{
		log:        logger.NewNope(),
		sleep:      sleepContext,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxAttempts is the retry budget plus the first attempt.
func (r *Retrier) MaxAttempts() int { return r.maxRetries + 1 }

// Run executes attempt (1-based) of a job. When fn fails and retries remain,
// schedule is asked to run the next attempt after the backoff and Run reports
// retry_scheduled with a nil error: the current attempt is finished. Exhaustion
// is logged at error level and returned wrapped in ErrRetriesExhausted.
func (r *Retrier) Run(ctx context.Context, attempt int, fn func(context.Context) error, schedule ScheduleFunc) (RetryState, error) {
	if attempt < 1 {
		attempt = 1
	}
	err := r.attempt(ctx, attempt, fn)
	if err == nil {
		return StateDone, nil
	}

	if !r.retryable(attempt, err) {
		return r.fail(ctx, attempt, err)
	}

	// The retry must be stored even when shutdown cancelled this attempt.
	if schedErr := schedule(context.WithoutCancel(ctx), attempt+1, r.backoff); schedErr != nil {
		return r.fail(ctx, attempt, errors.Join(err, fmt.Errorf("dispatch: schedule retry: %w", schedErr)))
	}
	r.transition(ctx, Transition{From: StateRunning, To: StateRetryScheduled, Attempt: attempt, Delay: r.backoff, Err: err})
	return StateRetryScheduled, nil
}

// RunInline runs every attempt in the calling goroutine, sleeping the backoff
// between them. Used when no job queue is available.
func (r *Retrier) RunInline(ctx context.Context, fn func(context.Context) error) (RetryState, error) {
	for attempt := 1; ; attempt++ {
		err := r.attempt(ctx, attempt, fn)
		if err == nil {
			return StateDone, nil
		}
		if !r.retryable(attempt, err) {
			return r.fail(ctx, attempt, err)
		}
		if ctx.Err() != nil {
			return r.fail(ctx, attempt, Permanent(err))
		}

		r.transition(ctx, Transition{From: StateRunning, To: StateRetryScheduled, Attempt: attempt, Delay: r.backoff, Err: err})
		if serr := r.sleep(ctx, r.backoff); serr != nil {
			return r.fail(ctx, attempt, errors.Join(err, serr))
		}
	}
}

// attempt runs fn once. A panic is turned into an ordinary failure so that it
// is retried like any other job error.
func (r *Retrier) attempt(ctx context.Context, attempt int, fn func(context.Context) error) (err error) {
	ctx = withAttempt(ctx, attempt)
	from := StatePending
	if attempt > 1 {
		from = StateRetryScheduled
	}
	r.transition(ctx, Transition{From: from, To: StateRunning, Attempt: attempt})

	defer func() {
		if p := recover(); p != nil {
			r.log.ErrorContext(ctx, "job panicked",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrJobPanic, p)
		}
	}()

	if err := fn(ctx); err != nil {
		return err
	}
	r.transition(ctx, Transition{From: StateRunning, To: StateDone, Attempt: attempt})
	return nil
}

func (r *Retrier) retryable(attempt int, err error) bool {
	return attempt <= r.maxRetries && !IsPermanent(err)
}

func (r *Retrier) fail(ctx context.Context, attempt int, err error) (RetryState, error) {
	ctx = withAttempt(ctx, attempt)
	r.transition(ctx, Transition{From: StateRunning, To: StateFailedTerminal, Attempt: attempt, Err: err})
	if IsPermanent(err) {
		r.log.ErrorContext(ctx, "job failed permanently", slog.Any("error", err))
		return StateFailedTerminal, err
	}
	r.log.ErrorContext(ctx, "job failed after all retries",
		slog.Int("attempts", attempt),
		slog.Any("error", err),
	)
	return StateFailedTerminal, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
}

func (r *Retrier) transition(ctx context.Context, t Transition) {
	attrs := []any{
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
	}
	if t.To == StateRetryScheduled {
		r.log.WarnContext(ctx, "job attempt failed, retry scheduled",
			append(attrs, slog.Duration("delay", t.Delay), slog.Any("error", t.Err))...)
	} else {
		r.log.DebugContext(ctx, "job state changed", attrs...)
	}
	if r.observe != nil {
		r.observe(t)
	}
}
