// Package dispatch sends a published newsletter to every eligible recipient
// in batches, records one ledger entry per recipient and can be re-run
// safely after a partial failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hybridprotocol/newsletter/internal/lock"
	"github.com/hybridprotocol/newsletter/internal/newsletter"
	"github.com/hybridprotocol/newsletter/pkg/cache"
	"github.com/hybridprotocol/newsletter/pkg/logger"
	"github.com/hybridprotocol/newsletter/pkg/mailer"
)

var (
	ErrInvalidTestEmail = errors.New("dispatch: invalid test email")
	ErrTestSendFailed   = errors.New("dispatch: test send failed")
	ErrNoProgress       = errors.New("dispatch: no progress recorded")
)

// Status tells how a Dispatch call ended.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusNotFound    Status = "not_found"
	StatusAlreadySent Status = "already_sent"
	// StatusInProgress means another worker holds the send key.
	StatusInProgress Status = "in_progress"
)

// Result aggregates one Dispatch call. Skipped counts recipients that
// already had a ledger entry.
type Result struct {
	Status  Status `json:"status"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Batches int    `json:"batches"`
	Total   int    `json:"total"`
}

// Renderer turns newsletter content into the final HTML and text parts.
type Renderer interface {
	Render(layout string, c mailer.Content) (*mailer.RenderResult, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deps are the collaborators a Dispatcher cannot run without.
type Deps struct {
	Newsletters newsletter.NewsletterStore
	Recipients  newsletter.RecipientStore
	Ledger      newsletter.Ledger
	Sender      mailer.Sender
	Renderer    Renderer
	Links       *Links
}

// Dispatcher runs bulk and test sends.
type Dispatcher struct {
	newsletters newsletter.NewsletterStore
	recipients  newsletter.RecipientStore
	ledger      newsletter.Ledger
	sender      mailer.Sender
	renderer    Renderer
	links       *Links
	locker      lock.Locker
	progress    cache.Cache[Progress]
	limiter     *rate.Limiter
	sleep       Sleeper
	now         func() time.Time
	log         *slog.Logger
	mail        mailer.Config
	cfg         Config
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithSleeper replaces the inter-batch wait.
func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.sleep = s
		}
	}
}

// WithClock replaces time.Now for ledger timestamps, sent_at and lock upkeep.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLocker shares the per-send-key lock across processes. Default: in-process.
func WithLocker(l lock.Locker) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.locker = l
		}
	}
}

// WithProgress stores a snapshot after every batch. Default: disabled.
func WithProgress(c cache.Cache[Progress]) Option {
	return func(d *Dispatcher) { d.progress = c }
}

// WithLimiter paces provider calls, overriding Config.RateLimit.
func WithLimiter(l *rate.Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// New creates a Dispatcher. The sender is constructed once by the process
// and shared by every dispatch.
func New(cfg Config, mailCfg mailer.Config, deps Deps, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	if mailCfg.Layout == "" {
		mailCfg.Layout = "newsletter.html"
	}

	d := &Dispatcher{
		newsletters: deps.Newsletters,
		recipients:  deps.Recipients,
		ledger:      deps.Ledger,
		sender:      deps.Sender,
		renderer:    deps.Renderer,
		links:       deps.Links,
		locker:      lock.NewMemory(),
		sleep:       sleepContext,
		now:         time.Now,
		log:         logger.NewNope(),
		mail:        mailCfg,
		cfg:         cfg,
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

// Dispatch sends the newsletter identified by sendKey to every eligible
// recipient without a ledger entry, batchSize recipients at a time, then
// marks it sent. Unknown, already sent and concurrently running send keys end
// without error. Storage and render failures are returned; per-recipient
// transport failures are recorded and do not stop the run.
func (d *Dispatcher) Dispatch(ctx context.Context, sendKey string, batchSize int) (Result, error) {
	ctx = WithSendKey(ctx, sendKey)

	lk, err := d.locker.Acquire(ctx, "dispatch:"+sendKey, d.cfg.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		d.log.InfoContext(ctx, "dispatch already running")
		return Result{Status: StatusInProgress}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: acquire lock: %w", err)
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			d.log.WarnContext(ctx, "failed to release dispatch lock", slog.Any("error", err))
		}
	}()

	n, err := d.newsletters.BySendKey(ctx, sendKey)
	switch {
	case errors.Is(err, newsletter.ErrNewsletterNotFound):
		d.log.WarnContext(ctx, "newsletter not found")
		return Result{Status: StatusNotFound}, nil
	case err != nil:
		return Result{}, fmt.Errorf("dispatch: load newsletter: %w", err)
	case n.Sent():
		d.log.InfoContext(ctx, "newsletter already sent", slog.Time("sent_at", *n.SentAt))
		return Result{Status: StatusAlreadySent}, nil
	}

	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}
	return d.run(ctx, n, batchSize, lk)
}

func (d *Dispatcher) run(ctx context.Context, n newsletter.Newsletter, batchSize int, lk lock.Lock) (Result, error) {
	recipients, err := d.recipients.Eligible(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: select recipients: %w", err)
	}

	base, err := d.render(n, Placeholder)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: render: %w", err)
	}

	batches := chunk(recipients, batchSize)
	res := Result{Status: StatusCompleted, Total: len(recipients)}
	progress := func(state ProgressState, cause error) {
		d.saveProgress(ctx, n, res, len(batches), state, cause)
	}

	d.log.InfoContext(ctx, "dispatch started",
		slog.Int64("newsletter_id", n.ID),
		slog.Int("recipients", len(recipients)),
		slog.Int("batches", len(batches)),
		slog.Int("batch_size", batchSize),
	)
	progress(ProgressRunning, nil)

	hold := &lease{lock: lk, ttl: d.cfg.LockTTL, now: d.now, last: d.now(), log: d.log}
	for i, batch := range batches {
		if i > 0 {
			if err := d.sleep(ctx, d.cfg.BatchDelay); err != nil {
				err = fmt.Errorf("dispatch: interrupted: %w", err)
				progress(ProgressFailed, err)
				return res, err
			}
		}

		if err := d.sendBatch(ctx, n, batch, base, &res, hold); err != nil {
			progress(ProgressFailed, err)
			return res, err
		}
		res.Batches++

		d.log.InfoContext(ctx, "batch processed",
			slog.Int("batch", i+1),
			slog.Int("of", len(batches)),
			slog.Int("sent", res.Sent),
			slog.Int("failed", res.Failed),
			slog.Int("skipped", res.Skipped),
		)
		progress(ProgressRunning, nil)

		if err := hold.keep(ctx, true); err != nil {
			progress(ProgressFailed, err)
			return res, err
		}
	}

	if err := d.newsletters.MarkSent(ctx, n.ID, d.now()); err != nil {
		if !errors.Is(err, newsletter.ErrAlreadySent) {
			err = fmt.Errorf("dispatch: mark sent: %w", err)
			progress(ProgressFailed, err)
			return res, err
		}
		d.log.WarnContext(ctx, "newsletter was marked sent concurrently")
	}
	progress(ProgressCompleted, nil)

	d.log.InfoContext(ctx, "newsletter sent",
		slog.Int64("newsletter_id", n.ID),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Int("batches", res.Batches),
	)
	return res, nil
}

func (d *Dispatcher) sendBatch(ctx context.Context, n newsletter.Newsletter, batch []newsletter.Recipient, base *mailer.RenderResult, res *Result, hold *lease) error {
	ids := make([]int64, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}
	recorded, err := d.ledger.Recorded(ctx, n.ID, ids)
	if err != nil {
		return fmt.Errorf("dispatch: read ledger: %w", err)
	}

	for _, r := range batch {
		if _, ok := recorded[r.ID]; ok {
			res.Skipped++
			continue
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch: interrupted: %w", err)
		}
		// A paced batch can outlast the lock TTL.
		if err := hold.keep(ctx, false); err != nil {
			return err
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("dispatch: interrupted: %w", err)
			}
		}

		unsubscribe := d.links.Unsubscribe(r.ID)
		out := d.deliver(ctx, d.personalize(n, r, base, unsubscribe))

		// A call cut short by shutdown is not a delivery failure; the
		// recipient stays unrecorded so the retry picks it up.
		if out.Status() == newsletter.StatusFailed && ctx.Err() != nil {
			return fmt.Errorf("dispatch: interrupted: %w", ctx.Err())
		}

		// Record even if ctx was cancelled after the provider accepted the message.
		entry := out.Entry(n.ID, r.ID, d.now())
		if err := d.ledger.Append(context.WithoutCancel(ctx), entry); err != nil {
			if errors.Is(err, newsletter.ErrEntryExists) {
				d.log.WarnContext(ctx, "delivery recorded concurrently", slog.Int64("recipient_id", r.ID))
				res.Skipped++
				continue
			}
			return fmt.Errorf("dispatch: append ledger: %w", err)
		}

		switch out.Status() {
		case newsletter.StatusSent:
			res.Sent++
		case newsletter.StatusFailed:
			res.Failed++
			d.log.WarnContext(ctx, "delivery failed",
				slog.Int64("recipient_id", r.ID),
				slog.String("reason", out.Reason()),
			)
		}
	}
	return nil
}

// lease keeps the dispatch lock alive for the length of a run.
type lease struct {
	lock lock.Lock
	now  func() time.Time
	last time.Time
	log  *slog.Logger
	ttl  time.Duration
}

// keep refreshes the lock when force is set or a third of the TTL has passed
// since the last refresh. Losing the lock is an error; other refresh failures
// are logged and retried on the next call.
func (l *lease) keep(ctx context.Context, force bool) error {
	if !force && l.now().Sub(l.last) < l.ttl/3 {
		return nil
	}
	if err := l.lock.Refresh(ctx, l.ttl); err != nil {
		if errors.Is(err, lock.ErrNotHeld) {
			return fmt.Errorf("dispatch: lost lock: %w", err)
		}
		l.log.WarnContext(ctx, "failed to refresh dispatch lock", slog.Any("error", err))
		return nil
	}
	l.last = l.now()
	return nil
}

// deliver calls the provider once. Errors and panics become failed outcomes.
func (d *Dispatcher) deliver(ctx context.Context, email *mailer.Email) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = Failed(fmt.Sprintf("provider panic: %v", p))
		}
	}()

	msgID, err := d.sender.Send(ctx, email)
	switch {
	case err != nil:
		return Failed(err.Error())
	case msgID == "":
		return Failed("provider returned no message id")
	}
	return Sent(msgID)
}

func (d *Dispatcher) render(n newsletter.Newsletter, unsubscribeURL string) (*mailer.RenderResult, error) {
	return d.renderer.Render(d.mail.Layout, mailer.Content{
		Subject:        n.Subject,
		Preheader:      n.Preheader,
		Body:           n.Body,
		ViewURL:        d.links.View(n.Slug),
		UnsubscribeURL: unsubscribeURL,
		Year:           d.now().Year(),
	})
}

func (d *Dispatcher) personalize(n newsletter.Newsletter, r newsletter.Recipient, base *mailer.RenderResult, unsubscribe string) *mailer.Email {
	return &mailer.Email{
		To:      r.Email,
		From:    d.mail.From,
		ReplyTo: d.mail.ReplyTo,
		Subject: n.Subject,
		HTML:    strings.ReplaceAll(base.HTML, Placeholder, html.EscapeString(unsubscribe)),
		Text:    strings.ReplaceAll(base.Text, Placeholder, unsubscribe),
		Headers: listUnsubscribe(unsubscribe),
		Tags:    mailer.Tags{"newsletter_id": strconv.FormatInt(n.ID, 10)},
	}
}

// listUnsubscribe returns RFC 8058 one-click unsubscribe headers.
func listUnsubscribe(u string) map[string]string {
	return map[string]string{
		"List-Unsubscribe":      "<" + u + ">",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}

// SendTest renders the newsletter with a real unsubscribe link and sends it
// once to email with a test subject prefix. The ledger and sent_at are never
// touched. The test recipient is created on first use. Unknown newsletters
// are logged and ignored; transport failures are returned.
func (d *Dispatcher) SendTest(ctx context.Context, newsletterID int64, email string) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return errors.Join(ErrInvalidTestEmail, err)
	}

	n, err := d.newsletters.ByID(ctx, newsletterID)
	if errors.Is(err, newsletter.ErrNewsletterNotFound) {
		d.log.WarnContext(ctx, "test send for unknown newsletter", slog.Int64("newsletter_id", newsletterID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("dispatch: load newsletter: %w", err)
	}
	ctx = WithSendKey(ctx, n.SendKey)

	r, err := d.recipients.FindOrCreate(ctx, newsletter.Recipient{
		Email:        newsletter.NormalizeEmail(addr.Address),
		FirstName:    newsletter.TestFirstName,
		LastName:     newsletter.TestLastName,
		Source:       newsletter.TestSource,
		IsSubscribed: true,
		IsActive:     true,
	})
	if err != nil {
		return fmt.Errorf("dispatch: test recipient: %w", err)
	}

	unsubscribe := d.links.Unsubscribe(r.ID)
	rendered, err := d.render(n, unsubscribe)
	if err != nil {
		return fmt.Errorf("dispatch: render: %w", err)
	}

	out := d.deliver(ctx, &mailer.Email{
		To:      r.Email,
		From:    d.mail.From,
		ReplyTo: d.mail.ReplyTo,
		Subject: d.cfg.TestSubjectPrefix + n.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
		Headers: listUnsubscribe(unsubscribe),
		Tags:    mailer.Tags{"newsletter_id": strconv.FormatInt(n.ID, 10), "test": struct{}{}},
	})
	if out.Status() == newsletter.StatusFailed {
		return fmt.Errorf("%w: %s", ErrTestSendFailed, out.Reason())
	}

	d.log.InfoContext(ctx, "test newsletter sent",
		slog.Int64("newsletter_id", n.ID),
		slog.String("to", r.Email),
		slog.String("message_id", out.MessageID()),
	)
	return nil
}

// Progress returns the last snapshot stored for sendKey.
func (d *Dispatcher) Progress(ctx context.Context, sendKey string) (Progress, error) {
	if d.progress == nil {
		return Progress{}, ErrNoProgress
	}
	p, err := d.progress.Get(ctx, sendKey)
	if errors.Is(err, cache.ErrNotFound) {
		return Progress{}, ErrNoProgress
	}
	return p, err
}

func (d *Dispatcher) saveProgress(ctx context.Context, n newsletter.Newsletter, res Result, totalBatches int, state ProgressState, cause error) {
	if d.progress == nil {
		return
	}
	p := Progress{
		UpdatedAt:    d.now(),
		SendKey:      n.SendKey,
		State:        state,
		NewsletterID: n.ID,
		Total:        res.Total,
		Sent:         res.Sent,
		Failed:       res.Failed,
		Skipped:      res.Skipped,
		Batches:      res.Batches,
		TotalBatches: totalBatches,
	}
	if cause != nil {
		p.Error = cause.Error()
	}
	if err := d.progress.Set(context.WithoutCancel(ctx), n.SendKey, p, d.cfg.ProgressTTL); err != nil {
		d.log.WarnContext(ctx, "failed to store progress", slog.Any("error", err))
	}
}

// chunk splits s into consecutive slices of at most size elements.
func chunk[T any](s []T, size int) [][]T {
	if size <= 0 || len(s) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(s)+size-1)/size)
	for size < len(s) {
		out = append(out, s[:size:size])
		s = s[size:]
	}
	return append(out, s)
}
