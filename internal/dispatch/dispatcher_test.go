package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/internal/lock"
	"github.com/hybridprotocol/newsletter/internal/newsletter"
	"github.com/hybridprotocol/newsletter/internal/repository/memory"
	"github.com/hybridprotocol/newsletter/pkg/cache"
	"github.com/hybridprotocol/newsletter/pkg/mailer"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	testLayout = `<html><body><span>{{.Preheader}}</span>{{.Content}}
<a href="{{.ViewURL}}">View</a> <a href="{{.UnsubscribeURL}}">Unsubscribe</a> {{.Year}}</body></html>`
)

// recordingSender accepts every message unless told otherwise.
type recordingSender struct {
	mu      sync.Mutex
	sent    []*mailer.Email
	fail    map[string]error
	panics  map[string]bool
	emptyID map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		fail:    map[string]error{},
		panics:  map[string]bool{},
		emptyID: map[string]bool{},
	}
}

func (s *recordingSender) Send(_ context.Context, e *mailer.Email) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.panics[e.To] {
		panic("provider exploded")
	}
	if err := s.fail[e.To]; err != nil {
		return "", err
	}
	s.sent = append(s.sent, e)
	if s.emptyID[e.To] {
		return "", nil
	}
	return fmt.Sprintf("msg-%d", len(s.sent)), nil
}

func (s *recordingSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, e := range s.sent {
		out[i] = e.To
	}
	return out
}

type fixture struct {
	newsletters *memory.Newsletters
	recipients  *memory.Recipients
	ledger      *memory.Ledger
	sender      *recordingSender
	links       *dispatch.Links
	renderer    *mailer.Renderer

	mu     sync.Mutex
	sleeps []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	links, err := dispatch.NewLinks(dispatch.LinkConfig{
		BaseURL:           "https://api.example.com",
		PublicFrontendURL: "https://example.com",
		ViewPath:          "newsletter",
		UnsubscribeSecret: testSecret,
	})
	require.NoError(t, err)

	return &fixture{
		newsletters: memory.NewNewsletters(),
		recipients:  memory.NewRecipients(),
		ledger:      memory.NewLedger(),
		sender:      newRecordingSender(),
		links:       links,
		renderer: mailer.NewRenderer(fstest.MapFS{
			"layouts/newsletter.html": &fstest.MapFile{Data: []byte(testLayout)},
		}),
	}
}

func (f *fixture) sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	return nil
}

func (f *fixture) sleepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sleeps)
}

func (f *fixture) dispatcher(ledger newsletter.Ledger, opts ...dispatch.Option) *dispatch.Dispatcher {
	if ledger == nil {
		ledger = f.ledger
	}
	cfg := dispatch.DefaultConfig()
	cfg.BatchDelay = time.Second
	return dispatch.New(cfg, mailer.Config{From: "news@example.com", ReplyTo: "hello@example.com"}, dispatch.Deps{
		Newsletters: f.newsletters,
		Recipients:  f.recipients,
		Ledger:      ledger,
		Sender:      f.sender,
		Renderer:    f.renderer,
		Links:       f.links,
	}, append([]dispatch.Option{dispatch.WithSleeper(f.sleep)}, opts...)...)
}

func (f *fixture) addNewsletter(sendKey string) newsletter.Newsletter {
	return f.newsletters.Add(newsletter.Newsletter{
		SendKey:   sendKey,
		Slug:      "issue-" + sendKey,
		Subject:   "Issue " + sendKey,
		Preheader: "This week",
		Body:      "Hello **readers**.",
	})
}

func (f *fixture) addRecipients(n int) []newsletter.Recipient {
	out := make([]newsletter.Recipient, n)
	for i := range n {
		out[i] = f.recipients.Add(newsletter.Recipient{
			Email:        fmt.Sprintf("reader%d@example.com", i+1),
			IsSubscribed: true,
			IsActive:     true,
		})
	}
	return out
}

// flakyLedger fails Recorded on the given call number.
type flakyLedger struct {
	newsletter.Ledger
	mu     sync.Mutex
	calls  int
	failOn int
}

func (l *flakyLedger) Recorded(ctx context.Context, nid int64, ids []int64) (map[int64]struct{}, error) {
	l.mu.Lock()
	l.calls++
	fail := l.calls == l.failOn
	l.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return l.Ledger.Recorded(ctx, nid, ids)
}

func TestDispatch_ThreeRecipientsTwoBatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("abc123")
	f.addRecipients(3)

	res, err := f.dispatcher(nil).Dispatch(context.Background(), "abc123", 2)
	require.NoError(t, err)

	assert.Equal(t, dispatch.Result{Status: dispatch.StatusCompleted, Sent: 3, Failed: 0, Batches: 2, Total: 3}, res)
	assert.Len(t, f.sender.recipients(), 3)
	assert.Equal(t, []time.Duration{time.Second}, f.sleeps)

	stats, err := f.ledger.Stats(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, newsletter.DeliveryStats{Sent: 3}, stats)

	got, err := f.newsletters.BySendKey(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, got.Sent())
}

func TestDispatch_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addNewsletter("weekly")
	f.addRecipients(4)
	d := f.dispatcher(nil)

	_, err := d.Dispatch(context.Background(), "weekly", 2)
	require.NoError(t, err)
	calls, entries := len(f.sender.recipients()), f.ledger.Len()

	res, err := d.Dispatch(context.Background(), "weekly", 2)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusAlreadySent, res.Status)
	assert.Len(t, f.sender.recipients(), calls)
	assert.Equal(t, entries, f.ledger.Len())
}

func TestDispatch_ResumesAfterCrash(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("resume")
	f.addRecipients(5)

	flaky := &flakyLedger{Ledger: f.ledger, failOn: 2}
	d := f.dispatcher(flaky)

	res, err := d.Dispatch(context.Background(), "resume", 2)
	require.Error(t, err)
	assert.Equal(t, 2, res.Sent)

	got, err := f.newsletters.ByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, got.Sent(), "sent_at must stay unset after a crash")

	res, err = d.Dispatch(context.Background(), "resume", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 2, res.Skipped)

	seen := map[string]int{}
	for _, to := range f.sender.recipients() {
		seen[to]++
	}
	assert.Len(t, seen, 5)
	for to, count := range seen {
		assert.Equal(t, 1, count, "recipient %s sent more than once", to)
	}
	assert.Equal(t, 5, f.ledger.Len())
}

func TestDispatch_PartialFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("partial")
	rs := f.addRecipients(5)
	f.sender.fail[rs[1].Email] = errors.New("mailbox unavailable")
	f.sender.panics[rs[2].Email] = true
	f.sender.emptyID[rs[3].Email] = true

	res, err := f.dispatcher(nil).Dispatch(context.Background(), "partial", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 3, res.Failed)

	entries, err := f.ledger.List(context.Background(), n.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, newsletter.StatusSent, entries[0].Status)
	assert.NotEmpty(t, entries[0].ProviderMessageID)

	assert.Equal(t, newsletter.StatusFailed, entries[1].Status)
	assert.Equal(t, "mailbox unavailable", entries[1].Error)
	assert.Empty(t, entries[1].ProviderMessageID)

	assert.Contains(t, entries[2].Error, "provider panic")
	assert.Equal(t, "provider returned no message id", entries[3].Error)
	assert.Equal(t, newsletter.StatusSent, entries[4].Status)

	got, err := f.newsletters.ByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, got.Sent())
}

func TestDispatch_BatchBoundaries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addNewsletter("batches")
	rs := f.addRecipients(5)

	res, err := f.dispatcher(nil).Dispatch(context.Background(), "batches", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 2, f.sleepCount())

	want := make([]string, len(rs))
	for i, r := range rs {
		want[i] = r.Email
	}
	assert.Equal(t, want, f.sender.recipients())
}

func TestDispatch_DefaultBatchSize(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addNewsletter("default")
	f.addRecipients(3)

	res, err := f.dispatcher(nil).Dispatch(context.Background(), "default", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Batches)
	assert.Zero(t, f.sleepCount())
}

func TestDispatch_SkipsIneligible(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addNewsletter("eligible")
	f.addRecipients(1)
	f.recipients.Add(newsletter.Recipient{Email: "gone@example.com", IsSubscribed: false, IsActive: true})
	f.recipients.Add(newsletter.Recipient{Email: "bounced@example.com", IsSubscribed: true, Bounced: true, IsActive: true})
	f.recipients.Add(newsletter.Recipient{Email: "inactive@example.com", IsSubscribed: true})

	res, err := f.dispatcher(nil).Dispatch(context.Background(), "eligible", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []string{"reader1@example.com"}, f.sender.recipients())
}

func TestDispatch_NoRecipients(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("empty")

	res, err := f.dispatcher(nil).Dispatch(context.Background(), "empty", 10)
	require.NoError(t, err)
	assert.Equal(t, dispatch.Result{Status: dispatch.StatusCompleted}, res)

	got, err := f.newsletters.ByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, got.Sent())
}

func TestDispatch_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addRecipients(2)

	res, err := f.dispatcher(nil).Dispatch(context.Background(), "missing", 10)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusNotFound, res.Status)
	assert.Empty(t, f.sender.recipients())
}

func TestDispatch_InProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addNewsletter("busy")
	f.addRecipients(2)

	locker := lock.NewMemory()
	held, err := locker.Acquire(context.Background(), "dispatch:busy", time.Minute)
	require.NoError(t, err)

	d := f.dispatcher(nil, dispatch.WithLocker(locker))
	res, err := d.Dispatch(context.Background(), "busy", 10)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusInProgress, res.Status)
	assert.Empty(t, f.sender.recipients())

	require.NoError(t, held.Release(context.Background()))
	res, err = d.Dispatch(context.Background(), "busy", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
}

func TestDispatch_PersonalizesUnsubscribe(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addNewsletter("links")
	rs := f.addRecipients(2)

	_, err := f.dispatcher(nil).Dispatch(context.Background(), "links", 10)
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 2)

	for i, e := range f.sender.sent {
		assert.NotContains(t, e.HTML, dispatch.Placeholder)
		assert.NotContains(t, e.Text, dispatch.Placeholder)
		assert.Contains(t, e.HTML, "https://example.com/newsletter/issue-links")
		assert.Equal(t, "news@example.com", e.From)
		assert.Equal(t, "hello@example.com", e.ReplyTo)
		assert.Equal(t, "Issue links", e.Subject)
		assert.Equal(t, "List-Unsubscribe=One-Click", e.Headers["List-Unsubscribe-Post"])

		raw := strings.Trim(e.Headers["List-Unsubscribe"], "<>")
		assert.Contains(t, e.HTML, raw)
		assert.Contains(t, e.Text, raw)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "/unsubscribe/", u.Path)

		rid, err := f.links.VerifyUnsubscribe(u.Query().Get("t"))
		require.NoError(t, err)
		assert.Equal(t, rs[i].ID, rid)
	}
}

// conflictLedger reports every append as already recorded by another worker.
type conflictLedger struct{ newsletter.Ledger }

func (conflictLedger) Append(context.Context, newsletter.DeliveryLogEntry) error {
	return newsletter.ErrEntryExists
}

func TestDispatch_ConcurrentEntryCountsAsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addNewsletter("race")
	f.addRecipients(2)

	res, err := f.dispatcher(conflictLedger{f.ledger}).Dispatch(context.Background(), "race", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Zero(t, res.Sent)
}

func TestDispatch_CancelledBetweenBatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("cancel")
	f.addRecipients(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := f.dispatcher(nil, dispatch.WithSleeper(stop)).Dispatch(ctx, "cancel", 2)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, res.Sent)

	got, err := f.newsletters.ByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, got.Sent())
}

func TestDispatch_RecordsProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("progress")
	f.addRecipients(3)

	store := cache.NewMemory[dispatch.Progress](cache.WithCleanupInterval(0))
	t.Cleanup(func() { _ = store.Close() })

	d := f.dispatcher(nil, dispatch.WithProgress(store))

	_, err := d.Progress(context.Background(), "progress")
	require.ErrorIs(t, err, dispatch.ErrNoProgress)

	_, err = d.Dispatch(context.Background(), "progress", 2)
	require.NoError(t, err)

	p, err := d.Progress(context.Background(), "progress")
	require.NoError(t, err)
	assert.Equal(t, dispatch.ProgressCompleted, p.State)
	assert.Equal(t, n.ID, p.NewsletterID)
	assert.Equal(t, 3, p.Sent)
	assert.Equal(t, 2, p.Batches)
	assert.Equal(t, 2, p.TotalBatches)
	assert.Equal(t, 3, p.Processed())
}

// refreshLocker counts refreshes and can report the lock as lost.
type refreshLocker struct {
	mu        sync.Mutex
	refreshes int
	loseAfter int
}

func (l *refreshLocker) Acquire(context.Context, string, time.Duration) (lock.Lock, error) {
	return l, nil
}

func (l *refreshLocker) Refresh(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	if l.loseAfter > 0 && l.refreshes >= l.loseAfter {
		return lock.ErrNotHeld
	}
	return nil
}

func (l *refreshLocker) Release(context.Context) error { return nil }

// steppingClock advances by step on every reading.
func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func TestDispatch_RefreshesLockWithinSlowBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addNewsletter("slow")
	f.addRecipients(6)

	locker := &refreshLocker{}
	d := f.dispatcher(nil, dispatch.WithLocker(locker), dispatch.WithClock(steppingClock(2*time.Minute)))

	res, err := d.Dispatch(context.Background(), "slow", 10)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Sent)
	assert.Equal(t, 1, res.Batches)
	assert.GreaterOrEqual(t, locker.refreshes, 6, "one batch spanning several lock TTL thirds")
}

func TestDispatch_LockLostWithinBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("lost")
	f.addRecipients(6)

	locker := &refreshLocker{loseAfter: 3}
	d := f.dispatcher(nil, dispatch.WithLocker(locker), dispatch.WithClock(steppingClock(2*time.Minute)))

	res, err := d.Dispatch(context.Background(), "lost", 10)
	require.ErrorIs(t, err, lock.ErrNotHeld)
	assert.Less(t, res.Sent, 6)
	assert.Len(t, f.sender.recipients(), res.Sent)

	got, err := f.newsletters.ByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, got.Sent())
}

func TestDispatch_ProgressWithoutStore(t *testing.T) {
	t.Parallel()

	_, err := newFixture(t).dispatcher(nil).Progress(context.Background(), "x")
	require.ErrorIs(t, err, dispatch.ErrNoProgress)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, e *mailer.Email) (string, error) {
	args := m.Called(ctx, e)
	return args.String(0), args.Error(1)
}

func (f *fixture) testDispatcher(s mailer.Sender) *dispatch.Dispatcher {
	return dispatch.New(dispatch.DefaultConfig(), mailer.Config{From: "news@example.com"}, dispatch.Deps{
		Newsletters: f.newsletters,
		Recipients:  f.recipients,
		Ledger:      f.ledger,
		Sender:      s,
		Renderer:    f.renderer,
		Links:       f.links,
	})
}

func TestSendTest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("preview")

	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.MatchedBy(func(e *mailer.Email) bool {
		return e.To == "editor@example.com" &&
			e.Subject == "[TEST] Issue preview" &&
			strings.Contains(e.HTML, "https://api.example.com/unsubscribe/?t=") &&
			!strings.Contains(e.HTML, dispatch.Placeholder)
	})).Return("msg-test", nil).Once()

	err := f.testDispatcher(sender).SendTest(context.Background(), n.ID, " Editor@Example.com ")
	require.NoError(t, err)
	sender.AssertExpectations(t)

	r, err := f.recipients.FindOrCreate(context.Background(), newsletter.Recipient{Email: "editor@example.com"})
	require.NoError(t, err)
	assert.Equal(t, newsletter.TestSource, r.Source)
	assert.Equal(t, newsletter.TestFirstName, r.FirstName)
	assert.Equal(t, newsletter.TestLastName, r.LastName)

	assert.Zero(t, f.ledger.Len())
	got, err := f.newsletters.ByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.False(t, got.Sent())
}

func TestSendTest_ReusesRecipient(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("again")

	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return("msg", nil).Twice()
	d := f.testDispatcher(sender)

	require.NoError(t, d.SendTest(context.Background(), n.ID, "qa@example.com"))
	require.NoError(t, d.SendTest(context.Background(), n.ID, "qa@example.com"))

	eligible, err := f.recipients.Eligible(context.Background())
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
	sender.AssertExpectations(t)
}

func TestSendTest_Errors(t *testing.T) {
	t.Parallel()

	t.Run("unknown newsletter", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sender := &mockSender{}
		require.NoError(t, f.testDispatcher(sender).SendTest(context.Background(), 42, "qa@example.com"))
		sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("invalid email", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		n := f.addNewsletter("bad")
		err := f.testDispatcher(&mockSender{}).SendTest(context.Background(), n.ID, "not-an-email")
		require.ErrorIs(t, err, dispatch.ErrInvalidTestEmail)
	})

	t.Run("transport failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		n := f.addNewsletter("down")
		sender := &mockSender{}
		sender.On("Send", mock.Anything, mock.Anything).Return("", errors.New("401 unauthorized"))

		err := f.testDispatcher(sender).SendTest(context.Background(), n.ID, "qa@example.com")
		require.ErrorIs(t, err, dispatch.ErrTestSendFailed)
		assert.Contains(t, err.Error(), "401 unauthorized")
		assert.Zero(t, f.ledger.Len())
	})
}

func TestSendTest_IndependentOfBulk(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.addNewsletter("indep")
	f.addRecipients(2)
	d := f.dispatcher(nil)

	require.NoError(t, d.SendTest(context.Background(), n.ID, "qa@example.com"))
	assert.Zero(t, f.ledger.Len())

	res, err := d.Dispatch(context.Background(), "indep", 10)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusCompleted, res.Status)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, res.Total, res.Sent)
}
