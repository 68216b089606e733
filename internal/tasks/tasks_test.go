package tasks_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hybridprotocol/newsletter/internal/dispatch"
	"github.com/hybridprotocol/newsletter/internal/newsletter"
	"github.com/hybridprotocol/newsletter/internal/repository/memory"
	"github.com/hybridprotocol/newsletter/internal/tasks"
	"github.com/hybridprotocol/newsletter/pkg/job"
	"github.com/hybridprotocol/newsletter/pkg/logger"
)

var discard = logger.NewNope()

type enqueued struct {
	name    string
	payload any
	opts    int
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, name string, payload any, opts ...job.EnqueueOption) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, enqueued{name: name, payload: payload, opts: len(opts)})
	return nil
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, sendKey string, batchSize int) (dispatch.Result, error) {
	args := m.Called(ctx, sendKey, batchSize)
	return args.Get(0).(dispatch.Result), args.Error(1)
}

func (m *mockDispatcher) SendTest(ctx context.Context, newsletterID int64, email string) error {
	return m.Called(ctx, newsletterID, email).Error(0)
}

func retrier(retries int) *dispatch.Retrier {
	cfg := dispatch.DefaultConfig()
	cfg.MaxRetries = retries
	return dispatch.NewRetrier(cfg)
}

func TestSendNewsletterTask(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		d := &mockDispatcher{}
		d.On("Dispatch", mock.Anything, "abc123", 0).
			Return(dispatch.Result{Status: dispatch.StatusCompleted, Sent: 3}, nil).Once()
		e := &recordingEnqueuer{}

		task := tasks.NewSendNewsletterTask(d, retrier(3), e, nil, discard)
		assert.Equal(t, tasks.SendNewsletter, task.Name())
		require.NoError(t, task.Handle(context.Background(), tasks.SendNewsletterPayload{SendKey: "abc123"}))
		assert.Empty(t, e.jobs)
		d.AssertExpectations(t)
	})

	t.Run("failure schedules retry", func(t *testing.T) {
		t.Parallel()
		d := &mockDispatcher{}
		d.On("Dispatch", mock.Anything, "abc123", 50).Return(dispatch.Result{}, errors.New("db down")).Once()
		e := &recordingEnqueuer{}

		task := tasks.NewSendNewsletterTask(d, retrier(3), e, nil, discard)
		err := task.Handle(context.Background(), tasks.SendNewsletterPayload{SendKey: "abc123", BatchSize: 50, Attempt: 1})
		require.NoError(t, err)

		require.Len(t, e.jobs, 1)
		assert.Equal(t, tasks.SendNewsletter, e.jobs[0].name)
		assert.Equal(t, tasks.SendNewsletterPayload{SendKey: "abc123", BatchSize: 50, Attempt: 2}, e.jobs[0].payload)
	})

	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()
		d := &mockDispatcher{}
		d.On("Dispatch", mock.Anything, "abc123", 0).Return(dispatch.Result{}, errors.New("db down")).Once()
		e := &recordingEnqueuer{}

		task := tasks.NewSendNewsletterTask(d, retrier(3), e, nil, discard)
		err := task.Handle(context.Background(), tasks.SendNewsletterPayload{SendKey: "abc123", Attempt: 4})
		require.ErrorIs(t, err, dispatch.ErrRetriesExhausted)
		assert.Empty(t, e.jobs)
	})

	t.Run("panic schedules retry", func(t *testing.T) {
		t.Parallel()
		d := &mockDispatcher{}
		d.On("Dispatch", mock.Anything, "abc123", 0).
			Run(func(mock.Arguments) { panic("render blew up") }).
			Return(dispatch.Result{}, nil).Once()
		e := &recordingEnqueuer{}

		task := tasks.NewSendNewsletterTask(d, retrier(3), e, nil, discard)
		require.NotPanics(t, func() {
			require.NoError(t, task.Handle(context.Background(), tasks.SendNewsletterPayload{SendKey: "abc123", Attempt: 1}))
		})
		require.Len(t, e.jobs, 1)
		assert.Equal(t, tasks.SendNewsletterPayload{SendKey: "abc123", Attempt: 2}, e.jobs[0].payload)
	})

	t.Run("missing send key", func(t *testing.T) {
		t.Parallel()
		task := tasks.NewSendNewsletterTask(&mockDispatcher{}, retrier(3), &recordingEnqueuer{}, nil, discard)
		require.ErrorIs(t, task.Handle(context.Background(), tasks.SendNewsletterPayload{}), job.ErrInvalidPayload)
	})
}

func TestSendTestTask(t *testing.T) {
	t.Parallel()

	t.Run("transport failure retries", func(t *testing.T) {
		t.Parallel()
		d := &mockDispatcher{}
		d.On("SendTest", mock.Anything, int64(7), "qa@example.com").Return(dispatch.ErrTestSendFailed).Once()
		e := &recordingEnqueuer{}

		task := tasks.NewSendTestTask(d, retrier(3), e)
		require.NoError(t, task.Handle(context.Background(), tasks.SendTestPayload{NewsletterID: 7, Email: "qa@example.com"}))
		require.Len(t, e.jobs, 1)
		assert.Equal(t, tasks.SendTestNewsletter, e.jobs[0].name)
		assert.Equal(t, 2, e.jobs[0].payload.(tasks.SendTestPayload).Attempt)
	})

	t.Run("invalid email is permanent", func(t *testing.T) {
		t.Parallel()
		d := &mockDispatcher{}
		d.On("SendTest", mock.Anything, int64(7), "nope").Return(dispatch.ErrInvalidTestEmail).Once()
		e := &recordingEnqueuer{}

		task := tasks.NewSendTestTask(d, retrier(3), e)
		err := task.Handle(context.Background(), tasks.SendTestPayload{NewsletterID: 7, Email: "nope"})
		require.ErrorIs(t, err, dispatch.ErrInvalidTestEmail)
		assert.Empty(t, e.jobs)
	})

	t.Run("invalid payload", func(t *testing.T) {
		t.Parallel()
		task := tasks.NewSendTestTask(&mockDispatcher{}, retrier(3), &recordingEnqueuer{})
		require.ErrorIs(t, task.Handle(context.Background(), tasks.SendTestPayload{Email: "qa@example.com"}), job.ErrInvalidPayload)
	})
}

func TestDispatchDueTask(t *testing.T) {
	t.Parallel()

	store := memory.NewNewsletters()
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	store.Add(newsletter.Newsletter{SendKey: "due", ScheduledFor: &past})
	store.Add(newsletter.Newsletter{SendKey: "later", ScheduledFor: &future})
	store.Add(newsletter.Newsletter{SendKey: "manual"})
	sent := store.Add(newsletter.Newsletter{SendKey: "done", ScheduledFor: &past})
	require.NoError(t, store.MarkSent(context.Background(), sent.ID, now))

	e := &recordingEnqueuer{}
	task := tasks.NewDispatchDueTask(store, e, discard)
	assert.Equal(t, "* * * * *", task.Schedule())
	require.NoError(t, task.Handle(context.Background()))

	require.Len(t, e.jobs, 1)
	assert.Equal(t, tasks.SendNewsletterPayload{SendKey: "due", Attempt: 1}, e.jobs[0].payload)
}

func TestSendNewsletterTask_ExhaustedLeavesSchedule(t *testing.T) {
	t.Parallel()

	store := memory.NewNewsletters()
	past := time.Now().Add(-time.Minute)
	n := store.Add(newsletter.Newsletter{SendKey: "abc123", ScheduledFor: &past})

	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, "abc123", 0).Return(dispatch.Result{}, errors.New("db down"))
	e := &recordingEnqueuer{}

	send := tasks.NewSendNewsletterTask(d, retrier(3), e, store, discard)
	err := send.Handle(context.Background(), tasks.SendNewsletterPayload{SendKey: "abc123", Attempt: 4})
	require.ErrorIs(t, err, dispatch.ErrRetriesExhausted)

	got, err := store.ByID(context.Background(), n.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DispatchFailedAt)
	assert.False(t, got.Sent())

	due := tasks.NewDispatchDueTask(store, e, discard)
	for range 3 {
		require.NoError(t, due.Handle(context.Background()))
	}
	assert.Empty(t, e.jobs, "an exhausted send is not picked up again")
}

func TestSendNewsletterTask_RetryKeepsSchedule(t *testing.T) {
	t.Parallel()

	store := memory.NewNewsletters()
	past := time.Now().Add(-time.Minute)
	n := store.Add(newsletter.Newsletter{SendKey: "abc123", ScheduledFor: &past})

	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, "abc123", 0).Return(dispatch.Result{}, errors.New("db down")).Once()

	send := tasks.NewSendNewsletterTask(d, retrier(3), &recordingEnqueuer{}, store, discard)
	require.NoError(t, send.Handle(context.Background(), tasks.SendNewsletterPayload{SendKey: "abc123", Attempt: 1}))

	got, err := store.ByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DispatchFailedAt)
}

func TestDispatchDueTask_EnqueueError(t *testing.T) {
	t.Parallel()

	store := memory.NewNewsletters()
	past := time.Now().Add(-time.Minute)
	store.Add(newsletter.Newsletter{SendKey: "due", ScheduledFor: &past})

	task := tasks.NewDispatchDueTask(store, &recordingEnqueuer{err: errors.New("queue down")}, discard)
	require.Error(t, task.Handle(context.Background()))
}

func TestEnqueueSend_Validation(t *testing.T) {
	t.Parallel()

	e := &recordingEnqueuer{}
	require.ErrorIs(t, tasks.EnqueueSend(context.Background(), e, tasks.SendNewsletterPayload{}), job.ErrInvalidPayload)
	require.ErrorIs(t, tasks.EnqueueTest(context.Background(), e, tasks.SendTestPayload{NewsletterID: 1}), job.ErrInvalidPayload)

	require.NoError(t, tasks.EnqueueSend(context.Background(), e, tasks.SendNewsletterPayload{SendKey: "k"}))
	require.Len(t, e.jobs, 1)
	assert.Equal(t, 4, e.jobs[0].opts)
	assert.Equal(t, 1, e.jobs[0].payload.(tasks.SendNewsletterPayload).Attempt)
}

func TestInQueue(t *testing.T) {
	t.Parallel()

	e := &recordingEnqueuer{}
	assert.Same(t, e, tasks.InQueue(e, ""))

	q := tasks.InQueue(e, "newsletter")
	require.NoError(t, tasks.EnqueueSend(context.Background(), q, tasks.SendNewsletterPayload{SendKey: "k"}))
	require.Len(t, e.jobs, 1)
	assert.Equal(t, 5, e.jobs[0].opts)
}
