// Package job runs background tasks on River, a Postgres-native queue.
//
// Tasks are plain structs with Name() and Handle(ctx, payload) methods; the
// payload type is inferred from Handle, so task packages do not import any
// interface from here:
//
//	type SendNewsletter struct{ d *dispatch.Dispatcher }
//
//	func (t *SendNewsletter) Name() string { return "send_newsletter" }
//	func (t *SendNewsletter) Handle(ctx context.Context, p SendNewsletterPayload) error { ... }
//
//	m, err := job.NewManager(pool,
//	    job.WithTask(tasks.NewSendNewsletter(d)),
//	    job.WithScheduledTask(tasks.NewDispatchDue(repo, m)),
//	    job.WithLogger(log),
//	)
//
// All tasks share a single River job kind. The payload travels as raw JSON
// and is decoded by the registered task. Processes that only enqueue (the
// admin API, the CLI) use an Enqueuer, which never starts workers.
//
// Deduplication: when UniqueFor is given, two jobs with the same task name and
// unique key inside the window collapse into one. Without an explicit
// UniqueKey the key is derived from the payload.
//
// Retries are left to the caller: tasks that implement their own retry policy
// enqueue with MaxAttempts(1) and re-enqueue with ScheduledIn on failure.
// TaskFromContext exposes the running task's name, job id and River attempt
// to handlers and log extractors.
//
// River's schema is installed with Migrate.
package job
