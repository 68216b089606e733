package job

import "time"

// enqueueConfig holds options for a single enqueue call.
type enqueueConfig struct {
	scheduledAt *time.Time
	queue       string
	uniqueKey   string
	tags        []string
	maxAttempts int
	uniqueFor   time.Duration
	priority    int
}

// EnqueueOption configures job enqueueing.
type EnqueueOption func(*enqueueConfig)

// InQueue puts the job on a named queue. Empty names are ignored.
func InQueue(name string) EnqueueOption {
	return func(c *enqueueConfig) {
		if name != "" {
			c.queue = name
		}
	}
}

// ScheduledAt delays the job until t.
func ScheduledAt(t time.Time) EnqueueOption {
	return func(c *enqueueConfig) {
		c.scheduledAt = &t
	}
}

// ScheduledIn delays the job by d.
//
//	e.Enqueue(ctx, "send_newsletter", p, job.ScheduledIn(30*time.Second))
func ScheduledIn(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) {
		t := time.Now().Add(d)
		c.scheduledAt = &t
	}
}

// MaxAttempts caps River's own attempts for the job. Non-positive values keep
// River's default (25).
func MaxAttempts(n int) EnqueueOption {
	return func(c *enqueueConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// UniqueFor collapses jobs with the same task name and unique key enqueued
// within d into one.
//
//	e.Enqueue(ctx, "send_newsletter", p,
//	    job.UniqueFor(time.Hour),
//	    job.UniqueKey(p.SendKey))
func UniqueFor(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) {
		c.uniqueFor = d
	}
}

// UniqueKey sets the deduplication key used with UniqueFor. Without it the
// key is derived from the payload.
func UniqueKey(key string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.uniqueKey = key
	}
}

// Priority sets the job priority, 1 (highest) to 4.
func Priority(p int) EnqueueOption {
	return func(c *enqueueConfig) {
		c.priority = p
	}
}

// Tags attaches metadata tags to the job.
func Tags(tags ...string) EnqueueOption {
	return func(c *enqueueConfig) {
		c.tags = append(c.tags, tags...)
	}
}
