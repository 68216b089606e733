package job

import "errors"

// Job errors.
var (
	// ErrUnknownTask is returned when a job names a task that is not registered.
	ErrUnknownTask = errors.New("job: unknown task")

	// ErrInvalidPayload is returned when a payload cannot be decoded into the
	// task's payload type.
	ErrInvalidPayload = errors.New("job: invalid payload")

	ErrAlreadyStarted = errors.New("job: already started")
	ErrNotStarted     = errors.New("job: not started")

	// ErrPoolRequired is returned by constructors given a nil pool.
	ErrPoolRequired = errors.New("job: pool is required")

	// ErrMigrationFailed wraps River schema migration errors.
	ErrMigrationFailed = errors.New("job: migration failed")
)
