package job

import "context"

// TaskInfo describes the job a handler is running in.
type TaskInfo struct {
	Name    string
	JobID   int64
	Attempt int
}

type taskInfoKey struct{}

func withTaskInfo(ctx context.Context, info TaskInfo) context.Context {
	return context.WithValue(ctx, taskInfoKey{}, info)
}

// TaskFromContext returns the running task, if any.
func TaskFromContext(ctx context.Context) (TaskInfo, bool) {
	info, ok := ctx.Value(taskInfoKey{}).(TaskInfo)
	return info, ok
}
