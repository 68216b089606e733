package dispatch

import "time"

// ProgressState is the lifecycle of a dispatch as seen by operators.
type ProgressState string

const (
	ProgressRunning   ProgressState = "running"
	ProgressCompleted ProgressState = "completed"
	ProgressFailed    ProgressState = "failed"
)

// Progress is the snapshot stored after every batch, keyed by send key.
type Progress struct {
	UpdatedAt    time.Time     `json:"updated_at"`
	SendKey      string        `json:"send_key"`
	State        ProgressState `json:"state"`
	Error        string        `json:"error,omitempty"`
	NewsletterID int64         `json:"newsletter_id"`
	Total        int           `json:"total"`
	Sent         int           `json:"sent"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Batches      int           `json:"batches"`
	TotalBatches int           `json:"total_batches"`
}

// Processed counts recipients handled so far, skipped ones included.
func (p Progress) Processed() int { return p.Sent + p.Failed + p.Skipped }
