package newsletter

import (
	"context"
	"time"
)

// DeliveryStatus is the per-recipient outcome recorded in the ledger.
type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

// DeliveryLogEntry is one append-only ledger row. A sent entry carries the
// provider message id and no error; a failed entry carries the error text and
// no message id.
type DeliveryLogEntry struct {
	CreatedAt         time.Time      `json:"created_at"`
	ID                string         `json:"id"`
	Status            DeliveryStatus `json:"status"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Error             string         `json:"error,omitempty"`
	NewsletterID      int64          `json:"newsletter_id"`
	RecipientID       int64          `json:"recipient_id"`
}

// Validate checks the status/column invariant.
func (e DeliveryLogEntry) Validate() error {
	switch e.Status {
	case StatusSent:
		if e.ProviderMessageID == "" || e.Error != "" {
			return ErrInvalidEntry
		}
	case StatusFailed:
		if e.Error == "" || e.ProviderMessageID != "" {
			return ErrInvalidEntry
		}
	default:
		return ErrInvalidEntry
	}
	if e.NewsletterID <= 0 || e.RecipientID <= 0 || e.ID == "" {
		return ErrInvalidEntry
	}
	return nil
}

// DeliveryStats aggregates the ledger of one newsletter.
type DeliveryStats struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Total is the number of recipients with an outcome.
func (s DeliveryStats) Total() int { return s.Sent + s.Failed }

// Ledger is the append-only delivery log. At most one entry exists per
// (newsletter, recipient).
type Ledger interface {
	// Recorded returns which of the given recipients already have an entry.
	Recorded(ctx context.Context, newsletterID int64, recipientIDs []int64) (map[int64]struct{}, error)
	// Append stores an entry; ErrEntryExists when the pair is already recorded.
	Append(ctx context.Context, e DeliveryLogEntry) error
	// List returns entries ordered by recipient id, after the given recipient id.
	List(ctx context.Context, newsletterID, afterRecipientID int64, limit int) ([]DeliveryLogEntry, error)
	Stats(ctx context.Context, newsletterID int64) (DeliveryStats, error)
}
