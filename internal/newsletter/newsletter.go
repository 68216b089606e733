// Package newsletter holds the domain types of the bulk dispatch service and
// the storage contracts the dispatcher and the admin API depend on.
package newsletter

import (
	"context"
	"strings"
	"time"
)

// Newsletter is a published issue. SendKey is the opaque idempotency key that
// triggers address; SentAt is set once, after the last batch. DispatchFailedAt
// is set when a bulk send ran out of retries and keeps the newsletter out of
// the scheduled pickup.
type Newsletter struct {
	ScheduledFor     *time.Time `json:"scheduled_for,omitempty"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
	DispatchFailedAt *time.Time `json:"dispatch_failed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	SendKey          string     `json:"send_key"`
	Slug             string     `json:"slug"`
	Subject          string     `json:"subject"`
	Preheader        string     `json:"preheader,omitempty"`
	Body             string     `json:"body"` // markdown
	ID               int64      `json:"id"`
}

// Sent reports whether the newsletter has been fully dispatched.
func (n Newsletter) Sent() bool { return n.SentAt != nil }

// Due reports whether a scheduled newsletter should be picked up at now.
// A send that failed terminally is not picked up again.
func (n Newsletter) Due(now time.Time) bool {
	return !n.Sent() && n.DispatchFailedAt == nil &&
		n.ScheduledFor != nil && !n.ScheduledFor.After(now)
}

// Recipient is a subscriber. The bulk dispatcher only reads recipients.
type Recipient struct {
	CreatedAt    time.Time `json:"created_at"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Source       string    `json:"source,omitempty"`
	ID           int64     `json:"id"`
	IsSubscribed bool      `json:"is_subscribed"`
	Bounced      bool      `json:"bounced"`
	IsActive     bool      `json:"is_active"`
}

// Eligible reports whether the recipient receives bulk sends.
func (r Recipient) Eligible() bool {
	return r.IsSubscribed && !r.Bounced && r.IsActive
}

// Name is "First Last" with empty parts dropped.
func (r Recipient) Name() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Test recipients are created on demand by test sends.
const (
	TestSource    = "test"
	TestFirstName = "Test"
	TestLastName  = "User"
)

// NewsletterStore reads newsletters and records their terminal commit.
type NewsletterStore interface {
	// BySendKey returns ErrNewsletterNotFound for unknown keys.
	BySendKey(ctx context.Context, sendKey string) (Newsletter, error)
	// ByID returns ErrNewsletterNotFound for unknown ids.
	ByID(ctx context.Context, id int64) (Newsletter, error)
	// MarkSent sets sent_at once; it returns ErrAlreadySent when it was set before.
	MarkSent(ctx context.Context, id int64, at time.Time) error
	// MarkDispatchFailed records that the bulk send of an unsent newsletter
	// exhausted its retries. Unknown or already sent keys are a no-op.
	MarkDispatchFailed(ctx context.Context, sendKey string, at time.Time) error
	// Due lists unsent newsletters scheduled at or before now that have not
	// failed terminally, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Newsletter, error)
}

// RecipientStore selects and maintains recipients.
type RecipientStore interface {
	// Eligible returns subscribed, non-bounced, active recipients ordered by id.
	Eligible(ctx context.Context) ([]Recipient, error)
	// FindOrCreate returns the recipient with r.Email, creating it from r when missing.
	FindOrCreate(ctx context.Context, r Recipient) (Recipient, error)
	// Unsubscribe clears is_subscribed; ErrRecipientNotFound for unknown ids.
	Unsubscribe(ctx context.Context, id int64) error
}
