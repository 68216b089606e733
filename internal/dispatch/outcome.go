package dispatch

import (
	"strings"
	"time"

	"github.com/hybridprotocol/newsletter/internal/newsletter"
	"github.com/hybridprotocol/newsletter/pkg/id"
)

// Outcome is the result of one provider call: sent with a message id, or
// failed with a reason.
type Outcome struct {
	messageID string
	reason    string
	status    newsletter.DeliveryStatus
}

// Sent is a successful delivery.
func Sent(messageID string) Outcome {
	return Outcome{status: newsletter.StatusSent, messageID: messageID}
}

// Failed is a rejected or errored delivery. The reason is stored as text, so
// NUL bytes are dropped and invalid UTF-8 is replaced.
func Failed(reason string) Outcome {
	reason = strings.ReplaceAll(strings.ToValidUTF8(reason, "\uFFFD"), "\x00", "")
	if reason == "" {
		reason = "unknown error"
	}
	return Outcome{status: newsletter.StatusFailed, reason: reason}
}

func (o Outcome) Status() newsletter.DeliveryStatus { return o.status }
func (o Outcome) MessageID() string                 { return o.messageID }
func (o Outcome) Reason() string                    { return o.reason }

// Entry converts the outcome into a ledger row.
func (o Outcome) Entry(newsletterID, recipientID int64, at time.Time) newsletter.DeliveryLogEntry {
	e := newsletter.DeliveryLogEntry{
		ID:           id.NewULID(),
		NewsletterID: newsletterID,
		RecipientID:  recipientID,
		Status:       o.status,
		CreatedAt:    at,
	}
	switch o.status {
	case newsletter.StatusSent:
		e.ProviderMessageID = o.messageID
	case newsletter.StatusFailed:
		e.Error = o.reason
	}
	return e
}
