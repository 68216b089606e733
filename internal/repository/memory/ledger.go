package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/hybridprotocol/newsletter/internal/newsletter"
)

type pair struct{ newsletterID, recipientID int64 }

// Ledger is an in-memory newsletter.Ledger with the same uniqueness rule as
// the database table.
type Ledger struct {
	mu      sync.RWMutex
	entries map[pair]newsletter.DeliveryLogEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[pair]newsletter.DeliveryLogEntry)}
}

func (l *Ledger) Recorded(_ context.Context, newsletterID int64, recipientIDs []int64) (map[int64]struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[int64]struct{})
	for _, rid := range recipientIDs {
		if _, ok := l.entries[pair{newsletterID, rid}]; ok {
			out[rid] = struct{}{}
		}
	}
	return out, nil
}

func (l *Ledger) Append(_ context.Context, e newsletter.DeliveryLogEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := pair{e.NewsletterID, e.RecipientID}
	if _, ok := l.entries[k]; ok {
		return newsletter.ErrEntryExists
	}
	l.entries[k] = e
	return nil
}

func (l *Ledger) List(_ context.Context, newsletterID, afterRecipientID int64, limit int) ([]newsletter.DeliveryLogEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []newsletter.DeliveryLogEntry
	for k, e := range l.entries {
		if k.newsletterID == newsletterID && k.recipientID > afterRecipientID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b newsletter.DeliveryLogEntry) int {
		return cmp.Compare(a.RecipientID, b.RecipientID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) Stats(_ context.Context, newsletterID int64) (newsletter.DeliveryStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s newsletter.DeliveryStats
	for k, e := range l.entries {
		if k.newsletterID != newsletterID {
			continue
		}
		switch e.Status {
		case newsletter.StatusSent:
			s.Sent++
		case newsletter.StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

// Len is the total number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
