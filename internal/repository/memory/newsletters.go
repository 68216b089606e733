package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hybridprotocol/newsletter/internal/newsletter"
)

// Newsletters is an in-memory newsletter.NewsletterStore.
type Newsletters struct {
	mu     sync.RWMutex
	byID   map[int64]newsletter.Newsletter
	nextID int64
}

func NewNewsletters() *Newsletters {
	return &Newsletters{byID: make(map[int64]newsletter.Newsletter)}
}

// Add stores n, assigning an id when n.ID is zero.
func (s *Newsletters) Add(n newsletter.Newsletter) newsletter.Newsletter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == 0 {
		s.nextID++
		n.ID = s.nextID
	} else if n.ID > s.nextID {
		s.nextID = n.ID
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.byID[n.ID] = n
	return n
}

func (s *Newsletters) BySendKey(_ context.Context, sendKey string) (newsletter.Newsletter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.byID {
		if n.SendKey == sendKey {
			return n, nil
		}
	}
	return newsletter.Newsletter{}, newsletter.ErrNewsletterNotFound
}

func (s *Newsletters) ByID(_ context.Context, id int64) (newsletter.Newsletter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.byID[id]
	if !ok {
		return newsletter.Newsletter{}, newsletter.ErrNewsletterNotFound
	}
	return n, nil
}

func (s *Newsletters) MarkSent(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	switch {
	case !ok:
		return newsletter.ErrNewsletterNotFound
	case n.Sent():
		return newsletter.ErrAlreadySent
	}
	n.SentAt = &at
	s.byID[id] = n
	return nil
}

func (s *Newsletters) MarkDispatchFailed(_ context.Context, sendKey string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, n := range s.byID {
		if n.SendKey == sendKey && !n.Sent() {
			n.DispatchFailedAt = &at
			s.byID[id] = n
		}
	}
	return nil
}

func (s *Newsletters) Due(_ context.Context, now time.Time, limit int) ([]newsletter.Newsletter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []newsletter.Newsletter
	for _, n := range s.byID {
		if n.Due(now) {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b newsletter.Newsletter) int {
		if c := a.ScheduledFor.Compare(*b.ScheduledFor); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
