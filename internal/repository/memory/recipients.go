package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hybridprotocol/newsletter/internal/newsletter"
)

// Recipients is an in-memory newsletter.RecipientStore.
type Recipients struct {
	mu     sync.RWMutex
	byID   map[int64]newsletter.Recipient
	nextID int64
}

func NewRecipients() *Recipients {
	return &Recipients{byID: make(map[int64]newsletter.Recipient)}
}

// Add stores r with a fresh id and a normalized email.
func (s *Recipients) Add(r newsletter.Recipient) newsletter.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(r)
}

func (s *Recipients) insert(r newsletter.Recipient) newsletter.Recipient {
	s.nextID++
	r.ID = s.nextID
	r.Email = newsletter.NormalizeEmail(r.Email)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.byID[r.ID] = r
	return r
}

// Get returns the recipient with id.
func (s *Recipients) Get(id int64) (newsletter.Recipient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

func (s *Recipients) Eligible(context.Context) ([]newsletter.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]newsletter.Recipient, 0, len(s.byID))
	for _, r := range s.byID {
		if r.Eligible() {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b newsletter.Recipient) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Recipients) FindOrCreate(_ context.Context, r newsletter.Recipient) (newsletter.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := newsletter.NormalizeEmail(r.Email)
	for _, existing := range s.byID {
		if existing.Email == email {
			return existing, nil
		}
	}
	return s.insert(r), nil
}

func (s *Recipients) Unsubscribe(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return newsletter.ErrRecipientNotFound
	}
	r.IsSubscribed = false
	s.byID[id] = r
	return nil
}
