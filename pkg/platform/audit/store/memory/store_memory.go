package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	audit "veriledger/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns matching events ordered by timestamp, oldest first.
func (s *InMemoryStore) List(_ context.Context, filter audit.Filter) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ListAll returns every stored event in insertion order.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...), nil
}
