package store

import (
	"context"
	"sort"
	"sync"

	"veriledger/internal/ledger/models"
	id "veriledger/pkg/domain"
	"veriledger/pkg/platform/sentinel"
)

type chain struct {
	// entries[i] holds seq i+1.
	entries []*models.Entry
	markers []*models.Entry
	suspect *models.SuspectFlag
}

// InMemory keeps each chain as an index-addressed slice. Entries are copied
// on the way in and out so callers can never mutate stored state.
type InMemory struct {
	mu     sync.RWMutex
	chains map[string]*chain
	scopes map[string]models.Scope
	byCode map[string]*models.Entry
	byID   map[id.EntryID]*models.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{
		chains: make(map[string]*chain),
		scopes: make(map[string]models.Scope),
		byCode: make(map[string]*models.Entry),
		byID:   make(map[id.EntryID]*models.Entry),
	}
}

func clone(e *models.Entry) *models.Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

func (s *InMemory) Append(_ context.Context, e *models.Entry) error {
	if err := validateAppend(e); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.Scope.Key()
	c := s.chains[key]
	if c == nil {
		c = &chain{}
	}
	if e.Seq != int64(len(c.entries))+1 {
		return ErrConcurrentAppend
	}
	prev := models.GenesisHash
	if n := len(c.entries); n > 0 {
		prev = c.entries[n-1].Hash
	}
	if e.PrevHash != prev {
		return ErrConcurrentAppend
	}
	if _, taken := s.byID[e.ID]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, taken := s.byCode[e.Code]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if e.Kind != models.KindRecord {
		for _, m := range c.markers {
			if m.Target() == e.Target() {
				return sentinel.ErrAlreadyUsed
			}
		}
	}

	stored := clone(e)
	c.entries = append(c.entries, stored)
	if stored.Kind != models.KindRecord {
		c.markers = append(c.markers, stored)
	}
	s.chains[key] = c
	s.scopes[key] = e.Scope
	s.byCode[stored.Code] = stored
	s.byID[stored.ID] = stored
	return nil
}

func (s *InMemory) Tip(_ context.Context, scope models.Scope) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chains[scope.Key()]
	if c == nil || len(c.entries) == 0 {
		return nil, nil
	}
	return clone(c.entries[len(c.entries)-1]), nil
}

func (s *InMemory) Range(_ context.Context, scope models.Scope, from, to int64) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chains[scope.Key()]
	if c == nil {
		return nil, nil
	}
	n := int64(len(c.entries))
	if from < 1 {
		from = 1
	}
	if to <= 0 || to > n {
		to = n
	}
	if from > to {
		return nil, nil
	}
	out := make([]*models.Entry, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		out = append(out, clone(c.entries[seq-1]))
	}
	return out, nil
}

func (s *InMemory) ByCode(_ context.Context, code string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byCode[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(e), nil
}

func (s *InMemory) ByID(_ context.Context, entryID id.EntryID) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[entryID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(e), nil
}

func (s *InMemory) BySeq(_ context.Context, scope models.Scope, seq int64) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chains[scope.Key()]
	if c == nil || seq < 1 || seq > int64(len(c.entries)) {
		return nil, sentinel.ErrNotFound
	}
	return clone(c.entries[seq-1]), nil
}

func (s *InMemory) Markers(_ context.Context, scope models.Scope, after int64) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chains[scope.Key()]
	if c == nil {
		return nil, nil
	}
	var out []*models.Entry
	for _, m := range c.markers {
		if m.Seq > after {
			out = append(out, clone(m))
		}
	}
	return out, nil
}

func (s *InMemory) StatusOf(ctx context.Context, scope models.Scope, seq int64) (models.Status, error) {
	target, err := s.BySeq(ctx, scope, seq)
	if err != nil {
		return "", err
	}
	markers, err := s.Markers(ctx, scope, seq)
	if err != nil {
		return "", err
	}
	return sealedStatus(target, markers), nil
}

func (s *InMemory) Scopes(_ context.Context) ([]models.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Scope, 0, len(s.scopes))
	for _, scope := range s.scopes {
		out = append(out, scope)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *InMemory) FlagSuspect(_ context.Context, flag models.SuspectFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := flag.Scope.Key()
	c := s.chains[key]
	if c == nil {
		c = &chain{}
		s.chains[key] = c
	}
	if c.suspect != nil {
		return nil
	}
	f := flag
	c.suspect = &f
	return nil
}

func (s *InMemory) SuspectFlag(_ context.Context, scope models.Scope) (*models.SuspectFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.chains[scope.Key()]
	if c == nil || c.suspect == nil {
		return nil, nil
	}
	f := *c.suspect
	return &f, nil
}
