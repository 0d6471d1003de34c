package correction

import (
	"context"
	"slices"
	"sync"

	"veriledger/internal/ledger/models"
	id "veriledger/pkg/domain"
	"veriledger/pkg/platform/sentinel"
)

// Store persists correction requests and their decisions. Requests are
// immutable; a decision is recorded at most once per request.
type Store interface {
	Create(ctx context.Context, req *models.CorrectionRequest) error
	// Get returns the request with its decision attached, if any.
	Get(ctx context.Context, requestID id.CorrectionID) (*models.CorrectionRequest, error)
	ListPending(ctx context.Context, scope models.Scope) ([]*models.CorrectionRequest, error)
	// Decide records the decision. A second decision returns sentinel.ErrAlreadyUsed.
	Decide(ctx context.Context, decision models.CorrectionDecision) error
}

// InMemoryStore is the Store used by tests and the memory-backed server.
type InMemoryStore struct {
	mu        sync.RWMutex
	requests  map[id.CorrectionID]*models.CorrectionRequest
	decisions map[id.CorrectionID]models.CorrectionDecision
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests:  make(map[id.CorrectionID]*models.CorrectionRequest),
		decisions: make(map[id.CorrectionID]models.CorrectionDecision),
	}
}

func (s *InMemoryStore) Create(_ context.Context, req *models.CorrectionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	stored := *req
	stored.Decision = nil
	s.requests[req.ID] = &stored
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, requestID id.CorrectionID) (*models.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.withDecision(req), nil
}

func (s *InMemoryStore) ListPending(_ context.Context, scope models.Scope) ([]*models.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CorrectionRequest
	for reqID, req := range s.requests {
		if req.Scope != scope {
			continue
		}
		if _, decided := s.decisions[reqID]; decided {
			continue
		}
		out = append(out, s.withDecision(req))
	}
	slices.SortFunc(out, func(a, b *models.CorrectionRequest) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Decide(_ context.Context, decision models.CorrectionDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[decision.RequestID]; !ok {
		return sentinel.ErrNotFound
	}
	if _, ok := s.decisions[decision.RequestID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	s.decisions[decision.RequestID] = decision
	return nil
}

func (s *InMemoryStore) withDecision(req *models.CorrectionRequest) *models.CorrectionRequest {
	out := *req
	if d, ok := s.decisions[req.ID]; ok {
		out.Decision = &d
	}
	return &out
}
