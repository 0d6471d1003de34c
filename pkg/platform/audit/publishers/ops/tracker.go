// Package ops records routine audit events (public verification lookups,
// on-demand verifications) without ever blocking or failing the caller.
package ops

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "veriledger/pkg/platform/audit"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 2 * time.Second
)

// Tracker persists ops events from a background goroutine. Events are sampled,
// dropped when the queue is full, and dropped while the circuit is open.
type Tracker struct {
	store        audit.Store
	sampler      *Sampler
	breaker      *CircuitBreaker
	metrics      *Metrics
	logger       *slog.Logger
	queue        chan audit.Event
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Tracker)

func WithSampler(s *Sampler) Option {
	return func(t *Tracker) {
		if s != nil {
			t.sampler = s
		}
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(t *Tracker) {
		if cb != nil {
			t.breaker = cb
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithQueueSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.queue = make(chan audit.Event, n)
		}
	}
}

// NewTracker starts the background writer. Call Close to drain it.
func NewTracker(store audit.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:        store,
		sampler:      NewSampler(1),
		breaker:      NewCircuitBreaker(5, time.Minute),
		logger:       slog.Default(),
		queue:        make(chan audit.Event, defaultQueueSize),
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Track enqueues an event. It never blocks; events tracked after Close are dropped.
func (t *Tracker) Track(event audit.OpsEvent) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	if !t.sampler.ShouldSample(event.Action) {
		t.metrics.IncSampled()
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case t.queue <- event.ToEvent():
	default:
		t.metrics.IncQueueDropped()
	}
}

func (t *Tracker) run() {
	defer t.wg.Done()
	for event := range t.queue {
		t.write(event)
	}
}

func (t *Tracker) write(event audit.Event) {
	if !t.breaker.Allow() {
		t.metrics.IncCircuitBreakerDropped()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()
	if err := t.store.Append(ctx, event); err != nil {
		t.breaker.RecordFailure()
		t.metrics.IncPersistFailures()
		t.metrics.SetCircuitBreakerState(t.breaker.IsOpen())
		t.logger.Warn("ops audit write failed", "action", event.Action, "error", err)
		return
	}
	t.breaker.RecordSuccess()
	t.metrics.SetCircuitBreakerState(false)
	t.metrics.IncTracked()
}

// Close stops accepting events and waits for queued ones to be written.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}
