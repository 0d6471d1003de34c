// Package security publishes security-relevant audit events (chain breaks,
// failed logins, rejected internal calls) through a bounded buffer that is
// flushed to the audit store in the background.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "veriledger/pkg/platform/audit"
)

const (
	defaultFlushInterval = 500 * time.Millisecond
	defaultBatchSize     = 100
)

type Metrics struct {
	Persisted prometheus.Counter
	Dropped   prometheus.Counter
	Failures  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Persisted: f.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_audit_security_persisted_total",
			Help: "Security audit events written to the audit store",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_audit_security_dropped_total",
			Help: "Security audit events overwritten in the buffer before being flushed",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_audit_security_failures_total",
			Help: "Security audit events that failed to persist",
		}),
	}
}

func (m *Metrics) inc(c func(*Metrics) prometheus.Counter) {
	if m == nil {
		return
	}
	c(m).Inc()
}

// Publisher buffers security events and writes them in batches.
type Publisher struct {
	store         audit.Store
	buffer        *RingBuffer
	logger        *slog.Logger
	metrics       *Metrics
	flushInterval time.Duration
	batchSize     int

	flushMu   sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) { p.buffer = NewRingBuffer(n) }
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		buffer:        NewRingBuffer(0),
		logger:        slog.Default(),
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	go p.loop()
	return p
}

// Emit enqueues the event. Critical events are also logged immediately so they
// reach log-based alerting even if the store is down.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = audit.SeverityWarning
	}
	if event.Severity == audit.SeverityCritical {
		p.logger.Error("security event",
			"action", event.Action,
			"company_id", event.CompanyID.String(),
			"chain_type", event.ChainType.String(),
			"subject", event.Subject,
			"reason", event.Reason,
		)
	}
	if p.buffer.Enqueue(event) {
		p.metrics.inc(func(m *Metrics) prometheus.Counter { return m.Dropped })
	}
}

// Flush writes everything currently buffered.
func (p *Publisher) Flush(ctx context.Context) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event.ToEvent()); err != nil {
				p.metrics.inc(func(m *Metrics) prometheus.Counter { return m.Failures })
				p.logger.Warn("security audit write failed", "action", event.Action, "error", err)
				continue
			}
			p.metrics.inc(func(m *Metrics) prometheus.Counter { return m.Persisted })
		}
	}
}

func (p *Publisher) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.Flush(context.Background())
		}
	}
}

// Close stops the background flusher and writes what is left.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.stop) })
	<-p.done
	p.Flush(ctx)
	return nil
}
