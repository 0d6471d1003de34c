// Package compliance provides a fail-closed audit publisher for regulatory events.
//
// Publisher emits compliance events with synchronous, fail-closed semantics.
// Events are written to the audit store (and its outbox) and the caller blocks
// until the write succeeds. If the write fails, an error is returned and the
// calling operation MUST fail.
//
// Use for: correction_*, audit_exported, config_change, backup_completed
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	audit "veriledger/pkg/platform/audit"
)

// Publisher emits compliance events with fail-closed semantics.
// All writes are synchronous - the caller blocks until persistence succeeds or fails.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	clock   func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// New creates a compliance publisher.
// The store must be outbox-backed for guaranteed delivery.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously writes a compliance event to the audit store.
// Returns error if persistence fails - the caller MUST fail its operation.
func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	start := p.clock()

	if event.ActorID == "" {
		return fmt.Errorf("compliance event requires ActorID")
	}
	if event.Action == "" {
		return fmt.Errorf("compliance event requires Action")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = start
	}

	if err := p.store.Append(ctx, event.ToEvent()); err != nil {
		p.metrics.IncPersistFailures()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", event.Action,
				"actor_id", event.ActorID,
				"company_id", event.CompanyID.String(),
				"error", err,
			)
		}
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}

	p.metrics.ObservePersistDuration(p.clock().Sub(start).Seconds())
	p.metrics.IncEventsEmitted()
	return nil
}

// Close is a no-op for the synchronous compliance publisher.
func (p *Publisher) Close() error {
	return nil
}
