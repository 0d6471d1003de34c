// Package worker relays audit events from the transactional outbox to Kafka.
// Events are written to the outbox in the same transaction as the audit row,
// so a crash between commit and publish only delays delivery.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"veriledger/pkg/platform/audit/store/postgres"
	txcontext "veriledger/pkg/platform/tx"
)

// Outbox is the pending-row source. The postgres audit store implements it.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID) error
}

// Producer publishes one record synchronously.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type Config struct {
	Topic     string
	BatchSize int
	Interval  time.Duration
}

type Relay struct {
	outbox   Outbox
	producer Producer
	tx       txcontext.Runner
	cfg      Config
	logger   *slog.Logger
}

func NewRelay(outbox Outbox, producer Producer, tx txcontext.Runner, cfg Config, logger *slog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Topic == "" {
		cfg.Topic = "ledger.audit-events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{outbox: outbox, producer: producer, tx: tx, cfg: cfg, logger: logger}
}

// RelayOnce publishes one batch and returns how many rows were relayed.
// Rows are only marked processed after every record in the batch was
// acknowledged; a failure leaves the whole batch pending for the next tick.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var relayed int
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		pending, err := r.outbox.FetchPending(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(pending))
		for _, entry := range pending {
			headers := map[string]string{
				"event_type":     entry.EventType,
				"aggregate_type": entry.AggregateType,
			}
			if err := r.producer.Produce(ctx, r.cfg.Topic, []byte(entry.AggregateID), entry.Payload, headers); err != nil {
				return err
			}
			ids = append(ids, entry.ID)
		}
		if err := r.outbox.MarkProcessed(ctx, ids); err != nil {
			return err
		}
		relayed = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return relayed, nil
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "outbox relay failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "outbox relayed", "count", n)
			}
		}
	}
}
