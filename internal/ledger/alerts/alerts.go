// Package alerts escalates chain breaks to operators.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"veriledger/internal/ledger/models"
)

// ChainBreak describes a verification failure. It carries chain coordinates
// only, never payload content.
type ChainBreak struct {
	CompanyID  string             `json:"company_id"`
	ChainType  string             `json:"chain_type"`
	Seq        int64              `json:"seq"`
	Reason     models.BreakReason `json:"reason"`
	Trigger    string             `json:"trigger"`
	DetectedAt time.Time          `json:"detected_at"`
}

func NewChainBreak(result *models.VerificationResult, trigger string, at time.Time) ChainBreak {
	return ChainBreak{
		CompanyID:  result.Scope.CompanyID.String(),
		ChainType:  string(result.Scope.ChainType),
		Seq:        result.FirstBreakAt,
		Reason:     result.Reason,
		Trigger:    trigger,
		DetectedAt: at.UTC(),
	}
}

// Sink delivers alerts.
type Sink interface {
	Publish(ctx context.Context, alert ChainBreak) error
}

// LogSink writes alerts to the log at ERROR.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, alert ChainBreak) error {
	s.logger.ErrorContext(ctx, "CRITICAL: ledger chain break",
		"company_id", alert.CompanyID,
		"chain_type", alert.ChainType,
		"seq", alert.Seq,
		"reason", string(alert.Reason),
		"trigger", alert.Trigger,
	)
	return nil
}

// Producer is the synchronous Kafka producer the KafkaSink writes through.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes alerts to a topic keyed by scope so every alert for a
// chain lands on the same partition.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Publish(ctx context.Context, alert ChainBreak) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal chain break alert: %w", err)
	}
	key := []byte(alert.CompanyID + "/" + alert.ChainType)
	return s.producer.Produce(ctx, s.topic, key, value, map[string]string{"alert": "chain_break"})
}

// Fanout publishes to every sink and returns the first error after trying all.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, alert ChainBreak) error {
	var first error
	for _, sink := range f {
		if err := sink.Publish(ctx, alert); err != nil && first == nil {
			first = err
		}
	}
	return first
}
