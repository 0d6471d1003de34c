// Package kafka wraps a franz-go client for the topics the ledger writes:
// chain-break alerts and relayed audit events.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type Config struct {
	Brokers  []string
	ClientID string
	// Partitions and ReplicationFactor are used when topics are created on startup.
	Partitions        int32
	ReplicationFactor int16
}

// Producer publishes records synchronously with all-ISR acks.
type Producer struct {
	client *kgo.Client
	cfg    Config
}

func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "veriledger"
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	return &Producer{client: client, cfg: cfg}, nil
}

// Produce writes one record and waits for the broker acknowledgement.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce to %s: %w", topic, err)
	}
	return nil
}

// EnsureTopics creates the topics if they are missing.
func (p *Producer) EnsureTopics(ctx context.Context, topics ...string) error {
	adm := kadm.NewClient(p.client)
	resps, err := adm.CreateTopics(ctx, p.cfg.Partitions, p.cfg.ReplicationFactor, nil, topics...)
	if err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	for topic, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka: create topic %s: %w", topic, resp.Err)
		}
	}
	return nil
}

func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() {
	p.client.Close()
}
