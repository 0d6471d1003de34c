//go:build integration

package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"veriledger/internal/platform/kafka"
	"veriledger/pkg/testutil/containers"
)

func TestProducerRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	broker := containers.GetManager().GetKafka(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer, err := kafka.NewProducer(kafka.Config{Brokers: broker.Brokers})
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, producer.EnsureTopics(ctx, "ledger.test"))
	require.NoError(t, producer.EnsureTopics(ctx, "ledger.test"), "existing topics are not an error")
	require.NoError(t, producer.Produce(ctx, "ledger.test", []byte("k"), []byte(`{"ok":true}`), map[string]string{"event_type": "probe"}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Brokers...),
		kgo.ConsumeTopics("ledger.test"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())
	records := fetches.Records()
	require.NotEmpty(t, records)
	require.Equal(t, "k", string(records[0].Key))
	require.Equal(t, "event_type", records[0].Headers[0].Key)
}
