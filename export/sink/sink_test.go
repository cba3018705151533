package sink

import (
	"testing"

	"github.com/maxpert/slotkeeper/cfg"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKafkaConfig(t *testing.T) {
	c := DefaultKafkaConfig([]string{"localhost:9092", "localhost:9093"})
	assert.Len(t, c.Brokers, 2)
	assert.Equal(t, DefaultKafkaBatchSize, c.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), c.BatchBytes)
	assert.Equal(t, kafka.RequireAll, c.RequiredAcks)
	assert.True(t, c.AutoCreateTopics)
}

func TestNewKafka(t *testing.T) {
	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, BatchSize: 50, RequiredAcks: kafka.RequireOne})
	require.NoError(t, err)
	defer k.Close()

	assert.Equal(t, 50, k.writer.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), k.writer.BatchBytes)
	assert.Equal(t, kafka.RequireOne, k.writer.RequiredAcks)
	assert.False(t, k.writer.Async)
	assert.IsType(t, &kafka.Hash{}, k.writer.Balancer)

	_, err = NewKafka(KafkaConfig{})
	assert.Error(t, err)
}

func TestKafkaCloseWithoutWriter(t *testing.T) {
	assert.NoError(t, (&Kafka{}).Close())
}

func TestNewByType(t *testing.T) {
	tests := []struct {
		name    string
		config  cfg.SinkConfiguration
		wantErr bool
	}{
		{name: "kafka", config: cfg.SinkConfiguration{Name: "k", Type: TypeKafka, Brokers: []string{"localhost:9092"}, BatchSize: 10}},
		{name: "kafka without brokers", config: cfg.SinkConfiguration{Name: "k", Type: TypeKafka}, wantErr: true},
		{name: "nats without url", config: cfg.SinkConfiguration{Name: "n", Type: TypeNats}, wantErr: true},
		{name: "unknown", config: cfg.SinkConfiguration{Name: "x", Type: "http"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(tc.config)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			k, ok := s.(*Kafka)
			require.True(t, ok)
			assert.Equal(t, 10, k.writer.BatchSize)
		})
	}
}

func TestWorkerConfigFromSinkConfiguration(t *testing.T) {
	wc, err := WorkerConfig(cfg.SinkConfiguration{
		Name:            "audit",
		Type:            TypeKafka,
		Brokers:         []string{"localhost:9092"},
		TopicPrefix:     "slotkeeper",
		PollIntervalMS:  250,
		RetryInitialMS:  50,
		RetryMaxMS:      1000,
		RetryMultiplier: 3,
		FilterTypes:     []string{"MEMBER_*"},
	})
	require.NoError(t, err)
	defer wc.Sink.Close()

	assert.Equal(t, "audit", wc.Name)
	assert.Equal(t, "slotkeeper", wc.TopicPrefix)
	assert.Equal(t, cfg.Millis(250), wc.PollInterval)
	assert.Equal(t, cfg.Millis(1000), wc.RetryMax)
	assert.Equal(t, 3.0, wc.RetryMultiplier)
	require.NotNil(t, wc.Filter)

	_, err = WorkerConfig(cfg.SinkConfiguration{Name: "bad", Type: TypeKafka, Brokers: []string{"b"}, FilterTypes: []string{"[x"}})
	assert.Error(t, err)
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "slotkeeper_queue_deleted", streamName("slotkeeper.queue.deleted"))
}
