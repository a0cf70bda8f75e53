package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWriter(t *testing.T) {
	_, err := NewWriter(Config{}, zap.NewNop())
	assert.Error(t, err)

	w, err := NewWriter(Config{Brokers: []string{"localhost:9092"}, Async: true}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, w.Topic)
	assert.Equal(t, 10*time.Millisecond, w.BatchTimeout)
	assert.IsType(t, &kafkago.Hash{}, w.Balancer)
	assert.NotNil(t, w.Completion)
	require.NoError(t, w.Close())
}

func TestConfig_SetDefaultsKeepsValues(t *testing.T) {
	cfg := Config{Topic: "custom", BatchTimeout: time.Second}
	cfg.SetDefaults()
	assert.Equal(t, "custom", cfg.Topic)
	assert.Equal(t, time.Second, cfg.BatchTimeout)
}
