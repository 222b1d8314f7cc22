package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConceptGuard/internal/config"
	pkgerrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

type mockKafkaWriter struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (m *mockKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.closed = true
	return nil
}

func newTestProducer(w *mockKafkaWriter) *Producer {
	return NewProducerWithWriter(w, ProducerConfig{Brokers: []string{"localhost:9092"}, MaxMessageBytes: 16}, nil)
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}, MaxRetries: -1}))
}

func TestProducerConfigFrom(t *testing.T) {
	cfg := ProducerConfigFrom(config.KafkaConfig{Brokers: []string{"k:9092"}, MaxRetries: 2, MaxBytes: 2048})
	assert.Equal(t, []string{"k:9092"}, cfg.Brokers)
	assert.Equal(t, "all", cfg.Acks)
	assert.Equal(t, 2048, cfg.MaxMessageBytes)
}

func TestPublish(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &ProducerMessage{
		Topic:   TopicResults,
		Key:     []byte("doc-1"),
		Value:   []byte(`{"ok":true}`),
		Headers: map[string]string{"event_type": EventDocumentExtracted},
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.Equal(t, TopicResults, w.written[0].Topic)
	assert.Equal(t, []kafka.Header{{Key: "event_type", Value: []byte(EventDocumentExtracted)}}, w.written[0].Headers)
	assert.False(t, w.written[0].Time.IsZero())
	assert.Equal(t, int64(1), p.Sent())
}

func TestPublish_Validation(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.True(t, pkgerrors.IsCode(p.Publish(ctx, &ProducerMessage{Value: []byte("x")}), pkgerrors.ErrCodeValidation))
	assert.True(t, pkgerrors.IsCode(p.Publish(ctx, &ProducerMessage{Topic: "t"}), pkgerrors.ErrCodeValidation))
	assert.True(t, pkgerrors.IsCode(p.Publish(ctx, &ProducerMessage{Topic: "t", Value: make([]byte, 17)}), pkgerrors.ErrCodeValidation))
}

func TestPublish_WriterError(t *testing.T) {
	boom := errors.New("leader not available")
	p := newTestProducer(&mockKafkaWriter{err: boom})

	err := p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("x")})
	assert.ErrorIs(t, err, boom)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeMessagingError))
	assert.Equal(t, int64(1), p.metrics.MessagesFailed.Load())
}

func TestProducer_Close(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.Equal(t, ErrProducerClosed, p.Publish(context.Background(), &ProducerMessage{Topic: "t", Value: []byte("x")}))
}
