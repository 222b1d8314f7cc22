package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// =============================================================================
// Mocks
// =============================================================================

// mockKafkaReader serves queued messages, then blocks until cancelled.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockKafkaReader) commits() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.committed...)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*ProducerMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveMessage(_, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func newTestConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "test-group",
		Topics:  []string{TopicDocuments},
		RetryConfig: RetryConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			DeadLetterTopic: TopicDeadLetter,
		},
	}
}

func newTestConsumer(t *testing.T, reader ReaderInterface, opts ...ConsumerOption) *Consumer {
	t.Helper()
	c, err := NewConsumer(newTestConsumerConfig(), logging.NewNopLogger(), append([]ConsumerOption{WithReader(reader)}, opts...)...)
	require.NoError(t, err)
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

// =============================================================================
// Tests
// =============================================================================

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(newTestConsumerConfig()))

	cfg := newTestConsumerConfig()
	cfg.Brokers = nil
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.GroupID = ""
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.Topics = []string{""}
	assert.Error(t, ValidateConsumerConfig(cfg))

	cfg = newTestConsumerConfig()
	cfg.StartOffset = "middle"
	assert.Error(t, ValidateConsumerConfig(cfg))
}

func TestConsumerConfigFrom(t *testing.T) {
	cfg := ConsumerConfigFrom(config.KafkaConfig{
		Brokers:         []string{"k:9092"},
		GroupID:         "g",
		InputTopic:      "in",
		DeadLetterTopic: "dlq",
		MaxRetries:      5,
		RetryBackoff:    time.Second,
		StartOffset:     "latest",
	})
	assert.Equal(t, []string{"in"}, cfg.Topics)
	assert.Equal(t, "dlq", cfg.RetryConfig.DeadLetterTopic)
	assert.Equal(t, 5, cfg.RetryConfig.MaxRetries)
	assert.Equal(t, "latest", cfg.StartOffset)
}

func TestStart_AlreadyRunning(t *testing.T) {
	c := newTestConsumer(t, &mockKafkaReader{})
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()
	assert.Equal(t, ErrAlreadyRunning, c.Start(context.Background()))
}

func TestConsumeLoop_DispatchesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicDocuments, Offset: 7, Value: []byte("one"), Headers: []kafka.Header{{Key: "trace_id", Value: []byte("t1")}}},
		{Topic: "unknown", Offset: 8, Value: []byte("two")},
	}}
	obs := &recordingObserver{}
	c := newTestConsumer(t, reader, WithObserver(obs))

	handled := make(chan *Message, 1)
	c.Subscribe(TopicDocuments, func(_ context.Context, msg *Message) error {
		handled <- msg
		return nil
	})
	require.NoError(t, c.Start(context.Background()))

	select {
	case msg := <-handled:
		assert.Equal(t, "one", string(msg.Value))
		assert.Equal(t, "t1", msg.Headers["trace_id"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}

	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
	assert.Equal(t, []int64{7, 8}, reader.commits(), "unrouted messages are committed too")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Consumed)
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, []string{ResultOK, ResultUnrouted}, obs.results)
}

func TestProcessMessage_RetrySuccess(t *testing.T) {
	c := newTestConsumer(t, &mockKafkaReader{})
	attempts := 0
	handler := func(context.Context, *Message) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}

	err := c.processMessage(context.Background(), &Message{Topic: TopicDocuments}, handler)
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(1), c.metrics.MessagesRetried.Load())
	assert.Equal(t, int64(1), c.metrics.MessagesProcessed.Load())
}

func TestProcessMessage_DeadLettersAfterRetries(t *testing.T) {
	dlq := &recordingPublisher{}
	c := newTestConsumer(t, &mockKafkaReader{}, WithDeadLetter(dlq))
	attempts := 0
	handler := func(context.Context, *Message) error {
		attempts++
		return errors.New("engine unavailable")
	}

	msg := &Message{Topic: TopicDocuments, Key: []byte("doc-1"), Value: []byte("{}"), Headers: map[string]string{"trace_id": "t"}}
	require.NoError(t, c.processMessage(context.Background(), msg, handler))

	assert.Equal(t, 3, attempts)
	require.Len(t, dlq.msgs, 1)
	dl := dlq.msgs[0]
	assert.Equal(t, TopicDeadLetter, dl.Topic)
	assert.Equal(t, []byte("doc-1"), dl.Key)
	assert.Equal(t, TopicDocuments, dl.Headers[HeaderOriginalTopic])
	assert.Equal(t, "engine unavailable", dl.Headers[HeaderErrorMessage])
	assert.Equal(t, "3", dl.Headers[HeaderAttempts])
	assert.Equal(t, "t", dl.Headers["trace_id"])
	assert.NotContains(t, msg.Headers, HeaderOriginalTopic, "source headers are not mutated")
	assert.Equal(t, int64(1), c.metrics.MessagesDeadLettered.Load())
}

func TestProcessMessage_InvalidInputSkipsRetries(t *testing.T) {
	dlq := &recordingPublisher{}
	c := newTestConsumer(t, &mockKafkaReader{}, WithDeadLetter(dlq))
	attempts := 0
	handler := func(context.Context, *Message) error {
		attempts++
		return pkgerrors.New(pkgerrors.ErrCodeInvalidRequest, "bad envelope")
	}

	require.NoError(t, c.processMessage(context.Background(), &Message{Topic: TopicDocuments}, handler))
	assert.Equal(t, 1, attempts)
	assert.Len(t, dlq.msgs, 1)
}

func TestProcessMessage_DeadLetterFailureIsSwallowed(t *testing.T) {
	dlq := &recordingPublisher{err: errors.New("broker down")}
	c := newTestConsumer(t, &mockKafkaReader{}, WithDeadLetter(dlq))
	handler := func(context.Context, *Message) error { return errors.New("fail") }

	assert.NoError(t, c.processMessage(context.Background(), &Message{Topic: TopicDocuments}, handler))
	assert.Equal(t, int64(1), c.metrics.MessagesFailed.Load())
	assert.Zero(t, c.metrics.MessagesDeadLettered.Load())
}

func TestProcessMessage_CancelledDuringBackoff(t *testing.T) {
	c := newTestConsumer(t, &mockKafkaReader{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.processMessage(ctx, &Message{Topic: TopicDocuments}, func(context.Context, *Message) error {
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
