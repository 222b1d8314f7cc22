package kafka

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New(errors.ErrCodeMessagingError, "consumer already running")
	ErrConsumerClosed = errors.New(errors.ErrCodeMessagingError, "consumer closed")
)

// Header keys added to dead-lettered messages.
const (
	HeaderOriginalTopic = "original_topic"
	HeaderErrorMessage  = "error_message"
	HeaderAttempts      = "attempts"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	Topics         []string
	StartOffset    string
	MinBytes       int
	MaxBytes       int
	MaxWait        time.Duration
	CommitInterval time.Duration
	RetryConfig    RetryConfig
}

// ConsumerConfigFrom maps the service configuration onto the consumer.
func ConsumerConfigFrom(cfg config.KafkaConfig) ConsumerConfig {
	return ConsumerConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topics:         []string{cfg.InputTopic},
		StartOffset:    cfg.StartOffset,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: cfg.CommitInterval,
		RetryConfig: RetryConfig{
			MaxRetries:      cfg.MaxRetries,
			RetryBackoff:    cfg.RetryBackoff,
			DeadLetterTopic: cfg.DeadLetterTopic,
		},
	}
}

// ConsumerMetrics holds consumer metrics.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
	Lag                  atomic.Int64
}

// ConsumerStats is a point-in-time copy of ConsumerMetrics.
type ConsumerStats struct {
	Consumed     int64 `json:"consumed"`
	Processed    int64 `json:"processed"`
	Failed       int64 `json:"failed"`
	Retried      int64 `json:"retried"`
	DeadLettered int64 `json:"dead_lettered"`
	Lag          int64 `json:"lag"`
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter sends messages whose retries are exhausted through p.
func WithDeadLetter(p Publisher) ConsumerOption {
	return func(c *Consumer) { c.deadLetter = p }
}

// WithObserver records message outcomes.
func WithObserver(o MessageObserver) ConsumerOption {
	return func(c *Consumer) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithReader replaces the kafka reader.
func WithReader(r ReaderInterface) ConsumerOption {
	return func(c *Consumer) { c.reader = r }
}

// Consumer fetches messages from a consumer group, dispatches them by topic
// and commits each offset once its message is handled or dead-lettered.
type Consumer struct {
	reader ReaderInterface
	config ConsumerConfig
	logger logging.Logger

	handlers map[string]MessageHandler
	mu       sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	deadLetter Publisher
	observer   MessageObserver
	metrics    *ConsumerMetrics
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewConsumer creates a Consumer.
func NewConsumer(cfg ConsumerConfig, logger logging.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	applyConsumerDefaults(&cfg)

	c := &Consumer{
		config:   cfg,
		logger:   logger.Named("kafka_consumer"),
		handlers: make(map[string]MessageHandler),
		observer: noopObserver{},
		metrics:  &ConsumerMetrics{},
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reader == nil {
		readerCfg := kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			GroupTopics:    cfg.Topics,
			MinBytes:       cfg.MinBytes,
			MaxBytes:       cfg.MaxBytes,
			MaxWait:        cfg.MaxWait,
			CommitInterval: cfg.CommitInterval,
			StartOffset:    kafka.FirstOffset,
		}
		if cfg.StartOffset == "latest" {
			readerCfg.StartOffset = kafka.LastOffset
		}
		c.reader = kafka.NewReader(readerCfg)
	}
	return c, nil
}

func applyConsumerDefaults(cfg *ConsumerConfig) {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 * 1024 * 1024
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}
	if cfg.RetryConfig.RetryBackoff == 0 {
		cfg.RetryConfig.RetryBackoff = time.Second
	}
	if cfg.RetryConfig.MaxRetryBackoff == 0 {
		cfg.RetryConfig.MaxRetryBackoff = 30 * time.Second
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Subscribe routes messages of topic to handler.
func (c *Consumer) Subscribe(topic string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.logger.Info("Subscribed to topic", logging.String("topic", topic))
}

// Start runs the consume loop in the background until ctx is cancelled or
// Close is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.Info("Kafka consumer started",
		logging.String("group", c.config.GroupID),
		logging.Strings("topics", c.config.Topics))
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("FetchMessage error", logging.Err(err))
			if c.sleep(ctx, time.Second) != nil {
				return
			}
			continue
		}

		c.metrics.MessagesConsumed.Add(1)
		if m.HighWaterMark > 0 {
			c.metrics.Lag.Store(m.HighWaterMark - m.Offset - 1)
		}

		msg := &Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Timestamp: m.Time,
			Headers:   make(map[string]string, len(m.Headers)),
		}
		for _, h := range m.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}

		c.mu.RLock()
		handler, ok := c.handlers[m.Topic]
		c.mu.RUnlock()

		if !ok {
			c.logger.Warn("No handler for topic", logging.String("topic", m.Topic))
			c.observer.ObserveMessage(m.Topic, ResultUnrouted, 0)
		} else if err := c.processMessage(ctx, msg, handler); err != nil {
			// Cancelled mid-retry: leave the offset uncommitted so the
			// message is redelivered.
			return
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("CommitMessages failed", logging.Err(err), logging.Int64("offset", m.Offset))
		}
	}
}

// processMessage runs handler with exponential-backoff retries. A message
// that still fails is dead-lettered when a dead-letter topic is configured,
// and dropped otherwise. Only context cancellation is returned as an error.
func (c *Consumer) processMessage(ctx context.Context, msg *Message, handler MessageHandler) error {
	start := time.Now()
	err := handler(ctx, msg)
	if err == nil {
		c.metrics.MessagesProcessed.Add(1)
		c.observer.ObserveMessage(msg.Topic, ResultOK, time.Since(start))
		return nil
	}

	retry := c.config.RetryConfig
	backoff := retry.RetryBackoff
	attempts := 1
	for i := 0; i < retry.MaxRetries; i++ {
		if errors.IsCode(err, errors.ErrCodeInvalidRequest) || errors.IsCode(err, errors.ErrCodeEmptyText) {
			// Malformed input will not improve on retry.
			break
		}
		c.metrics.MessagesRetried.Add(1)
		c.observer.ObserveMessage(msg.Topic, ResultRetried, 0)
		c.logger.Warn("Retrying message",
			logging.String("topic", msg.Topic),
			logging.Int64("offset", msg.Offset),
			logging.Int("attempt", attempts+1),
			logging.Err(err))

		if serr := c.sleep(ctx, backoff); serr != nil {
			return serr
		}
		attempts++
		if err = handler(ctx, msg); err == nil {
			c.metrics.MessagesProcessed.Add(1)
			c.observer.ObserveMessage(msg.Topic, ResultOK, time.Since(start))
			return nil
		}

		backoff *= 2
		if backoff > retry.MaxRetryBackoff {
			backoff = retry.MaxRetryBackoff
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.metrics.MessagesFailed.Add(1)
	c.observer.ObserveMessage(msg.Topic, ResultError, time.Since(start))
	c.logger.Error("Message processing failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Int("attempts", attempts),
		logging.Err(err))

	if c.deadLetter == nil || retry.DeadLetterTopic == "" {
		return nil
	}
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderErrorMessage] = err.Error()
	headers[HeaderAttempts] = strconv.Itoa(attempts)

	dl := &ProducerMessage{Topic: retry.DeadLetterTopic, Key: msg.Key, Value: msg.Value, Headers: headers}
	if dlErr := c.deadLetter.Publish(ctx, dl); dlErr != nil {
		c.logger.Error("Failed to send to dead letter queue", logging.Err(dlErr))
		return nil
	}
	c.metrics.MessagesDeadLettered.Add(1)
	c.observer.ObserveMessage(msg.Topic, ResultDeadLettered, 0)
	return nil
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Consumed:     c.metrics.MessagesConsumed.Load(),
		Processed:    c.metrics.MessagesProcessed.Load(),
		Failed:       c.metrics.MessagesFailed.Load(),
		Retried:      c.metrics.MessagesRetried.Load(),
		DeadLettered: c.metrics.MessagesDeadLettered.Load(),
		Lag:          c.metrics.Lag.Load(),
	}
}

// Close stops the loop, waits for the in-flight message and closes the
// reader.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	c.logger.Info("Kafka consumer closed",
		logging.Int64("consumed", c.metrics.MessagesConsumed.Load()),
		logging.Int64("dead_lettered", c.metrics.MessagesDeadLettered.Load()))
	return err
}

// ValidateConsumerConfig validates configuration.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "Brokers required")
	}
	if cfg.GroupID == "" {
		return errors.New(errors.ErrCodeValidation, "GroupID required")
	}
	if len(cfg.Topics) == 0 || cfg.Topics[0] == "" {
		return errors.New(errors.ErrCodeValidation, "Topics required")
	}
	if cfg.StartOffset != "" && cfg.StartOffset != "earliest" && cfg.StartOffset != "latest" {
		return errors.New(errors.ErrCodeValidation, "Invalid StartOffset")
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "MaxRetries must be >= 0")
	}
	return nil
}
