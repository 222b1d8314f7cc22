package kafka

import (
	"context"
	"time"
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ProducerMessage is a record to publish.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one message. A returned error triggers retries
// and, once they are exhausted, dead-lettering.
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher publishes single messages. *Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg *ProducerMessage) error
}

// MessageObserver records message outcomes. *prometheus.AppMetrics
// satisfies it.
type MessageObserver interface {
	ObserveMessage(topic, result string, d time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveMessage(string, string, time.Duration) {}

// Message outcome labels.
const (
	ResultOK           = "ok"
	ResultRetried      = "retried"
	ResultError        = "error"
	ResultDeadLettered = "dead_lettered"
	ResultUnrouted     = "unrouted"
)
