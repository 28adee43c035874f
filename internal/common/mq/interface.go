package mq

import (
	"context"
	"time"
)

// Producer publishes messages to a topic. Kafka, NATS and SQS backends implement it.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
	Close() error
}

// Consumer delivers messages from a topic to a handler. Handlers registered
// with Subscribe see no traffic until Start.
type Consumer interface {
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	Stop() error
}

// HandlerFunc processes one message. A returned error triggers redelivery.
type HandlerFunc func(ctx context.Context, message *Message) error

// Message is the transport-neutral unit carried by every backend.
type Message struct {
	ID         string            `json:"id"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	// Expiration drops the message unprocessed once it is older than this.
	Expiration time.Duration `json:"expiration"`
}

func NewMessage(id string, body []byte) *Message {
	return &Message{ID: id, Body: body, Headers: map[string]string{}, Timestamp: time.Now()}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[key] = value
}

// Expired reports whether the message outlived its expiration at now.
func (m *Message) Expired(now time.Time) bool {
	if m.Expiration <= 0 || m.Timestamp.IsZero() {
		return false
	}
	return now.Sub(m.Timestamp) > m.Expiration
}

// SubscribeOptions tune one subscription. Zero values pick defaults.
type SubscribeOptions struct {
	ConsumerGroup string
	// PrefetchCount bounds buffered messages per worker.
	PrefetchCount int
	// Concurrency is the number of handler goroutines.
	Concurrency     int
	MaxRetries      int
	RetryDelay      time.Duration
	DeadLetterTopic string
	MessageTTL      time.Duration
	// Limiter, when set, bounds messages in flight across subscriptions.
	Limiter FetchLimiter
}

func (o SubscribeOptions) withDefaults(topic string) SubscribeOptions {
	o.PrefetchCount = max(o.PrefetchCount, 1)
	o.Concurrency = max(o.Concurrency, 1)
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
	if o.ConsumerGroup == "" {
		o.ConsumerGroup = "codejudge-" + topic
	}
	return o
}
