package mq

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

var (
	errQueueClosed   = errors.New("message queue is closed")
	errTopicRequired = errors.New("topic is required")
)

// KafkaConfig defines configuration for the Kafka backend.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	ClientID string   `yaml:"clientID"`

	RequiredAcks kafka.RequiredAcks `yaml:"-"`
	BatchSize    int                `yaml:"batchSize"`
	BatchTimeout time.Duration      `yaml:"batchTimeout"`
	Compression  kafka.Compression  `yaml:"-"`

	MinBytes int           `yaml:"minBytes"`
	MaxBytes int           `yaml:"maxBytes"`
	MaxWait  time.Duration `yaml:"maxWait"`

	DialTimeout time.Duration `yaml:"dialTimeout"`
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	def := func(d *time.Duration, v time.Duration) {
		if *d == 0 {
			*d = v
		}
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 10 << 20
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
	def(&c.BatchTimeout, 20*time.Millisecond)
	def(&c.MaxWait, time.Second)
	def(&c.DialTimeout, 10*time.Second)
	return c
}

// KafkaQueue is both the status-event producer and the submit intake consumer.
type KafkaQueue struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu      sync.Mutex
	subs    []*kafkaSubscription
	running bool
	closed  bool
}

func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	cfg = cfg.withDefaults()
	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	transport := &kafka.Transport{
		ClientID: cfg.ClientID,
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}
	return &KafkaQueue{
		cfg:    cfg,
		dialer: dialer,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           cfg.RequiredAcks,
			BatchSize:              cfg.BatchSize,
			BatchTimeout:           cfg.BatchTimeout,
			Compression:            cfg.Compression,
			AllowAutoTopicCreation: true,
			Transport:              transport,
		},
	}, nil
}

// Publish writes message keyed by its ID, so events of one submission share
// a partition and stay ordered.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	switch {
	case message == nil:
		return errors.New("message is nil")
	case topic == "":
		return errTopicRequired
	}
	return k.writer.WriteMessages(ctx, encodeKafka(topic, message))
}

func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errTopicRequired
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var o SubscribeOptions
	if opts != nil {
		o = *opts
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sub := &kafkaSubscription{queue: k, topic: topic, handler: handler, opts: o.withDefaults(topic), parent: ctx}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errQueueClosed
	}
	k.subs = append(k.subs, sub)
	if k.running {
		sub.start()
	}
	return nil
}

func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errQueueClosed
	}
	if !k.running {
		for _, sub := range k.subs {
			sub.start()
		}
		k.running = true
	}
	return nil
}

// Stop cancels every subscription and waits for in-flight handlers.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subs {
		sub.cancel()
	}
	for _, sub := range k.subs {
		sub.wait()
	}
	k.running = false
	return nil
}

func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	already := k.closed
	k.closed = true
	k.mu.Unlock()
	if already {
		return nil
	}
	_ = k.Stop()
	return k.writer.Close()
}

type kafkaSubscription struct {
	queue   *KafkaQueue
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	parent  context.Context

	reader *kafka.Reader
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

func (s *kafkaSubscription) start() {
	cfg := s.queue.cfg
	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       s.topic,
		GroupID:     s.opts.ConsumerGroup,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.LastOffset,
		Dialer:      s.queue.dialer,
	})
	s.ctx, s.stop = context.WithCancel(s.parent)

	fetched := make(chan kafka.Message, s.opts.Concurrency*s.opts.PrefetchCount)
	s.wg.Add(1 + s.opts.Concurrency)
	go s.fetch(fetched)
	for range s.opts.Concurrency {
		go func() {
			defer s.wg.Done()
			for km := range fetched {
				s.deliver(km)
			}
		}()
	}
}

func (s *kafkaSubscription) cancel() {
	if s.stop != nil {
		s.stop()
	}
}

func (s *kafkaSubscription) wait() {
	s.wg.Wait()
	if s.reader != nil {
		_ = s.reader.Close()
		s.reader = nil
	}
}

// fetch pulls messages while the limiter has room. A held slot travels with
// the message and is released by deliver.
func (s *kafkaSubscription) fetch(out chan<- kafka.Message) {
	defer s.wg.Done()
	defer close(out)
	limiter := s.opts.Limiter
	for s.ctx.Err() == nil {
		if limiter != nil && limiter.Acquire(s.ctx) != nil {
			return
		}
		km, err := s.reader.FetchMessage(s.ctx)
		if err != nil {
			if limiter != nil {
				limiter.Release()
			}
			if s.ctx.Err() == nil {
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		select {
		case out <- km:
		case <-s.ctx.Done():
			if limiter != nil {
				limiter.Release()
			}
			return
		}
	}
}

// deliver runs the handler with retries, then commits. Exhausted messages go
// to the dead letter topic when one is configured.
func (s *kafkaSubscription) deliver(km kafka.Message) {
	if s.opts.Limiter != nil {
		defer s.opts.Limiter.Release()
	}
	defer func() { _ = s.reader.CommitMessages(s.ctx, km) }()

	m := decodeKafka(km)
	if m.MaxRetries == 0 {
		m.MaxRetries = s.opts.MaxRetries
	}
	if m.Expiration == 0 {
		m.Expiration = s.opts.MessageTTL
	}
	if m.Expired(time.Now()) {
		return
	}
	for {
		if s.handler(s.ctx, m) == nil {
			return
		}
		m.RetryCount++
		if s.ctx.Err() != nil {
			return
		}
		if m.RetryCount > m.MaxRetries {
			if s.opts.DeadLetterTopic != "" {
				_ = s.queue.Publish(s.ctx, s.opts.DeadLetterTopic, m)
			}
			return
		}
		select {
		case <-time.After(s.opts.RetryDelay):
		case <-s.ctx.Done():
			return
		}
	}
}
