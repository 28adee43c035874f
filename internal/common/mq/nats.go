package mq

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	ReconnectWait time.Duration `yaml:"reconnectWait"`
	MaxReconnects int           `yaml:"maxReconnects"`
}

// NATSProducer publishes messages on NATS subjects. Topic maps to subject.
type NATSProducer struct {
	nc *nats.Conn
}

// NewNATSProducer connects to the configured server.
func NewNATSProducer(cfg NATSConfig) (*NATSProducer, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	opts := []nats.Option{nats.Name(cfg.Name)}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSProducer{nc: nc}, nil
}

// Publish sends the body with headers carried as NATS message headers.
func (p *NATSProducer) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(topic)
	msg.Data = message.Body
	if message.ID != "" {
		msg.Header.Set(metaID, message.ID)
	}
	for k, v := range message.Headers {
		msg.Header.Set(k, v)
	}
	return p.nc.PublishMsg(msg)
}

// Close drains pending publishes before closing the connection.
func (p *NATSProducer) Close() error {
	return p.nc.Drain()
}
