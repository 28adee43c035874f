package service

import (
	"context"
	"strconv"
	"time"

	"codejudge/internal/common/mq"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// attemptsHeader counts how often a submit message bounced off a full queue.
const attemptsHeader = "x-admission-attempts"

// RequeueConfig controls how intake messages are republished when the
// admission queue stays full.
type RequeueConfig struct {
	Producer   mq.Producer
	RetryTopic string
	DeadLetter string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c RequeueConfig) enabled() bool {
	return c.Producer != nil && c.RetryTopic != ""
}

func (c RequeueConfig) exhausted(attempts int) bool {
	return c.MaxRetries > 0 && attempts >= c.MaxRetries
}

// backoff returns BaseDelay<<attempts, capped at MaxDelay.
func (c RequeueConfig) backoff(attempts int) time.Duration {
	if c.BaseDelay <= 0 {
		return 0
	}
	delay := c.BaseDelay
	for ; attempts > 0; attempts-- {
		if c.MaxDelay > 0 && delay > c.MaxDelay/2 {
			return c.MaxDelay
		}
		delay <<= 1
	}
	if c.MaxDelay > 0 {
		delay = min(delay, c.MaxDelay)
	}
	return delay
}

// Requeue republishes msg on the retry topic after a backoff, or parks it on
// the dead letter topic once MaxRetries is reached.
func (c RequeueConfig) Requeue(ctx context.Context, msg *mq.Message) error {
	if !c.enabled() {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	attempts := admissionAttempts(msg)
	fields := []zap.Field{zap.String("message_id", msg.ID), zap.Int("attempts", attempts)}

	if c.exhausted(attempts) {
		if c.DeadLetter == "" {
			logger.Warn(ctx, "submit message gave up on a full queue", fields...)
			return appErr.New(appErr.QueueFull).WithMessage("judge queue is full")
		}
		logger.Warn(ctx, "submit message parked on dead letter topic", append(fields, zap.String("topic", c.DeadLetter))...)
		return c.Producer.Publish(ctx, c.DeadLetter, withAttempts(msg, attempts))
	}

	if delay := c.backoff(attempts); delay > 0 {
		fields = append(fields, zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			logger.Warn(ctx, "submit requeue interrupted", fields...)
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	logger.Info(ctx, "submit message requeued", append(fields, zap.String("topic", c.RetryTopic))...)
	return c.Producer.Publish(ctx, c.RetryTopic, withAttempts(msg, attempts+1))
}

func admissionAttempts(msg *mq.Message) int {
	if msg == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Headers[attemptsHeader])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// withAttempts copies msg with a fresh timestamp and the given attempt count.
func withAttempts(msg *mq.Message, attempts int) *mq.Message {
	out := mq.NewMessage(msg.ID, msg.Body)
	out.MaxRetries = msg.MaxRetries
	out.Expiration = msg.Expiration
	for k, v := range msg.Headers {
		out.SetHeader(k, v)
	}
	out.SetHeader(attemptsHeader, strconv.Itoa(attempts))
	return out
}
