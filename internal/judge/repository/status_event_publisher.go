package repository

import (
	"context"
	"encoding/json"
	"time"

	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

// StatusEventPublisher announces final verdicts to downstream consumers.
type StatusEventPublisher interface {
	PublishFinal(ctx context.Context, sub model.Submission) error
}

// BrokerStatusPublisher sends final status events through any mq.Producer,
// so Kafka, NATS and SQS share one encoding.
type BrokerStatusPublisher struct {
	producer mq.Producer
	topic    string
	now      func() time.Time
}

func NewBrokerStatusPublisher(producer mq.Producer, topic string) *BrokerStatusPublisher {
	return &BrokerStatusPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *BrokerStatusPublisher) PublishFinal(ctx context.Context, sub model.Submission) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}
	msg, err := p.encode(sub)
	if err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, p.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.MessageQueueError, "publish status event for %s", sub.ID)
	}
	return nil
}

// encode builds the broker message. Source code never leaves the service.
func (p *BrokerStatusPublisher) encode(sub model.Submission) (*mq.Message, error) {
	if !sub.Terminal() {
		return nil, appErr.Newf(appErr.InvalidParams, "submission %s is not final", sub.ID)
	}
	sub.Code = ""
	body, err := json.Marshal(model.StatusEvent{
		Type:       model.StatusEventFinal,
		Submission: sub,
		CreatedAt:  p.now().Unix(),
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.MessageQueueError, "encode status event")
	}
	msg := mq.NewMessage(sub.ID+":"+model.StatusEventFinal, body)
	for k, v := range map[string]string{
		"submission_id": sub.ID,
		"status":        string(sub.Status),
		"user_id":       sub.UserID,
		"problem_id":    sub.ProblemID,
	} {
		if v != "" {
			msg.SetHeader(k, v)
		}
	}
	return msg, nil
}

// DiscardStatusPublisher drops events when no broker is configured.
type DiscardStatusPublisher struct{}

func (DiscardStatusPublisher) PublishFinal(context.Context, model.Submission) error { return nil }
