package mq

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSConfig configures the SQS publisher. A topic given as a queue URL overrides
// QueueURL; any other topic name publishes to QueueURL.
type SQSConfig struct {
	Region   string `yaml:"region"`
	QueueURL string `yaml:"queueURL"`
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSProducer publishes messages to an AWS SQS queue.
type SQSProducer struct {
	client   sqsAPI
	queueURL string
}

// NewSQSProducer loads the default AWS credential chain for the region.
func NewSQSProducer(ctx context.Context, cfg SQSConfig) (*SQSProducer, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &SQSProducer{client: sqs.NewFromConfig(awsCfg), queueURL: cfg.QueueURL}, nil
}

// Publish sends one message. FIFO queues group by message id.
func (p *SQSProducer) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	queueURL := p.queueURL
	if strings.HasPrefix(topic, "https://") || strings.HasPrefix(topic, "http://") {
		queueURL = topic
	}
	if queueURL == "" {
		return errors.New("queue url is required")
	}
	attrs := make(map[string]types.MessageAttributeValue, len(message.Headers)+1)
	for k, v := range message.Headers {
		attrs[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	if message.ID != "" {
		attrs[metaID] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(message.ID)}
	}
	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(string(message.Body)),
		MessageAttributes: attrs,
	}
	if strings.HasSuffix(queueURL, ".fifo") {
		input.MessageGroupId = aws.String(message.ID)
		input.MessageDeduplicationId = aws.String(message.ID + "-" + message.Timestamp.Format("150405.000000000"))
	}
	_, err := p.client.SendMessage(ctx, input)
	return err
}

// Close is a no-op; the SDK client holds no connection.
func (p *SQSProducer) Close() error {
	return nil
}
