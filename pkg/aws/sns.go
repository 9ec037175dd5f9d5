package aws

import (
	"context"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// EventTypeAttribute is the SNS message attribute subscribers filter on.
const EventTypeAttribute = "event_type"

var (
	ErrEmptyTopic   = errors.New("empty topicArn")
	ErrEmptyMessage = errors.New("empty message")
)

// SNSPublisher announces order events, such as order_paid after a checkout
// is reconciled, to downstream services.
type SNSPublisher interface {
	Publish(ctx context.Context, topicArn, eventType string, message []byte) error
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client snsAPI
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return &SNSClient{client: sns.NewFromConfig(cfg)}
}

// Publish sends message to topicArn tagged with eventType, so a queue
// subscribed with a filter policy on event_type only sees the events it
// asked for.
func (s *SNSClient) Publish(ctx context.Context, topicArn, eventType string, message []byte) error {
	input, err := publishInput(topicArn, eventType, message)
	if err != nil {
		return err
	}
	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns publish %s to %s: %w", eventType, topicArn, err)
	}
	return nil
}

func publishInput(topicArn, eventType string, message []byte) (*sns.PublishInput, error) {
	if topicArn == "" {
		return nil, ErrEmptyTopic
	}
	if len(message) == 0 {
		return nil, ErrEmptyMessage
	}
	input := &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(message)),
	}
	if eventType != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			EventTypeAttribute: {
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(eventType),
			},
		}
	}
	return input, nil
}
