package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, params)
	return &sns.PublishOutput{}, f.err
}

func TestSNSClient_PublishTagsEventType(t *testing.T) {
	api := &fakeSNS{}
	client := &SNSClient{client: api}

	err := client.Publish(context.Background(), "arn:aws:sns:us-east-1:000000000000:orders", "order_paid", []byte(`{"order_id":42}`))
	require.NoError(t, err)

	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:orders", *in.TopicArn)
	assert.Equal(t, `{"order_id":42}`, *in.Message)
	attr, ok := in.MessageAttributes[EventTypeAttribute]
	require.True(t, ok)
	assert.Equal(t, "String", *attr.DataType)
	assert.Equal(t, "order_paid", *attr.StringValue)
}

func TestSNSClient_PublishValidatesInput(t *testing.T) {
	api := &fakeSNS{}
	client := &SNSClient{client: api}

	assert.ErrorIs(t, client.Publish(context.Background(), "", "order_paid", []byte(`{}`)), ErrEmptyTopic)
	assert.ErrorIs(t, client.Publish(context.Background(), "arn:topic", "order_paid", nil), ErrEmptyMessage)
	assert.Empty(t, api.inputs)
}

func TestSNSClient_PublishWrapsError(t *testing.T) {
	throttled := errors.New("throttled")
	client := &SNSClient{client: &fakeSNS{err: throttled}}

	err := client.Publish(context.Background(), "arn:topic", "order_paid", []byte(`{}`))
	assert.ErrorIs(t, err, throttled)
}
