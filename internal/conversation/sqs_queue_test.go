package conversation

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent    []*sqs.SendMessageInput
	deleted []string
	inbox   []types.Message
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	n := int(in.MaxNumberOfMessages)
	if n > len(f.inbox) {
		n = len(f.inbox)
	}
	out := f.inbox[:n]
	f.inbox = f.inbox[n:]
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueFIFOUsesContactGroup(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.sa-east-1.amazonaws.com/123/turns.fifo")

	require.NoError(t, q.Send(context.Background(), "whatsapp:+5511999990000", "SM123", `{"id":"SM123","received_at":"a"}`))
	require.NoError(t, q.Send(context.Background(), "whatsapp:+5511999990000", "SM123", `{"id":"SM123","received_at":"b"}`))
	require.Len(t, api.sent, 2)
	assert.Equal(t, "whatsapp:+5511999990000", aws.ToString(api.sent[0].MessageGroupId))
	assert.Equal(t, "SM123", aws.ToString(api.sent[0].MessageDeduplicationId))
	assert.Equal(t, "SM123", aws.ToString(api.sent[1].MessageDeduplicationId), "redelivery keeps the dedup id")

	require.NoError(t, q.Send(context.Background(), "whatsapp:+5511999990000", "", `{"id":"1"}`))
	assert.NotEmpty(t, aws.ToString(api.sent[2].MessageDeduplicationId))
}

func TestSQSQueueStandardOmitsGroup(t *testing.T) {
	api := &fakeSQS{}
	q := NewSQSQueue(api, "https://sqs.sa-east-1.amazonaws.com/123/turns")

	require.NoError(t, q.Send(context.Background(), "whatsapp:+5511999990000", "SM1", `{"id":"1"}`))
	assert.Nil(t, api.sent[0].MessageGroupId)
	assert.Nil(t, api.sent[0].MessageDeduplicationId)
}

func TestSQSQueueReceiveAndDelete(t *testing.T) {
	api := &fakeSQS{inbox: []types.Message{
		{MessageId: aws.String("a"), Body: aws.String("one"), ReceiptHandle: aws.String("r-a")},
		{MessageId: aws.String("b"), Body: aws.String("two"), ReceiptHandle: aws.String("r-b")},
	}}
	q := NewSQSQueue(api, "https://sqs.sa-east-1.amazonaws.com/123/turns")

	msgs, err := q.Receive(context.Background(), 5, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[1].Body)

	require.NoError(t, q.Delete(context.Background(), "r-a"))
	require.NoError(t, q.Delete(context.Background(), ""))
	assert.Equal(t, []string{"r-a"}, api.deleted)
}
