package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	// Send enqueues body. Messages sharing groupKey keep their relative order
	// on queues that support ordering groups; queues with native
	// deduplication drop a second body with the same dedupKey.
	Send(ctx context.Context, groupKey, dedupKey, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Queue carries inbound jobs from the webhook publisher to the worker. The
// in-memory and SQS queues implement it.
type Queue interface {
	queueClient
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*SQSQueue)(nil)
)

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const jobTypeInbound jobType = "inbound_message"

type queuePayload struct {
	ID      string         `json:"id"`
	Kind    jobType        `json:"kind"`
	Message InboundMessage `json:"message"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}

func decodePayload(body string) (queuePayload, error) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return queuePayload{}, fmt.Errorf("conversation: failed to decode payload: %w", err)
	}
	if payload.Kind != jobTypeInbound {
		return queuePayload{}, fmt.Errorf("conversation: unknown job kind %q", payload.Kind)
	}
	return payload, nil
}
