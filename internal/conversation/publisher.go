package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// Publisher enqueues inbound messages for asynchronous processing.
type Publisher struct {
	queue   queueClient
	deduper InboundDeduper
	logger  *logging.Logger
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

// WithInboundDeduper replaces the in-process deduper, e.g. with a Redis one
// shared across replicas.
func WithInboundDeduper(d InboundDeduper) PublisherOption {
	return func(p *Publisher) {
		if d != nil {
			p.deduper = d
		}
	}
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger, opts ...PublisherOption) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Publisher{queue: queue, deduper: NewLocalInboundDeduper(0), logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue publishes msg and returns the job id. A message whose provider id
// was already enqueued is acknowledged without being published again.
func (p *Publisher) Enqueue(ctx context.Context, msg InboundMessage) (string, error) {
	msg.ContactAddress = strings.TrimSpace(msg.ContactAddress)
	if msg.ContactAddress == "" {
		return "", errors.New("conversation: inbound message without contact address")
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	if msg.MessageID != "" {
		first, err := p.deduper.Claim(ctx, msg.MessageID)
		switch {
		case err != nil:
			p.logger.Warn("inbound dedupe unavailable, enqueueing anyway", "message_id", msg.MessageID, "error", err)
		case !first:
			p.logger.Info("duplicate inbound message ignored", "message_id", msg.MessageID, "contact", msg.ContactAddress)
			return msg.MessageID, nil
		}
	}

	payload, body, err := encodePayload(queuePayload{ID: msg.MessageID, Kind: jobTypeInbound, Message: msg})
	if err != nil {
		p.release(ctx, msg.MessageID)
		return "", err
	}
	if err := p.queue.Send(ctx, msg.ContactAddress, msg.MessageID, body); err != nil {
		p.release(ctx, msg.MessageID)
		return "", fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}

	p.logger.Debug("conversation job enqueued", "job_id", payload.ID, "contact", msg.ContactAddress)
	return payload.ID, nil
}

func (p *Publisher) release(ctx context.Context, messageID string) {
	if messageID == "" {
		return
	}
	if err := p.deduper.Release(context.WithoutCancel(ctx), messageID); err != nil {
		p.logger.Warn("failed to release inbound dedupe claim", "message_id", messageID, "error", err)
	}
}
