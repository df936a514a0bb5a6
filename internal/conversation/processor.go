package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/thiagorragazzo/clinic-assistant/internal/appointments"
	"github.com/thiagorragazzo/clinic-assistant/internal/intent"
	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// InboundMessage is one patient message received from the messaging channel.
type InboundMessage struct {
	MessageID      string    `json:"message_id,omitempty"`
	ContactAddress string    `json:"contact_address"`
	To             string    `json:"to,omitempty"`
	Text           string    `json:"text"`
	ReceivedAt     time.Time `json:"received_at"`
}

// TurnResult summarizes a processed turn.
type TurnResult struct {
	Intent  intent.Result
	Outcome appointments.Outcome
	Reply   string
}

// HistoryStore is the message log a turn reads and appends to.
type HistoryStore interface {
	Append(ctx context.Context, contact, role, content string) error
	RecentHistory(ctx context.Context, contact string, limit int) ([]llm.Message, error)
}

// IntentResolver classifies the conversation so far.
type IntentResolver interface {
	Resolve(ctx context.Context, history []llm.Message) intent.Result
}

// ActionExecutor runs the calendar action for a resolved intent.
type ActionExecutor interface {
	Execute(ctx context.Context, res intent.Result, contact string) appointments.Outcome
}

// ReplyGenerator writes the conversational reply when the action produced none.
type ReplyGenerator interface {
	Generate(ctx context.Context, history []llm.Message, hints []string) string
}

// TurnObserver receives per-turn measurements.
type TurnObserver interface {
	ObserveIntent(intentType, source string)
	ObserveTurn(d time.Duration, err error)
}

// Processor handles one turn at a time per contact.
type Processor struct {
	history   HistoryStore
	resolver  IntentResolver
	executor  ActionExecutor
	responder ReplyGenerator
	messenger ReplyMessenger
	locker    ContactLocker
	observer  TurnObserver
	window    int
	logger    *logging.Logger
}

type ProcessorOption func(*Processor)

func WithContactLocker(l ContactLocker) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.locker = l
		}
	}
}

func WithTurnObserver(o TurnObserver) ProcessorOption {
	return func(p *Processor) { p.observer = o }
}

// WithHistoryWindow sets how many stored messages a turn loads.
func WithHistoryWindow(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.window = n
		}
	}
}

func NewProcessor(history HistoryStore, resolver IntentResolver, executor ActionExecutor, responder ReplyGenerator, messenger ReplyMessenger, logger *logging.Logger, opts ...ProcessorOption) *Processor {
	if history == nil || resolver == nil || executor == nil || responder == nil || messenger == nil {
		panic("conversation: processor requires history, resolver, executor, responder and messenger")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Processor{
		history:   history,
		resolver:  resolver,
		executor:  executor,
		responder: responder,
		messenger: messenger,
		locker:    NewLocalContactLocker(),
		window:    defaultResponseWindow,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleTurn appends the patient message, resolves and executes its intent,
// records the reply and sends it. Turns of the same contact never overlap.
func (p *Processor) HandleTurn(ctx context.Context, msg InboundMessage) (TurnResult, error) {
	contact := strings.TrimSpace(msg.ContactAddress)
	if contact == "" {
		return TurnResult{}, errors.New("conversation: inbound message without contact address")
	}

	start := time.Now()
	var result TurnResult
	err := p.locker.WithContactLock(ctx, contact, func(ctx context.Context) error {
		var err error
		result, err = p.turn(ctx, contact, msg)
		return err
	})
	if p.observer != nil {
		p.observer.ObserveTurn(time.Since(start), err)
	}
	return result, err
}

func (p *Processor) turn(ctx context.Context, contact string, msg InboundMessage) (TurnResult, error) {
	ctx, span := tracer.Start(ctx, "conversation.turn")
	defer span.End()

	if err := p.history.Append(ctx, contact, llm.RoleUser, msg.Text); err != nil {
		span.RecordError(err)
		return TurnResult{}, err
	}
	history, err := p.history.RecentHistory(ctx, contact, p.window)
	if err != nil {
		span.RecordError(err)
		return TurnResult{}, err
	}

	res := p.resolver.Resolve(ctx, history)
	if p.observer != nil {
		p.observer.ObserveIntent(string(res.Type), string(res.Source))
	}
	outcome := p.executor.Execute(ctx, res, contact)
	span.SetAttributes(
		attribute.String("intent.type", string(res.Type)),
		attribute.String("intent.source", string(res.Source)),
		attribute.String("outcome.action", string(outcome.Action)),
	)

	reply := outcome.Message
	if reply == "" {
		reply = p.responder.Generate(ctx, history, outcome.Hints)
	}
	result := TurnResult{Intent: res, Outcome: outcome, Reply: reply}

	if err := p.history.Append(ctx, contact, llm.RoleAssistant, reply); err != nil {
		span.RecordError(err)
		return result, err
	}
	if err := p.messenger.SendReply(ctx, OutboundReply{To: contact, From: msg.To, Body: reply}); err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("conversation: send reply: %w", err)
	}

	p.logger.Info("turn processed",
		"contact", contact,
		"intent", res.Type,
		"source", res.Source,
		"confidence", res.Confidence,
		"phase", outcome.Phase,
		"action", outcome.Action,
	)
	return result, nil
}
