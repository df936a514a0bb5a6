package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagorragazzo/clinic-assistant/internal/appointments"
	"github.com/thiagorragazzo/clinic-assistant/internal/intent"
	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
)

type memoryHistory struct {
	mu        sync.Mutex
	log       map[string][]llm.Message
	appendErr error
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{log: map[string][]llm.Message{}}
}

func (h *memoryHistory) Append(_ context.Context, contact, role, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.appendErr != nil {
		return h.appendErr
	}
	h.log[contact] = append(h.log[contact], llm.Message{Role: role, Content: content})
	return nil
}

func (h *memoryHistory) RecentHistory(_ context.Context, contact string, limit int) ([]llm.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.log[contact]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]llm.Message(nil), msgs...), nil
}

func (h *memoryHistory) messages(contact string) []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]llm.Message(nil), h.log[contact]...)
}

type resolverFunc func(ctx context.Context, history []llm.Message) intent.Result

func (f resolverFunc) Resolve(ctx context.Context, history []llm.Message) intent.Result {
	return f(ctx, history)
}

type executorFunc func(ctx context.Context, res intent.Result, contact string) appointments.Outcome

func (f executorFunc) Execute(ctx context.Context, res intent.Result, contact string) appointments.Outcome {
	return f(ctx, res, contact)
}

type stubResponder struct {
	reply     string
	lastHints []string
	calls     int
}

func (r *stubResponder) Generate(_ context.Context, _ []llm.Message, hints []string) string {
	r.calls++
	r.lastHints = hints
	return r.reply
}

type recordingMessenger struct {
	mu      sync.Mutex
	replies []OutboundReply
	err     error
}

func (m *recordingMessenger) SendReply(_ context.Context, reply OutboundReply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.replies = append(m.replies, reply)
	return nil
}

type turnCounter struct {
	intents []string
	turns   int
}

func (c *turnCounter) ObserveIntent(intentType, source string) {
	c.intents = append(c.intents, intentType+"/"+source)
}
func (c *turnCounter) ObserveTurn(time.Duration, error) { c.turns++ }

const testContact = "whatsapp:+5511999990000"

func TestHandleTurnUsesOutcomeMessage(t *testing.T) {
	history := newMemoryHistory()
	messenger := &recordingMessenger{}
	responder := &stubResponder{reply: "generated"}
	obs := &turnCounter{}

	p := NewProcessor(history,
		resolverFunc(func(_ context.Context, h []llm.Message) intent.Result {
			require.Len(t, h, 1)
			return intent.Result{Type: intent.TypeCancel, Source: intent.SourceFallback}
		}),
		executorFunc(func(_ context.Context, res intent.Result, c string) appointments.Outcome {
			assert.Equal(t, testContact, c)
			return appointments.Outcome{State: appointments.StateActionResult, Action: appointments.ActionCancelled, Message: "Sua consulta foi cancelada."}
		}),
		responder, messenger, nil, WithTurnObserver(obs))

	res, err := p.HandleTurn(context.Background(), InboundMessage{ContactAddress: testContact, To: "whatsapp:+5511000000000", Text: "quero cancelar"})
	require.NoError(t, err)
	assert.Equal(t, "Sua consulta foi cancelada.", res.Reply)
	assert.Zero(t, responder.calls)

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "quero cancelar"},
		{Role: llm.RoleAssistant, Content: "Sua consulta foi cancelada."},
	}, history.messages(testContact))
	require.Len(t, messenger.replies, 1)
	assert.Equal(t, OutboundReply{To: testContact, From: "whatsapp:+5511000000000", Body: "Sua consulta foi cancelada."}, messenger.replies[0])
	assert.Equal(t, []string{"cancel/fallback"}, obs.intents)
	assert.Equal(t, 1, obs.turns)
}

func TestHandleTurnGeneratesReplyWithHints(t *testing.T) {
	history := newMemoryHistory()
	responder := &stubResponder{reply: "Qual o seu CPF?"}
	p := NewProcessor(history,
		resolverFunc(func(context.Context, []llm.Message) intent.Result { return intent.Result{Type: intent.TypeSchedule} }),
		executorFunc(func(context.Context, intent.Result, string) appointments.Outcome {
			return appointments.Outcome{State: appointments.StateNoAction, Hints: []string{"Preciso do seu CPF para continuar."}}
		}),
		responder, &recordingMessenger{}, nil)

	res, err := p.HandleTurn(context.Background(), InboundMessage{ContactAddress: testContact, Text: "quero marcar"})
	require.NoError(t, err)
	assert.Equal(t, "Qual o seu CPF?", res.Reply)
	assert.Equal(t, []string{"Preciso do seu CPF para continuar."}, responder.lastHints)
}

func TestHandleTurnPersistenceFailureStopsTurn(t *testing.T) {
	history := newMemoryHistory()
	history.appendErr = errors.New("db down")
	messenger := &recordingMessenger{}
	resolved := false
	p := NewProcessor(history,
		resolverFunc(func(context.Context, []llm.Message) intent.Result { resolved = true; return intent.Unknown() }),
		executorFunc(func(context.Context, intent.Result, string) appointments.Outcome { return appointments.Outcome{} }),
		&stubResponder{reply: "x"}, messenger, nil)

	_, err := p.HandleTurn(context.Background(), InboundMessage{ContactAddress: testContact, Text: "oi"})
	assert.Error(t, err)
	assert.False(t, resolved)
	assert.Empty(t, messenger.replies)
}

func TestHandleTurnRecordsReplyEvenIfSendFails(t *testing.T) {
	history := newMemoryHistory()
	p := NewProcessor(history,
		resolverFunc(func(context.Context, []llm.Message) intent.Result { return intent.Unknown() }),
		executorFunc(func(context.Context, intent.Result, string) appointments.Outcome { return appointments.Outcome{} }),
		&stubResponder{reply: "Olá!"}, &recordingMessenger{err: errors.New("twilio 500")}, nil)

	_, err := p.HandleTurn(context.Background(), InboundMessage{ContactAddress: testContact, Text: "oi"})
	assert.ErrorContains(t, err, "send reply")
	msgs := history.messages(testContact)
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
}

func TestHandleTurnRequiresContact(t *testing.T) {
	p := NewProcessor(newMemoryHistory(),
		resolverFunc(func(context.Context, []llm.Message) intent.Result { return intent.Unknown() }),
		executorFunc(func(context.Context, intent.Result, string) appointments.Outcome { return appointments.Outcome{} }),
		&stubResponder{}, &recordingMessenger{}, nil)
	_, err := p.HandleTurn(context.Background(), InboundMessage{Text: "oi"})
	assert.Error(t, err)
}

func TestHandleTurnSerializesSameContact(t *testing.T) {
	history := newMemoryHistory()
	var mu sync.Mutex
	active := 0
	overlap := false

	p := NewProcessor(history,
		resolverFunc(func(context.Context, []llm.Message) intent.Result {
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return intent.Unknown()
		}),
		executorFunc(func(context.Context, intent.Result, string) appointments.Outcome { return appointments.Outcome{} }),
		&stubResponder{reply: "ok"}, &recordingMessenger{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.HandleTurn(context.Background(), InboundMessage{ContactAddress: testContact, Text: "oi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.False(t, overlap)

	msgs := history.messages(testContact)
	require.Len(t, msgs, 10)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, llm.RoleUser, msgs[i].Role)
		assert.Equal(t, llm.RoleAssistant, msgs[i+1].Role)
	}
}
