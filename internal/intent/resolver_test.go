package intent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
)

type stubClient struct {
	text string
	err  error
	got  llm.Request
	fn   func()
}

func (s *stubClient) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.got = req
	if s.fn != nil {
		s.fn()
	}
	if s.err != nil {
		return llm.Response{}, s.err
	}
	return llm.Response{Text: s.text}, nil
}

func newTestResolver(client llm.Client) *Resolver {
	return NewResolver(client, nil, WithClock(func() time.Time { return fixedNow }), WithLocation(time.UTC))
}

func history(msgs ...string) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for i, m := range msgs {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m})
	}
	return out
}

func TestResolveUsesNLPResult(t *testing.T) {
	client := &stubClient{text: "```json\n{\"type\":\"schedule\",\"confidence\":0.92,\"entities\":{\"full_name\":\"Ana  Silva\",\"cpf\":\"111.444.777-35\",\"data\":\"15/03/2025\",\"hora\":\"14h30\"}}\n```"}
	got := newTestResolver(client).Resolve(context.Background(), history("quero agendar"))

	assert.Equal(t, TypeSchedule, got.Type)
	assert.Equal(t, SourceNLP, got.Source)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)
	assert.Equal(t, Entities{
		IdentityNumber: "11144477735",
		Date:           "2025-03-15",
		Time:           "14:30",
		FullName:       "Ana Silva",
	}, got.Entities)
	assert.True(t, got.IdentityVerified)

	assert.InDelta(t, 0.1, client.got.Temperature, 1e-6)
	assert.InDelta(t, 0.9, client.got.TopP, 1e-6)
	require.Len(t, client.got.Messages, 1)
	assert.Equal(t, "Paciente: quero agendar", client.got.Messages[0].Content)
}

func TestResolveFallsBackOnCollaboratorError(t *testing.T) {
	client := &stubClient{err: errors.New("timeout")}
	got := newTestResolver(client).Resolve(context.Background(),
		history("quero cancelar minha consulta, meu cpf é 111.444.777-35"))

	assert.Equal(t, TypeCancel, got.Type)
	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, "11144477735", got.Entities.IdentityNumber)
	assert.True(t, got.IdentityVerified)
}

func TestResolveFallsBackOnMalformedOutput(t *testing.T) {
	for _, text := range []string{
		"Claro! Posso ajudar.",
		`{"type": "agendar"}`,
		`{"type": "schedule", "confidence": 7}`,
		`{"type": "schedule", "entities": {"date": 20250315}}`,
		`{"confidence": 0.5}`,
		`{"type": "schedule",}`,
	} {
		got := newTestResolver(&stubClient{text: text}).Resolve(context.Background(), history("quero agendar"))
		assert.Equal(t, SourceFallback, got.Source, text)
		assert.Equal(t, TypeSchedule, got.Type, text)
	}
}

func TestResolveFallbackIgnoresAssistantKeywords(t *testing.T) {
	got := newTestResolver(nil).Resolve(context.Background(),
		history("qual o valor da consulta?", "Deseja agendar ou cancelar algo?", "só queria saber o preço"))
	assert.Equal(t, TypeInformation, got.Type)
}

func TestResolveEmptyHistoryIsUnknown(t *testing.T) {
	got := newTestResolver(&stubClient{}).Resolve(context.Background(), nil)
	assert.Equal(t, Unknown(), got)
	assert.Equal(t, TypeUnknown, got.Type)
	assert.Equal(t, 0.1, got.Confidence)
	assert.True(t, got.Entities.Empty())
}

func TestResolveRecoversFromPanic(t *testing.T) {
	client := &stubClient{fn: func() { panic("boom") }}
	got := newTestResolver(client).Resolve(context.Background(), history("oi"))
	assert.Equal(t, Unknown(), got)
}

func TestResolveUsesLastFiveMessages(t *testing.T) {
	client := &stubClient{text: `{"type":"information"}`}
	msgs := history("m1", "m2", "m3", "m4", "m5", "m6", "m7")
	got := newTestResolver(client).Resolve(context.Background(), msgs)

	assert.Equal(t, 0.8, got.Confidence)
	assert.Equal(t, "Paciente: m3\nAssistente: m4\nPaciente: m5\nAssistente: m6\nPaciente: m7", client.got.Messages[0].Content)
}

func TestDecodeAcceptsNullEntities(t *testing.T) {
	got, err := Decode(`{"type":"cancel","confidence":0.7,"entities":{"identity_number":null,"date":null}}`)
	require.NoError(t, err)
	assert.Equal(t, TypeCancel, got.Type)
	assert.True(t, got.Entities.Empty())

	got, err = Decode(`{"type":"information","entities":null}`)
	require.NoError(t, err)
	assert.True(t, got.Entities.Empty())
}

func TestDecodeUnparseable(t *testing.T) {
	_, err := Decode("no json here")
	assert.ErrorIs(t, err, ErrUnparseable)
	_, err = Decode("} backwards {")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestEntitiesJSONAliases(t *testing.T) {
	var e Entities
	require.NoError(t, json.Unmarshal([]byte(`{"nome":"Ana Silva","cpf":11144477735,"data":"2025-03-15","hora":"14:30","telefone":"+5511999990000"}`), &e))
	assert.Equal(t, Entities{
		IdentityNumber: "11144477735",
		Date:           "2025-03-15",
		Time:           "14:30",
		FullName:       "Ana Silva",
		ContactAddress: "+5511999990000",
	}, e)

	out, err := json.Marshal(Entities{Date: "2025-03-15"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025-03-15"}`, string(out))
}

func TestSystemInstructionMentionsToday(t *testing.T) {
	got := SystemInstruction(fixedNow)
	assert.Contains(t, got, "2025-03-10")
	assert.Contains(t, got, "segunda-feira")
	assert.Contains(t, got, `"reschedule"`)
}
