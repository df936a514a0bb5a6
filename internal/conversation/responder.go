package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/thiagorragazzo/clinic-assistant/internal/intent"
	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

const (
	defaultResponseWindow  = 15
	defaultResponseTimeout = 20 * time.Second

	// FallbackReply is sent when no reply could be generated.
	FallbackReply = "Desculpe, não consegui processar sua mensagem agora. Pode repetir, por favor?"
)

const receptionistPrompt = `Você é a recepcionista virtual da %s e conversa com pacientes pelo WhatsApp, sempre em português do Brasil.

Você ajuda a agendar, cancelar e remarcar consultas e responde dúvidas gerais sobre a clínica.
Para agendar, você precisa de: nome completo, CPF, data e horário desejados.
Para cancelar ou remarcar, você precisa do CPF cadastrado (e da nova data e horário, no caso de remarcação).
Consultas duram 30 minutos e começam sempre em hora cheia ou meia hora.
Horário de atendimento: %s.

Regras:
- Seja cordial, objetiva e use mensagens curtas.
- Peça apenas as informações que ainda faltam, uma ou duas por vez.
- Nunca confirme um agendamento, cancelamento ou remarcação por conta própria: a confirmação é enviada pelo sistema.
- Nunca repita o CPF completo do paciente.
- Se não souber responder, diga que a equipe da clínica entrará em contato.`

// Responder generates the conversational reply for turns that did not
// produce a system message.
type Responder struct {
	client     llm.Client
	clinicName string
	window     int
	timeout    time.Duration
	location   *time.Location
	now        func() time.Time
	logger     *logging.Logger
}

type ResponderOption func(*Responder)

// WithResponseWindow sets how many trailing messages the model sees.
func WithResponseWindow(n int) ResponderOption {
	return func(r *Responder) {
		if n > 0 {
			r.window = n
		}
	}
}

func WithResponseTimeout(d time.Duration) ResponderOption {
	return func(r *Responder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithResponderLocation(loc *time.Location) ResponderOption {
	return func(r *Responder) {
		if loc != nil {
			r.location = loc
		}
	}
}

func withResponderClock(now func() time.Time) ResponderOption {
	return func(r *Responder) { r.now = now }
}

// NewResponder builds a responder. With a nil client every reply is built
// from the hints or FallbackReply.
func NewResponder(client llm.Client, clinicName string, logger *logging.Logger, opts ...ResponderOption) *Responder {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(clinicName) == "" {
		clinicName = "clínica"
	}
	r := &Responder{
		client:     client,
		clinicName: clinicName,
		window:     defaultResponseWindow,
		timeout:    defaultResponseTimeout,
		location:   time.UTC,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Generate returns the assistant reply for history. hints are the
// validation messages of the turn and are passed to the model as pending
// items to ask about.
func (r *Responder) Generate(ctx context.Context, history []llm.Message, hints []string) string {
	if r.client == nil {
		return hintReply(hints)
	}

	ctx, span := tracer.Start(ctx, "conversation.generate_reply")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Complete(ctx, llm.Request{
		System:      r.systemPrompt(hints),
		Messages:    intent.Window(history, r.window),
		MaxTokens:   400,
		Temperature: 0.4,
		TopP:        0.9,
	})
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("reply generation failed", "error", err)
		return hintReply(hints)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		r.logger.Warn("reply generation returned empty text", "stop_reason", resp.StopReason)
		return hintReply(hints)
	}
	return text
}

func (r *Responder) systemPrompt(hints []string) []string {
	now := r.now().In(r.location)
	system := []string{
		fmt.Sprintf(receptionistPrompt, r.clinicName, validation.DescribeBusinessHours()),
		fmt.Sprintf("Hoje é %s, %s.", validation.WeekdayName(now.Weekday()), now.Format("02/01/2006")),
	}
	if len(hints) > 0 {
		system = append(system, "Pendências desta conversa (peça ao paciente de forma natural):\n- "+strings.Join(hints, "\n- "))
	}
	return system
}

func hintReply(hints []string) string {
	if len(hints) == 0 {
		return FallbackReply
	}
	return strings.Join(hints, " ")
}
