package intent

import (
	"fmt"
	"strings"
	"time"

	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
)

const classificationPrompt = `Você analisa conversas de WhatsApp de uma clínica médica e extrai a intenção do paciente.

Responda SOMENTE com um objeto JSON, sem texto extra, no formato:
{"type": "...", "confidence": 0.0, "entities": {...}}

Valores de "type":
- "schedule": o paciente quer marcar uma nova consulta
- "cancel": o paciente quer cancelar uma consulta existente
- "reschedule": o paciente quer mudar a data ou o horário de uma consulta existente
- "information": dúvidas gerais (preços, endereço, convênios, horários de funcionamento)

"confidence" é um número entre 0 e 1.

Chaves possíveis em "entities" (omita as que não aparecem na conversa):
- "identity_number": CPF do paciente, só dígitos
- "date": data desejada no formato YYYY-MM-DD
- "time": horário desejado no formato HH:MM (24h)
- "full_name": nome completo do paciente
- "contact_address": telefone informado na conversa
- "email": e-mail do paciente, se informado

Considere a conversa inteira: o paciente pode ter informado dados em mensagens anteriores.`

// SystemInstruction returns the classification prompt anchored to today so
// relative dates can be resolved.
func SystemInstruction(now time.Time) string {
	return fmt.Sprintf("%s\n\nHoje é %s, %s. Horário de atendimento: %s.",
		classificationPrompt,
		validation.WeekdayName(now.Weekday()),
		now.Format(validation.ISODate),
		validation.DescribeBusinessHours(),
	)
}

// Window returns the last n messages of history.
func Window(history []llm.Message, n int) []llm.Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// BuildTranscript renders messages one per line, labelled by role.
func BuildTranscript(messages []llm.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		content := strings.Join(strings.Fields(msg.Content), " ")
		if content == "" {
			continue
		}
		b.WriteString(roleLabel(msg.Role))
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// PatientText joins only the patient's own messages. Keyword scoring uses it
// so that the assistant's questions do not count as patient intent.
func PatientText(messages []llm.Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleUser && strings.TrimSpace(msg.Content) != "" {
			parts = append(parts, strings.TrimSpace(msg.Content))
		}
	}
	return strings.Join(parts, "\n")
}

func roleLabel(role string) string {
	switch role {
	case llm.RoleUser:
		return "Paciente"
	case llm.RoleAssistant:
		return "Assistente"
	default:
		return "Sistema"
	}
}
