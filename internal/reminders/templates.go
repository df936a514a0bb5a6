package reminders

import (
	"fmt"
	"strings"
	"time"

	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
)

// MessageTemplate renders the reminder text in the clinic's time zone.
func MessageTemplate(r *Reminder, clinicName string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	start := r.AppointmentStart.In(loc)

	greeting := "Olá!"
	if first := firstName(r.PatientName); first != "" {
		greeting = fmt.Sprintf("Olá, %s!", first)
	}
	clinic := strings.TrimSpace(clinicName)
	if clinic == "" {
		clinic = "clínica"
	}

	switch r.Kind {
	case KindSameDay:
		return fmt.Sprintf("%s Sua consulta na %s é hoje às %s. Até logo!",
			greeting, clinic, start.Format(validation.ClockTime))
	default:
		return fmt.Sprintf("%s Lembrete da %s: sua consulta é amanhã, %s. Se precisar cancelar ou remarcar, é só responder esta mensagem.",
			greeting, clinic, validation.FormatSlot(start))
	}
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
