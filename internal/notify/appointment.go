package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/thiagorragazzo/clinic-assistant/internal/appointments"
	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// AppointmentNotifier e-mails patients when an appointment is booked,
// cancelled or moved.
type AppointmentNotifier struct {
	sender     EmailSender
	clinicName string
	loc        *time.Location
	logger     *logging.Logger
}

func NewAppointmentNotifier(sender EmailSender, clinicName string, loc *time.Location, logger *logging.Logger) *AppointmentNotifier {
	if sender == nil {
		panic("notify: email sender cannot be nil")
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentNotifier{sender: sender, clinicName: clinicName, loc: loc, logger: logger}
}

// Notify renders and sends the e-mail for n.
func (a *AppointmentNotifier) Notify(ctx context.Context, n appointments.Notification) error {
	if strings.TrimSpace(n.Email) == "" {
		return nil
	}
	msg, err := a.render(n)
	if err != nil {
		return err
	}
	if err := a.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: %s e-mail: %w", n.Kind, err)
	}
	a.logger.Info("appointment e-mail sent", "kind", string(n.Kind), "appointment_id", n.Appointment.ID.String())
	return nil
}

func (a *AppointmentNotifier) render(n appointments.Notification) (EmailMessage, error) {
	when := validation.FormatSlot(n.Appointment.StartTime.In(a.loc))

	var subject, line string
	switch n.Kind {
	case appointments.NotifyScheduled:
		subject = fmt.Sprintf("Consulta confirmada - %s", a.clinicName)
		line = fmt.Sprintf("Sua consulta na %s está confirmada para %s.", a.clinicName, when)
	case appointments.NotifyCancelled:
		subject = fmt.Sprintf("Consulta cancelada - %s", a.clinicName)
		line = fmt.Sprintf("Sua consulta na %s de %s foi cancelada.", a.clinicName, when)
	case appointments.NotifyRescheduled:
		subject = fmt.Sprintf("Consulta remarcada - %s", a.clinicName)
		previous := validation.FormatSlot(n.PreviousStart.In(a.loc))
		line = fmt.Sprintf("Sua consulta na %s foi remarcada de %s para %s.", a.clinicName, previous, when)
	default:
		return EmailMessage{}, fmt.Errorf("notify: unknown notification kind %q", n.Kind)
	}

	greeting := "Olá!"
	if name := strings.TrimSpace(n.PatientName); name != "" {
		greeting = fmt.Sprintf("Olá, %s!", name)
	}
	body := greeting + "\n\n" + line + "\n\nEm caso de dúvidas, responda pelo WhatsApp da clínica."
	htmlBody := "<p>" + html.EscapeString(greeting) + "</p><p>" + html.EscapeString(line) +
		"</p><p>Em caso de dúvidas, responda pelo WhatsApp da clínica.</p>"

	return EmailMessage{
		To:      n.Email,
		ToName:  n.PatientName,
		Subject: subject,
		Body:    body,
		HTML:    htmlBody,
	}, nil
}

var _ appointments.Notifier = (*AppointmentNotifier)(nil)
