package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagorragazzo/clinic-assistant/internal/appointments"
)

type recordingEmail struct {
	sent []EmailMessage
	err  error
}

func (r *recordingEmail) Send(_ context.Context, msg EmailMessage) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func saoPaulo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	return loc
}

func TestAppointmentNotifierScheduled(t *testing.T) {
	loc := saoPaulo(t)
	sender := &recordingEmail{}
	n := NewAppointmentNotifier(sender, "Clínica Vida", loc, nil)

	start := time.Date(2025, 3, 15, 11, 30, 0, 0, loc)
	err := n.Notify(context.Background(), appointments.Notification{
		Kind:        appointments.NotifyScheduled,
		PatientName: "Ana Souza",
		Email:       "ana@example.com",
		Appointment: appointments.Appointment{ID: uuid.New(), StartTime: start.UTC()},
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "ana@example.com", msg.To)
	assert.Equal(t, "Consulta confirmada - Clínica Vida", msg.Subject)
	assert.Contains(t, msg.Body, "Olá, Ana Souza!")
	assert.Contains(t, msg.Body, "sábado, 15/03/2025 às 11:30")
	assert.Contains(t, msg.HTML, "<p>Olá, Ana Souza!</p>")
}

func TestAppointmentNotifierRescheduledMentionsBothSlots(t *testing.T) {
	loc := saoPaulo(t)
	sender := &recordingEmail{}
	n := NewAppointmentNotifier(sender, "Clínica Vida", loc, nil)

	err := n.Notify(context.Background(), appointments.Notification{
		Kind:          appointments.NotifyRescheduled,
		Email:         "ana@example.com",
		Appointment:   appointments.Appointment{StartTime: time.Date(2025, 3, 14, 16, 0, 0, 0, loc)},
		PreviousStart: time.Date(2025, 3, 12, 14, 30, 0, 0, loc),
	})
	require.NoError(t, err)
	assert.Contains(t, sender.sent[0].Body, "de quarta-feira, 12/03/2025 às 14:30 para sexta-feira, 14/03/2025 às 16:00")
	assert.Contains(t, sender.sent[0].Body, "Olá!")
}

func TestAppointmentNotifierSkipsMissingEmail(t *testing.T) {
	sender := &recordingEmail{}
	n := NewAppointmentNotifier(sender, "Clínica Vida", nil, nil)
	require.NoError(t, n.Notify(context.Background(), appointments.Notification{Kind: appointments.NotifyCancelled, Email: "  "}))
	assert.Empty(t, sender.sent)
}

func TestAppointmentNotifierErrors(t *testing.T) {
	n := NewAppointmentNotifier(&recordingEmail{}, "Clínica Vida", nil, nil)
	assert.Error(t, n.Notify(context.Background(), appointments.Notification{Kind: "payment", Email: "a@b.c"}))

	failing := NewAppointmentNotifier(&recordingEmail{err: errors.New("smtp down")}, "Clínica Vida", nil, nil)
	err := failing.Notify(context.Background(), appointments.Notification{Kind: appointments.NotifyCancelled, Email: "a@b.c"})
	assert.ErrorContains(t, err, "smtp down")
}
