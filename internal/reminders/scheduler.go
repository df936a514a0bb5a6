package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// Scheduler writes the reminder rows for confirmed appointments.
type Scheduler struct {
	store  *Store
	policy Policy
	logger *logging.Logger
	now    func() time.Time
}

func NewScheduler(store *Store, policy Policy, logger *logging.Logger) *Scheduler {
	if store == nil {
		panic("reminders: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{store: store, policy: policy, logger: logger, now: time.Now}
}

// Schedule stores a pending reminder for each fire time that has not
// elapsed yet and returns how many were added.
func (s *Scheduler) Schedule(ctx context.Context, in Input) (int, error) {
	now := s.now()
	added := 0
	for _, fire := range FireTimes(in.Start, s.policy) {
		if !fire.At.After(now) {
			s.logger.Debug("reminder fire time already elapsed", "appointment_id", in.AppointmentID, "kind", fire.Kind)
			continue
		}
		inserted, err := s.store.Insert(ctx, &Reminder{
			AppointmentID:    in.AppointmentID,
			Contact:          in.Contact,
			PatientName:      in.PatientName,
			Kind:             fire.Kind,
			AppointmentStart: in.Start,
			FireAt:           fire.At,
		})
		if err != nil {
			return added, fmt.Errorf("reminders: schedule %s: %w", fire.Kind, err)
		}
		if inserted {
			added++
		}
	}

	s.logger.Info("reminders scheduled", "appointment_id", in.AppointmentID, "count", added)
	return added, nil
}

// Reschedule drops the pending reminders of the appointment and schedules
// new ones against the new start.
func (s *Scheduler) Reschedule(ctx context.Context, in Input) (int, error) {
	if _, err := s.store.CancelPending(ctx, in.AppointmentID); err != nil {
		return 0, err
	}
	return s.Schedule(ctx, in)
}

// CancelForAppointment cancels every pending reminder of the appointment.
func (s *Scheduler) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	n, err := s.store.CancelPending(ctx, appointmentID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("reminders cancelled", "appointment_id", appointmentID, "count", n)
	return n, nil
}
