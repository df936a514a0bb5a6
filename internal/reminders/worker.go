package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

const defaultBatchSize = 100

// Sender delivers a text message to a contact address.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
}

// Observer receives one call per delivery attempt outcome.
type Observer interface {
	ObserveReminder(kind, status string)
}

// Worker delivers due reminders.
type Worker struct {
	store      *Store
	sender     Sender
	policy     Policy
	clinicName string
	observer   Observer
	logger     *logging.Logger
	now        func() time.Time
	batchSize  int
}

type WorkerOption func(*Worker)

func WithObserver(o Observer) WorkerOption {
	return func(w *Worker) { w.observer = o }
}

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func withWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(store *Store, sender Sender, policy Policy, clinicName string, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if store == nil || sender == nil {
		panic("reminders: worker requires a store and a sender")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Worker{
		store:      store,
		sender:     sender,
		policy:     policy,
		clinicName: clinicName,
		logger:     logger,
		now:        time.Now,
		batchSize:  defaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessDue re-arms abandoned claims, claims the reminders that are due and
// sends them. It returns the number of reminders delivered.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	now := w.now().UTC()
	if w.policy.ClaimTimeout > 0 {
		rearmed, err := w.store.RearmStale(ctx, now.Add(-w.policy.ClaimTimeout), w.maxAttempts())
		if err != nil {
			return 0, fmt.Errorf("reminders worker: %w", err)
		}
		if rearmed > 0 {
			w.logger.Warn("reminders worker: re-armed stale claims", "count", rearmed)
		}
	}

	due, err := w.store.ClaimDue(ctx, now, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("reminders worker: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	w.logger.Info("reminders worker: processing due reminders", "count", len(due))

	sent := 0
	for i := range due {
		r := &due[i]
		if err := w.processOne(ctx, r); err != nil {
			w.logger.Error("reminders worker: failed to deliver reminder",
				"id", r.ID, "appointment_id", r.AppointmentID, "attempt", r.Attempts, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (w *Worker) processOne(ctx context.Context, r *Reminder) error {
	body := MessageTemplate(r, w.clinicName, w.policy.Location)
	if err := w.sender.SendText(ctx, r.Contact, body); err != nil {
		if relErr := w.store.Release(ctx, r.ID, err.Error(), w.maxAttempts()); relErr != nil {
			w.logger.Error("reminders worker: release failed", "id", r.ID, "error", relErr)
		}
		status := StatusPending
		if r.Attempts >= w.maxAttempts() {
			status = StatusFailed
		}
		w.observe(r.Kind, status)
		return fmt.Errorf("send: %w", err)
	}

	if err := w.store.MarkSent(ctx, r.ID); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	w.observe(r.Kind, StatusSent)
	w.logger.Info("reminders worker: reminder sent", "id", r.ID, "contact", r.Contact, "kind", r.Kind)
	return nil
}

func (w *Worker) maxAttempts() int {
	if w.policy.MaxAttempts <= 0 {
		return 1
	}
	return w.policy.MaxAttempts
}

func (w *Worker) observe(kind Kind, status Status) {
	if w.observer != nil {
		w.observer.ObserveReminder(string(kind), string(status))
	}
}
