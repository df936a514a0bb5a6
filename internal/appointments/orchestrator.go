package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/thiagorragazzo/clinic-assistant/internal/calendar"
	"github.com/thiagorragazzo/clinic-assistant/internal/intent"
	"github.com/thiagorragazzo/clinic-assistant/internal/patients"
	"github.com/thiagorragazzo/clinic-assistant/internal/reminders"
	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// Phase is the branch a turn took after classification.
type Phase string

const (
	PhaseScheduling   Phase = "scheduling"
	PhaseCancelling   Phase = "cancelling"
	PhaseRescheduling Phase = "rescheduling"
	PhaseInforming    Phase = "informing"
)

// State is the terminal state of a turn.
type State string

const (
	StateNoAction     State = "no_action"
	StateActionResult State = "action_result"
)

// Action records what happened to the calendar.
type Action string

const (
	ActionNone        Action = "none"
	ActionScheduled   Action = "scheduled"
	ActionCancelled   Action = "cancelled"
	ActionRescheduled Action = "rescheduled"
	ActionFailed      Action = "failed"
)

// Outcome is the result of executing one resolved intent. Message is empty
// when the generated conversational reply should be used instead; Hints
// feed that reply with what is still missing.
type Outcome struct {
	Phase       Phase
	State       State
	Action      Action
	Message     string
	Hints       []string
	Appointment *Appointment
}

// Patient-facing messages.
const (
	msgCalendarFailure   = "Desculpe, não consegui acessar a agenda da clínica agora. Por favor, tente novamente em alguns minutos."
	msgInternalFailure   = "Desculpe, tivemos um problema ao processar seu pedido. Por favor, tente novamente em alguns minutos."
	msgIdentityRequired  = "Para continuar, preciso do CPF cadastrado. Pode me enviar?"
	msgIdentityMismatch  = "O CPF informado não confere com o cadastro deste número. Confira os dígitos e envie novamente."
	msgPatientNotFound   = "Não encontrei cadastro com esse CPF. Se quiser, posso agendar uma nova consulta."
	msgNoAppointment     = "Não encontrei nenhuma consulta agendada para você."
	msgAlreadyScheduled  = "Você já tem uma consulta marcada nesse horário."
	msgSameWindow        = "Sua consulta já está marcada para %s."
	msgScheduledTemplate = "Pronto, %s! Sua consulta foi agendada para %s. Você receberá lembretes antes do horário."
	msgCancelledTemplate = "Sua consulta de %s foi cancelada. Se quiser, posso agendar um novo horário."
	msgMovedTemplate     = "Sua consulta foi remarcada de %s para %s."
)

// PatientRegistry is the part of the patient registry the orchestrator uses.
type PatientRegistry interface {
	Upsert(ctx context.Context, id patients.Identity) (patients.UpsertResult, error)
	FindByContact(ctx context.Context, contact string) (*patients.Patient, error)
	FindByIdentityNumber(ctx context.Context, number string) (*patients.Patient, error)
}

// ReminderScheduler arranges the reminders of an appointment.
type ReminderScheduler interface {
	Schedule(ctx context.Context, in reminders.Input) (int, error)
	Reschedule(ctx context.Context, in reminders.Input) (int, error)
	CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error)
}

// NotificationKind names the e-mail a Notifier sends.
type NotificationKind string

const (
	NotifyScheduled   NotificationKind = "scheduled"
	NotifyCancelled   NotificationKind = "cancelled"
	NotifyRescheduled NotificationKind = "rescheduled"
)

// Notification is a completed action worth telling the patient about out of band.
type Notification struct {
	Kind          NotificationKind
	PatientName   string
	Email         string
	Appointment   Appointment
	PreviousStart time.Time
}

// Notifier sends optional confirmations. Failures never undo an action.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ActionObserver receives one call per attempted action.
type ActionObserver interface {
	ObserveAction(action, outcome string)
}

// Orchestrator turns resolved intents into calendar actions for one clinic.
type Orchestrator struct {
	registry    PatientRegistry
	repo        Repository
	calendar    calendar.Calendar
	reminders   ReminderScheduler
	notifier    Notifier
	observer    ActionObserver
	policy      validation.Policy
	callTimeout time.Duration
	now         func() time.Time
	logger      *logging.Logger
}

type Option func(*Orchestrator)

func WithPolicy(p validation.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithCallTimeout bounds every collaborator call. Default 10s.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithActionObserver(obs ActionObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

func NewOrchestrator(registry PatientRegistry, repo Repository, cal calendar.Calendar, rem ReminderScheduler, logger *logging.Logger, opts ...Option) *Orchestrator {
	if registry == nil || repo == nil || cal == nil || rem == nil {
		panic("appointments: orchestrator requires registry, repository, calendar and reminders")
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		registry:    registry,
		repo:        repo,
		calendar:    cal,
		reminders:   rem,
		policy:      validation.DefaultPolicy(time.UTC),
		callTimeout: 10 * time.Second,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the action for res on behalf of contact.
func (o *Orchestrator) Execute(ctx context.Context, res intent.Result, contact string) Outcome {
	ctx, span := tracer.Start(ctx, "appointments.execute")
	defer span.End()
	span.SetAttributes(attribute.String("intent.type", string(res.Type)))

	var out Outcome
	switch res.Type {
	case intent.TypeSchedule:
		out = o.schedule(ctx, res, contact)
	case intent.TypeCancel:
		out = o.cancel(ctx, res, contact)
	case intent.TypeReschedule:
		out = o.reschedule(ctx, res, contact)
	default:
		return Outcome{Phase: PhaseInforming, State: StateNoAction, Action: ActionNone}
	}

	span.SetAttributes(attribute.String("outcome.action", string(out.Action)))
	if out.State == StateActionResult && o.observer != nil {
		result := "ok"
		if out.Action == ActionFailed {
			result = "failed"
		}
		o.observer.ObserveAction(string(out.Phase), result)
	}
	return out
}

func (o *Orchestrator) schedule(ctx context.Context, res intent.Result, contact string) Outcome {
	d := MapIntentToAppointmentDetails(res, contact, o.policy, o.now())
	if !d.Bookable() {
		return noAction(PhaseScheduling, d.Problems()...)
	}

	var email *string
	if d.Email != "" {
		email = &d.Email
	}
	var upserted patients.UpsertResult
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		upserted, err = o.registry.Upsert(ctx, patients.Identity{
			Name:           d.FullName,
			IdentityNumber: d.IdentityNumber,
			ContactAddress: d.ContactAddress,
			Email:          email,
		})
		return err
	})
	if err != nil {
		o.logger.Error("schedule: patient upsert failed", "contact", d.ContactAddress, "error", err)
		return failed(PhaseScheduling, msgInternalFailure)
	}

	upcoming, err := o.upcoming(ctx, upserted.ID)
	if err != nil {
		o.logger.Error("schedule: list appointments failed", "patient_id", upserted.ID, "error", err)
		return failed(PhaseScheduling, msgInternalFailure)
	}
	for i := range upcoming {
		if upcoming[i].StartTime.Equal(d.Start) {
			out := noAction(PhaseScheduling, msgAlreadyScheduled)
			out.Appointment = &upcoming[i]
			return out
		}
	}

	summary := fmt.Sprintf("Consulta - %s", d.FullName)
	var event calendar.Event
	err = o.call(ctx, func(ctx context.Context) error {
		var err error
		event, err = o.calendar.Create(ctx, calendar.EventDetails{
			Summary:     summary,
			Description: fmt.Sprintf("Paciente: %s\nContato: %s", d.FullName, d.ContactAddress),
			Start:       d.Start,
			End:         d.End,
		})
		return err
	})
	if err != nil {
		o.logger.Error("schedule: calendar create failed", "contact", d.ContactAddress, "error", err)
		return failed(PhaseScheduling, msgCalendarFailure)
	}

	appt := &Appointment{
		PatientID:       upserted.ID,
		CalendarEventID: event.ID,
		Summary:         summary,
		StartTime:       d.Start,
		EndTime:         d.End,
		Status:          StatusScheduled,
	}
	if err := o.call(ctx, func(ctx context.Context) error { return o.repo.Create(ctx, appt) }); err != nil {
		o.logger.Error("schedule: persist appointment failed, cancelling calendar event",
			"event_id", event.ID, "error", err)
		o.compensate(ctx, "cancel orphaned event", func(ctx context.Context) error {
			return o.calendar.Cancel(ctx, event.ID)
		})
		return failed(PhaseScheduling, msgInternalFailure)
	}

	o.scheduleReminders(ctx, appt, d.ContactAddress, d.FullName, false)
	o.notify(ctx, NotifyScheduled, d.FullName, email, *appt, time.Time{})

	o.logger.Info("appointment scheduled", "appointment_id", appt.ID, "patient_id", appt.PatientID,
		"patient_created", upserted.Created, "start", appt.StartTime)
	return Outcome{
		Phase:       PhaseScheduling,
		State:       StateActionResult,
		Action:      ActionScheduled,
		Message:     fmt.Sprintf(msgScheduledTemplate, firstName(d.FullName), o.formatSlot(appt.StartTime)),
		Appointment: appt,
	}
}

func (o *Orchestrator) cancel(ctx context.Context, res intent.Result, contact string) Outcome {
	patient, denial := o.resolvePatient(ctx, res, contact, PhaseCancelling)
	if patient == nil {
		return denial
	}

	appt, out, ok := o.nearest(ctx, patient, PhaseCancelling)
	if !ok {
		return out
	}

	err := o.call(ctx, func(ctx context.Context) error { return o.calendar.Cancel(ctx, appt.CalendarEventID) })
	if err != nil && !errors.Is(err, calendar.ErrEventNotFound) {
		o.logger.Error("cancel: calendar cancel failed", "appointment_id", appt.ID, "error", err)
		return failed(PhaseCancelling, msgCalendarFailure)
	}
	if err != nil {
		o.logger.Warn("cancel: calendar event already gone", "appointment_id", appt.ID, "event_id", appt.CalendarEventID)
	}

	// Reminders first: the calendar event is already gone.
	err = o.call(ctx, func(ctx context.Context) error {
		_, err := o.reminders.CancelForAppointment(ctx, appt.ID)
		return err
	})
	if err != nil {
		o.logger.Error("cancel: cancel reminders failed", "appointment_id", appt.ID, "error", err)
	}

	err = o.call(ctx, func(ctx context.Context) error {
		return o.repo.UpdateStatus(ctx, appt.ID, StatusScheduled, StatusCancelled)
	})
	if err != nil {
		o.logger.Error("cancel: calendar event removed but appointment still scheduled",
			"appointment_id", appt.ID, "event_id", appt.CalendarEventID, "error", err)
		return failed(PhaseCancelling, msgInternalFailure)
	}
	appt.Status = StatusCancelled

	o.notify(ctx, NotifyCancelled, patient.Name, patient.Email, *appt, time.Time{})

	o.logger.Info("appointment cancelled", "appointment_id", appt.ID, "patient_id", patient.ID)
	return Outcome{
		Phase:       PhaseCancelling,
		State:       StateActionResult,
		Action:      ActionCancelled,
		Message:     fmt.Sprintf(msgCancelledTemplate, o.formatSlot(appt.StartTime)),
		Appointment: appt,
	}
}

func (o *Orchestrator) reschedule(ctx context.Context, res intent.Result, contact string) Outcome {
	patient, denial := o.resolvePatient(ctx, res, contact, PhaseRescheduling)
	if patient == nil {
		return denial
	}

	d := MapIntentToAppointmentDetails(res, contact, o.policy, o.now())
	if !d.HasValidWindow() {
		return noAction(PhaseRescheduling, d.WindowProblems()...)
	}

	appt, out, ok := o.nearest(ctx, patient, PhaseRescheduling)
	if !ok {
		return out
	}
	if appt.StartTime.Equal(d.Start) {
		return Outcome{
			Phase:       PhaseRescheduling,
			State:       StateNoAction,
			Action:      ActionNone,
			Message:     fmt.Sprintf(msgSameWindow, o.formatSlot(appt.StartTime)),
			Appointment: appt,
		}
	}

	previous := calendar.Window{Start: appt.StartTime, End: appt.EndTime}
	next := calendar.Window{Start: d.Start, End: d.End}
	err := o.call(ctx, func(ctx context.Context) error {
		return o.calendar.Reschedule(ctx, appt.CalendarEventID, next)
	})
	if err != nil {
		o.logger.Error("reschedule: calendar reschedule failed", "appointment_id", appt.ID, "error", err)
		return failed(PhaseRescheduling, msgCalendarFailure)
	}

	err = o.call(ctx, func(ctx context.Context) error {
		return o.repo.UpdateWindow(ctx, appt.ID, next.Start, next.End)
	})
	if err != nil {
		o.logger.Error("reschedule: update window failed, moving calendar event back",
			"appointment_id", appt.ID, "error", err)
		o.compensate(ctx, "restore event window", func(ctx context.Context) error {
			return o.calendar.Reschedule(ctx, appt.CalendarEventID, previous)
		})
		return failed(PhaseRescheduling, msgInternalFailure)
	}
	appt.StartTime, appt.EndTime = next.Start, next.End

	o.scheduleReminders(ctx, appt, patient.ContactAddress, patient.Name, true)
	o.notify(ctx, NotifyRescheduled, patient.Name, patient.Email, *appt, previous.Start)

	o.logger.Info("appointment rescheduled", "appointment_id", appt.ID, "patient_id", patient.ID,
		"from", previous.Start, "to", next.Start)
	return Outcome{
		Phase:       PhaseRescheduling,
		State:       StateActionResult,
		Action:      ActionRescheduled,
		Message:     fmt.Sprintf(msgMovedTemplate, o.formatSlot(previous.Start), o.formatSlot(next.Start)),
		Appointment: appt,
	}
}

// resolvePatient applies the identity precondition shared by cancel and
// reschedule. When the contact already has a registered patient the given
// number must match it; otherwise a checksum-valid number is looked up in
// the registry. A nil patient comes with the outcome to return.
//
// This is stricter than accepting any valid number: a checksum-valid number
// that differs from the contact's own patient is refused, so one WhatsApp
// number cannot act on another patient's appointments.
func (o *Orchestrator) resolvePatient(ctx context.Context, res intent.Result, contact string, phase Phase) (*patients.Patient, Outcome) {
	number := validation.DigitsOnly(res.Entities.IdentityNumber)
	if number == "" {
		return nil, noAction(phase, msgIdentityRequired)
	}

	var byContact *patients.Patient
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		byContact, err = o.registry.FindByContact(ctx, contact)
		return err
	})
	if err != nil {
		o.logger.Error("lookup patient by contact failed", "contact", contact, "error", err)
		return nil, failed(phase, msgInternalFailure)
	}
	if byContact != nil {
		if byContact.SameIdentity(number) {
			return byContact, Outcome{}
		}
		o.logger.Warn("identity number does not match contact", "contact", contact, "phase", phase)
		return nil, noAction(phase, msgIdentityMismatch)
	}

	if !res.IdentityVerified && !validation.ValidateIdentityNumber(number) {
		return nil, noAction(phase, validation.MsgInvalidIdentity)
	}
	var byNumber *patients.Patient
	err = o.call(ctx, func(ctx context.Context) error {
		var err error
		byNumber, err = o.registry.FindByIdentityNumber(ctx, number)
		return err
	})
	if err != nil {
		o.logger.Error("lookup patient by identity number failed", "contact", contact, "error", err)
		return nil, failed(phase, msgInternalFailure)
	}
	if byNumber == nil {
		return nil, noAction(phase, msgPatientNotFound)
	}
	return byNumber, Outcome{}
}

// nearest returns the chronologically first upcoming scheduled appointment.
func (o *Orchestrator) nearest(ctx context.Context, patient *patients.Patient, phase Phase) (*Appointment, Outcome, bool) {
	upcoming, err := o.upcoming(ctx, patient.ID)
	if err != nil {
		o.logger.Error("list appointments failed", "patient_id", patient.ID, "error", err)
		return nil, failed(phase, msgInternalFailure), false
	}
	if len(upcoming) == 0 {
		return nil, Outcome{Phase: phase, State: StateNoAction, Action: ActionNone, Message: msgNoAppointment}, false
	}
	first := upcoming[0]
	for _, a := range upcoming[1:] {
		if a.StartTime.Before(first.StartTime) {
			first = a
		}
	}
	return &first, Outcome{}, true
}

func (o *Orchestrator) upcoming(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	var list []Appointment
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		list, err = o.repo.ListUpcomingScheduled(ctx, patientID, o.now())
		return err
	})
	return list, err
}

func (o *Orchestrator) scheduleReminders(ctx context.Context, appt *Appointment, contact, name string, replace bool) {
	in := reminders.Input{
		AppointmentID: appt.ID,
		Contact:       contact,
		PatientName:   name,
		Start:         appt.StartTime,
	}
	err := o.call(ctx, func(ctx context.Context) error {
		var err error
		if replace {
			_, err = o.reminders.Reschedule(ctx, in)
		} else {
			_, err = o.reminders.Schedule(ctx, in)
		}
		return err
	})
	if err != nil {
		o.logger.Error("schedule reminders failed", "appointment_id", appt.ID, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, kind NotificationKind, name string, email *string, appt Appointment, previous time.Time) {
	if o.notifier == nil || email == nil || *email == "" {
		return
	}
	err := o.call(ctx, func(ctx context.Context) error {
		return o.notifier.Notify(ctx, Notification{
			Kind:          kind,
			PatientName:   name,
			Email:         *email,
			Appointment:   appt,
			PreviousStart: previous,
		})
	})
	if err != nil {
		o.logger.Warn("notification failed", "kind", kind, "appointment_id", appt.ID, "error", err)
	}
}

// call runs fn under the per-call timeout.
func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	return fn(ctx)
}

// compensate runs fn even if the turn's context is already done.
func (o *Orchestrator) compensate(ctx context.Context, what string, fn func(context.Context) error) {
	if err := o.call(context.WithoutCancel(ctx), fn); err != nil {
		o.logger.Error("compensation failed", "step", what, "error", err)
	}
}

func (o *Orchestrator) formatSlot(t time.Time) string {
	loc := o.policy.Location
	if loc == nil {
		loc = time.UTC
	}
	return validation.FormatSlot(t.In(loc))
}

func noAction(phase Phase, hints ...string) Outcome {
	return Outcome{Phase: phase, State: StateNoAction, Action: ActionNone, Hints: hints}
}

func failed(phase Phase, message string) Outcome {
	return Outcome{Phase: phase, State: StateActionResult, Action: ActionFailed, Message: message}
}

func firstName(name string) string {
	for i, r := range name {
		if r == ' ' {
			return name[:i]
		}
	}
	return name
}
