package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

var tracer = otel.Tracer("clinic-assistant.calendar")

// GoogleCalendar implements Calendar over the Google Calendar v3 API.
type GoogleCalendar struct {
	svc        *gcal.Service
	calendarID string
	timeZone   string
	logger     *logging.Logger
}

// NewGoogleCalendar authenticates with a service-account credentials file, or
// with application default credentials when the path is empty.
func NewGoogleCalendar(ctx context.Context, credentialsFile, calendarID string, loc *time.Location, logger *logging.Logger, opts ...option.ClientOption) (*GoogleCalendar, error) {
	clientOpts := []option.ClientOption{option.WithScopes(gcal.CalendarEventsScope)}
	if strings.TrimSpace(credentialsFile) != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create google service: %w", err)
	}
	if strings.TrimSpace(calendarID) == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GoogleCalendar{svc: svc, calendarID: calendarID, timeZone: loc.String(), logger: logger}, nil
}

func (g *GoogleCalendar) Create(ctx context.Context, details EventDetails) (Event, error) {
	ctx, span := tracer.Start(ctx, "calendar.google.create")
	defer span.End()

	created, err := g.svc.Events.Insert(g.calendarID, &gcal.Event{
		Summary:     details.Summary,
		Description: details.Description,
		Start:       g.eventTime(details.Start),
		End:         g.eventTime(details.End),
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return Event{}, fmt.Errorf("calendar: insert event: %w", err)
	}

	span.SetAttributes(attribute.String("calendar.event_id", created.Id))
	g.logger.Info("calendar event created", "event_id", created.Id, "start", details.Start.Format(time.RFC3339))
	return Event{ID: created.Id, Start: details.Start, End: details.End}, nil
}

func (g *GoogleCalendar) Cancel(ctx context.Context, eventID string) error {
	ctx, span := tracer.Start(ctx, "calendar.google.cancel")
	span.SetAttributes(attribute.String("calendar.event_id", eventID))
	defer span.End()

	if err := g.svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do(); err != nil {
		span.RecordError(err)
		return wrapGoogleError("delete event", err)
	}
	g.logger.Info("calendar event cancelled", "event_id", eventID)
	return nil
}

func (g *GoogleCalendar) Reschedule(ctx context.Context, eventID string, window Window) error {
	ctx, span := tracer.Start(ctx, "calendar.google.reschedule")
	span.SetAttributes(attribute.String("calendar.event_id", eventID))
	defer span.End()

	_, err := g.svc.Events.Patch(g.calendarID, eventID, &gcal.Event{
		Start: g.eventTime(window.Start),
		End:   g.eventTime(window.End),
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		return wrapGoogleError("patch event", err)
	}
	g.logger.Info("calendar event rescheduled", "event_id", eventID, "start", window.Start.Format(time.RFC3339))
	return nil
}

func (g *GoogleCalendar) eventTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: g.timeZone}
}

func wrapGoogleError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return fmt.Errorf("calendar: %s: %w", op, ErrEventNotFound)
	}
	return fmt.Errorf("calendar: %s: %w", op, err)
}
