package bootstrap

import (
	"context"
	"fmt"

	"github.com/thiagorragazzo/clinic-assistant/internal/calendar"
	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// BuildCalendar returns the Google calendar or, for "memory", an in-process
// calendar suitable for development.
func BuildCalendar(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (calendar.Calendar, error) {
	switch cfg.CalendarProvider {
	case "google":
		cal, err := calendar.NewGoogleCalendar(ctx, cfg.GoogleCredentialsFile, cfg.GoogleCalendarID, cfg.Location(), logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: google calendar: %w", err)
		}
		return cal, nil
	case "memory", "":
		logger.Warn("using in-memory calendar; events are not persisted")
		return calendar.NewMemoryCalendar(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown calendar provider %q", cfg.CalendarProvider)
	}
}
