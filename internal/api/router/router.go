package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/thiagorragazzo/clinic-assistant/internal/http/handlers"
	httpmiddleware "github.com/thiagorragazzo/clinic-assistant/internal/http/middleware"
	"github.com/thiagorragazzo/clinic-assistant/internal/messaging"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger           *logging.Logger
	MessagingHandler *messaging.Handler
	AdminPatients    *handlers.AdminPatientsHandler
	AdminReminders   *handlers.AdminRemindersHandler
	HealthChecks     map[string]handlers.Pinger
	MetricsHandler   http.Handler
	AdminAuthSecret  string

	// Per-IP limit on the public webhook. Zero disables it.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates the chi router with every route configured.
func New(cfg *Config) http.Handler {
	if cfg.MessagingHandler == nil {
		panic("router: messaging handler is required")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handlers.Health(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(webhooks chi.Router) {
		if cfg.WebhookRateLimit > 0 {
			webhooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst))
		}
		webhooks.Post("/webhooks/twilio", cfg.MessagingHandler.TwilioWebhook)
	})

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.AdminPatients != nil {
				admin.Get("/patients/{contact}", cfg.AdminPatients.GetPatient)
			}
			if cfg.AdminReminders != nil {
				admin.Post("/reminders/sweep", cfg.AdminReminders.Sweep)
			}
		})
	}

	return r
}
