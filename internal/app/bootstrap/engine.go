package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/thiagorragazzo/clinic-assistant/internal/api/router"
	"github.com/thiagorragazzo/clinic-assistant/internal/appointments"
	"github.com/thiagorragazzo/clinic-assistant/internal/calendar"
	"github.com/thiagorragazzo/clinic-assistant/internal/compliance"
	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
	"github.com/thiagorragazzo/clinic-assistant/internal/conversation"
	"github.com/thiagorragazzo/clinic-assistant/internal/db"
	"github.com/thiagorragazzo/clinic-assistant/internal/http/handlers"
	"github.com/thiagorragazzo/clinic-assistant/internal/intent"
	"github.com/thiagorragazzo/clinic-assistant/internal/llm"
	"github.com/thiagorragazzo/clinic-assistant/internal/messaging"
	"github.com/thiagorragazzo/clinic-assistant/internal/notify"
	"github.com/thiagorragazzo/clinic-assistant/internal/observability/metrics"
	"github.com/thiagorragazzo/clinic-assistant/internal/patients"
	"github.com/thiagorragazzo/clinic-assistant/internal/pii"
	"github.com/thiagorragazzo/clinic-assistant/internal/reminders"
	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// Dependencies are the external handles an Engine is assembled from. Pool,
// Calendar, Messenger and Queue are required; the rest may be nil.
type Dependencies struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Calendar   calendar.Calendar
	LLM        llm.Client
	Messenger  OutboundMessenger
	Email      notify.EmailSender
	Queue      conversation.Queue
	Registerer prometheus.Registerer
}

// Engine holds the wired application components.
type Engine struct {
	SQL          *sql.DB
	Registry     *patients.Registry
	Appointments *appointments.Store
	Orchestrator *appointments.Orchestrator
	Processor    *conversation.Processor
	Publisher    *conversation.Publisher
	Worker       *conversation.Worker
	Reminders    *reminders.Runner
	Webhook      *messaging.Handler
	Metrics      *metrics.EngineMetrics
	Audit        *compliance.AuditService

	admin      *handlers.AdminPatientsHandler
	adminSweep *handlers.AdminRemindersHandler
	health     map[string]handlers.Pinger
}

// BuildEngine wires the conversation engine, the appointment orchestrator
// and the reminder runner over deps.
func BuildEngine(cfg *appconfig.Config, deps Dependencies, logger *logging.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Pool == nil || deps.Calendar == nil || deps.Messenger == nil || deps.Queue == nil {
		return nil, fmt.Errorf("bootstrap: pool, calendar, messenger and queue are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}

	codec, err := pii.NewCodecFromHex(cfg.PIIEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: pii codec: %w", err)
	}
	loc := cfg.Location()
	engineMetrics := metrics.NewEngineMetrics(deps.Registerer)
	sqlDB := db.SQLFromPool(deps.Pool)
	audit := compliance.NewAuditService(sqlDB)

	registry := patients.NewRegistry(deps.Pool, codec, logger)
	appointmentStore := appointments.NewStore(deps.Pool)
	reminderStore := reminders.NewStore(deps.Pool)

	reminderPolicy := reminders.DefaultPolicy(loc)
	if cfg.ReminderDayBeforeHour > 0 {
		reminderPolicy.DayBeforeHour = cfg.ReminderDayBeforeHour
	}
	if cfg.ReminderSameDayLead > 0 {
		reminderPolicy.SameDayLead = cfg.ReminderSameDayLead
	}
	if cfg.ReminderMaxAttempts > 0 {
		reminderPolicy.MaxAttempts = cfg.ReminderMaxAttempts
	}
	scheduler := reminders.NewScheduler(reminderStore, reminderPolicy, logger)

	slotPolicy := validation.DefaultPolicy(loc)
	if cfg.SlotDuration > 0 {
		slotPolicy.SlotDuration = cfg.SlotDuration
	}
	orchestratorOpts := []appointments.Option{
		appointments.WithPolicy(slotPolicy),
		appointments.WithCallTimeout(cfg.CalendarTimeout),
		appointments.WithActionObserver(engineMetrics),
	}
	if deps.Email != nil {
		orchestratorOpts = append(orchestratorOpts, appointments.WithNotifier(
			notify.NewAppointmentNotifier(deps.Email, cfg.ClinicName, loc, logger),
		))
	}
	orchestrator := appointments.NewOrchestrator(registry, appointmentStore, deps.Calendar, scheduler, logger, orchestratorOpts...)

	resolver := intent.NewResolver(deps.LLM, logger,
		intent.WithWindow(cfg.IntentWindow),
		intent.WithTimeout(cfg.NLPTimeout),
		intent.WithLocation(loc),
	)
	responder := conversation.NewResponder(deps.LLM, cfg.ClinicName, logger,
		conversation.WithResponseWindow(cfg.ResponseWindow),
		conversation.WithResponseTimeout(cfg.NLPTimeout),
		conversation.WithResponderLocation(loc),
	)
	processor := conversation.NewProcessor(conversation.NewStore(sqlDB), resolver, orchestrator, responder, deps.Messenger, logger,
		conversation.WithContactLocker(BuildContactLocker(deps.Redis, cfg, logger)),
		conversation.WithTurnObserver(engineMetrics),
		conversation.WithHistoryWindow(cfg.ResponseWindow),
	)

	publisher := conversation.NewPublisher(deps.Queue, logger,
		conversation.WithInboundDeduper(BuildInboundDeduper(deps.Redis)),
	)
	worker := conversation.NewWorker(processor, deps.Queue, logger,
		conversation.WithShardCount(cfg.WorkerCount),
	)

	reminderWorker := reminders.NewWorker(reminderStore, deps.Messenger, reminderPolicy, cfg.ClinicName, logger,
		reminders.WithObserver(engineMetrics),
	)
	runner := reminders.NewRunner(reminderWorker, appointmentStore, cfg.ReminderSweepSpec, logger)

	webhook := messaging.NewHandler(cfg.TwilioWebhookSecret, publisher, logger,
		messaging.WithPublicBaseURL(cfg.PublicBaseURL),
		messaging.WithInboundObserver(engineMetrics),
	)

	health := map[string]handlers.Pinger{
		"postgres": handlers.PingFunc(deps.Pool.Ping),
	}
	if deps.Redis != nil {
		health["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}

	return &Engine{
		SQL:          sqlDB,
		Registry:     registry,
		Appointments: appointmentStore,
		Orchestrator: orchestrator,
		Processor:    processor,
		Publisher:    publisher,
		Worker:       worker,
		Reminders:    runner,
		Webhook:      webhook,
		Metrics:      engineMetrics,
		Audit:        audit,
		admin:        handlers.NewAdminPatientsHandler(registry, appointmentStore, logger, handlers.WithLookupAuditor(audit)),
		adminSweep:   handlers.NewAdminRemindersHandler(runner, logger),
		health:       health,
	}, nil
}

// RouterConfig returns the HTTP surface of the engine.
func (e *Engine) RouterConfig(cfg *appconfig.Config, metricsHandler http.Handler, logger *logging.Logger) *router.Config {
	return &router.Config{
		Logger:           logger,
		MessagingHandler: e.Webhook,
		AdminPatients:    e.admin,
		AdminReminders:   e.adminSweep,
		HealthChecks:     e.health,
		MetricsHandler:   metricsHandler,
		AdminAuthSecret:  cfg.AdminJWTSecret,
		WebhookRateLimit: cfg.RateLimitRPS,
		WebhookBurst:     cfg.RateLimitBurst,
	}
}

// MigrateLegacyIdentities encrypts identity numbers stored before the PII
// codec existed. It is a no-op once every row is migrated.
func (e *Engine) MigrateLegacyIdentities(ctx context.Context, logger *logging.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	n, err := e.Registry.MigrateLegacy(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: migrate legacy identities: %w", err)
	}
	logger.Info("legacy identity migration finished", "migrated", n)
	if n > 0 {
		if err := e.Audit.LogIdentityMigration(ctx, n); err != nil {
			logger.Error("identity migration audit failed", "error", err)
		}
	}
	return nil
}

// Close releases the database/sql handle. The pool is owned by the caller.
func (e *Engine) Close() error {
	return e.SQL.Close()
}
