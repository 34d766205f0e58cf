package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-agent/internal/api/router"
	"github.com/wolfman30/clinic-booking-agent/internal/bookings"
	appconfig "github.com/wolfman30/clinic-booking-agent/internal/config"
	"github.com/wolfman30/clinic-booking-agent/internal/conversation"
	"github.com/wolfman30/clinic-booking-agent/internal/events"
	"github.com/wolfman30/clinic-booking-agent/internal/extraction"
	"github.com/wolfman30/clinic-booking-agent/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-booking-agent/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-agent/internal/notify"
	"github.com/wolfman30/clinic-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-agent/internal/patients"
	"github.com/wolfman30/clinic-booking-agent/internal/reminders"
	"github.com/wolfman30/clinic-booking-agent/internal/scheduling"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// Infra carries the external resources an App runs on. A nil Pool keeps every
// store in memory; a nil Redis keeps sessions in memory.
type Infra struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Registry    *prometheus.Registry
	Interpreter extraction.Interpreter
	Gateway     notify.Gateway
	Now         func() time.Time
}

// App is the assembled booking service.
type App struct {
	Engine         *scheduling.Engine
	Reminders      *reminders.Scheduler
	Sessions       *conversation.Manager
	Bookings       *bookings.Service
	Outbox         events.Outbox
	ReminderWorker *reminders.Worker
	Deliverer      *events.Deliverer
	Handler        http.Handler

	cfg    *appconfig.Config
	logger *logging.Logger
}

// Build wires every component from cfg and infra.
func Build(cfg *appconfig.Config, infra Infra, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if infra.Registry == nil {
		infra.Registry = prometheus.NewRegistry()
	}
	if infra.Now == nil {
		infra.Now = time.Now
	}
	if infra.Gateway == nil {
		infra.Gateway = notify.NewRouter(notify.NewStubEmailSender(logger), notify.NewStubSMSSender(logger), logger)
	}
	loc := cfg.Location()

	var (
		slotStore     scheduling.Store
		patientStore  patients.Store
		reminderStore reminders.Store
		eventStore    events.Outbox
		processed     events.ProcessedLog
	)
	if infra.Pool != nil {
		slotStore = scheduling.NewPostgresStore(infra.Pool)
		patientStore = patients.NewPostgresStore(infra.Pool)
		reminderStore = reminders.NewPostgresStore(infra.Pool)
		eventStore = events.NewOutboxStore(infra.Pool)
		processed = events.NewProcessedStore(infra.Pool)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		slotStore = scheduling.NewMemoryStore()
		patientStore = patients.NewMemoryStore()
		reminderStore = reminders.NewMemoryStore()
		eventStore = events.NewMemoryOutbox()
		processed = events.NewMemoryProcessedLog()
	}

	engine := scheduling.NewEngine(slotStore, logger.With("component", "scheduling")).
		WithBuffer(cfg.BookingBuffer).
		WithMetrics(metrics.NewBookingMetrics(infra.Registry)).
		WithClock(infra.Now)

	classifier := patients.NewClassifier(patientStore, logger.With("component", "patients")).
		WithDurations(cfg.NewPatientDuration, cfg.ReturningPatientDuration)

	sched, err := reminders.NewScheduler(reminderStore, reminders.Config{
		LeadTimes:   cfg.ReminderLeadTimes,
		MaxAttempts: cfg.ReminderMaxAttempts,
		BaseDelay:   cfg.ReminderBaseDelay,
	}, logger.With("component", "reminders"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reminders: %w", err)
	}
	sched.WithMetrics(metrics.NewReminderMetrics(infra.Registry)).WithClock(infra.Now)

	extractor := extraction.NewExtractor(
		extraction.WithClock(infra.Now),
		extraction.WithLocation(loc),
		extraction.WithDoctors(cfg.Doctors...),
	)
	pipeline := extraction.NewPipeline(extractor, infra.Interpreter, logger.With("component", "extraction"))

	orch, err := conversation.NewOrchestrator(conversation.Deps{
		Extractor:  pipeline,
		Classifier: classifier,
		Patients:   patientStore,
		Calendar:   engine,
		Reminders:  sched,
		Events:     eventStore,
	}, conversation.Config{
		ClinicName: cfg.ClinicName,
		Location:   loc,
		MaxStalls:  cfg.SessionMaxStalls,
	}, logger.With("component", "conversation"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: orchestrator: %w", err)
	}
	orch.WithMetrics(metrics.NewConversationMetrics(infra.Registry)).WithClock(infra.Now)

	manager := conversation.NewManager(orch, BuildSessionStore(infra.Redis, logger), logger.With("component", "sessions")).
		WithIdleTimeout(cfg.SessionIdleTimeout).
		WithReapInterval(cfg.ReaperInterval).
		WithClock(infra.Now)

	bookingService := bookings.NewService(engine, sched, eventStore, logger.With("component", "bookings")).WithClock(infra.Now)

	worker := reminders.NewWorker(sched, infra.Gateway, logger.With("component", "reminder-worker")).
		WithInterval(cfg.ReminderSweepInterval).
		WithBatchSize(cfg.ReminderBatchSize).
		WithClinic(cfg.ClinicName, loc)

	notifier := events.NewNotificationHandler(infra.Gateway, processed, logger.With("component", "notifications")).
		WithClinic(cfg.ClinicName, loc)
	deliverer := events.NewDeliverer(eventStore, notifier, logger.With("component", "outbox")).
		WithInterval(cfg.OutboxInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts)

	var limiter *httpmiddleware.RateLimiter
	if cfg.TurnRatePerSecond > 0 {
		limiter = httpmiddleware.NewRateLimiter(float64(cfg.TurnRatePerSecond), cfg.TurnRateBurst)
	}
	handler := router.New(&router.Config{
		Logger:             logger,
		Sessions:           handlers.NewSessionsHandler(manager, logger),
		Doctors:            handlers.NewDoctorsHandler(engine, loc, logger),
		Operator:           handlers.NewOperatorHandler(bookingService, sched, logger),
		Health:             handlers.NewHealthHandler(healthChecks(infra)),
		MetricsHandler:     promhttp.HandlerFor(infra.Registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		OperatorJWTSecret:  cfg.OperatorJWTSecret,
		TurnLimiter:        limiter,
	})

	return &App{
		Engine:         engine,
		Reminders:      sched,
		Sessions:       manager,
		Bookings:       bookingService,
		Outbox:         eventStore,
		ReminderWorker: worker,
		Deliverer:      deliverer,
		Handler:        handler,
		cfg:            cfg,
		logger:         logger,
	}, nil
}

func healthChecks(infra Infra) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if infra.Pool != nil {
		checks["postgres"] = infra.Pool.Ping
	}
	if infra.Redis != nil {
		client := infra.Redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

// SeedCalendar registers the configured doctors and generates their slots over
// the horizon starting at from. Existing slots are left alone.
func (a *App) SeedCalendar(ctx context.Context, from time.Time) (int, error) {
	doctors := scheduling.DefaultDoctors(a.cfg.Doctors)
	n, err := a.Engine.Seed(ctx, doctors, from.In(a.cfg.Location()), a.cfg.SlotHorizonDays)
	if err != nil {
		return n, err
	}
	a.logger.Info("calendar seeded", "doctors", len(doctors), "slots", n, "days", a.cfg.SlotHorizonDays)
	return n, nil
}

// RunWorkers runs the reminder sweeper, outbox deliverer and session reaper until
// ctx is cancelled.
func (a *App) RunWorkers(ctx context.Context) {
	var wg sync.WaitGroup
	for _, run := range []func(context.Context){a.ReminderWorker.Run, a.Deliverer.Start, a.Sessions.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}
	wg.Wait()
}
