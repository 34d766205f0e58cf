package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-booking-agent/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-booking-agent/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Sessions       *handlers.SessionsHandler
	Doctors        *handlers.DoctorsHandler
	Operator       *handlers.OperatorHandler
	Health         http.Handler
	MetricsHandler http.Handler

	CORSAllowedOrigins []string
	OperatorJWTSecret  string
	// TurnLimiter throttles turns per client; nil disables it.
	TurnLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}
	r.Method(http.MethodGet, "/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.Sessions != nil {
			v1.Route("/sessions", func(s chi.Router) {
				s.Post("/", cfg.Sessions.Start)
				s.Route("/{id}", func(sess chi.Router) {
					sess.With(httpmiddleware.RateLimit(cfg.TurnLimiter, nil)).Post("/turns", cfg.Sessions.Turn)
					sess.Delete("/", cfg.Sessions.Cancel)
				})
			})
		}
		if cfg.Doctors != nil {
			v1.Get("/doctors", cfg.Doctors.List)
			v1.Get("/doctors/{doctor}/slots", cfg.Doctors.Slots)
		}

		// Operator routes; an empty secret rejects every request.
		if cfg.Operator != nil {
			v1.Group(func(op chi.Router) {
				op.Use(httpmiddleware.OperatorJWT(cfg.OperatorJWTSecret))
				op.Delete("/appointments/{id}", cfg.Operator.CancelAppointment)
				op.Get("/reminders/failed", cfg.Operator.FailedReminders)
			})
		}
	})

	return r
}
