package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
)

type RouterConfig struct {
	Confirmations  ConfirmationService
	Gateway        BookingGateway
	Queue          QueueReader
	Reminders      ReminderRunner
	Reconciler     DeliveryReconciler
	Verifier       SignatureVerifier
	Health         *HealthHandler
	Events         eventlog.Recorder
	AllowedOrigins []string
	CronSecret     string // bearer token for the reminder endpoints
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoverMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed")
	})

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createBookingHandler(cfg.Gateway, cfg.Events))
			r.Get("/queue/{queueId}", queueStatusHandler(cfg.Queue, cfg.Events))

			r.Get("/confirm", lookupAppointmentHandler(cfg.Confirmations))
			r.Post("/confirm", applyActionHandler(cfg.Confirmations, cfg.Events))

			r.Group(func(r chi.Router) {
				r.Use(RequireBearer(cfg.CronSecret))
				r.Post("/reminders", runRemindersHandler(cfg.Reminders))
				r.Get("/reminders", reminderStatsHandler(cfg.Reminders))
			})
		})

		r.Post("/webhooks/delivery", deliveryWebhookHandler(cfg.Reconciler, cfg.Verifier))
	})

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	return c.Handler(r)
}
