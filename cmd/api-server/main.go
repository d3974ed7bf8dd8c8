package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-notifications/internal/api"
	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/booking"
	"github.com/hackgods/clinic-appointment-notifications/internal/config"
	"github.com/hackgods/clinic-appointment-notifications/internal/db"
	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
	"github.com/hackgods/clinic-appointment-notifications/internal/fallback"
	"github.com/hackgods/clinic-appointment-notifications/internal/logging"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
	redisclient "github.com/hackgods/clinic-appointment-notifications/internal/redis"
	"github.com/hackgods/clinic-appointment-notifications/internal/reminder"
)

var version = "dev"

// settled fallback items stay readable for a week
const fallbackRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Setup(cfg.Env, cfg.LogLevel, "api-server")

	if cfg.Upstream.BaseURL == "" {
		log.Fatal().Msg("UPSTREAM_BASE_URL is required")
	}
	if err := cfg.CheckWebhook(); err != nil {
		log.Fatal().Err(err).Msg("webhook config error")
	}
	var verifier api.SignatureVerifier = outbox.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance, clockwork.NewRealClock())
	if cfg.Webhook.Secret == "" {
		log.Warn().Msg("WEBHOOK_VERIFY_DISABLED set, delivery webhooks are accepted unsigned")
		verifier = outbox.AcceptUnsigned{}
	}
	if cfg.CronSecret == "" {
		log.Warn().Msg("CRON_SECRET not set, HTTP reminder endpoints are disabled")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	if err := db.Migrate(rootCtx, pgPool); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	var notifier fallback.Notifier
	if cfg.NATSURL != "" {
		nc, err := fallback.Connect(cfg.NATSURL)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, fallback signals disabled")
		} else {
			defer drain(nc)
			notifier = fallback.NewNATSNotifier(nc)
			log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
		}
	}

	clock := clockwork.NewRealClock()
	events := eventlog.NewLogger(eventlog.NewPgStore(pgPool), clock)
	messages := outbox.NewPgRepository(pgPool)

	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), messages, events, clock, cfg.Location())
	queue := fallback.NewRedisQueue(rdb, clock, notifier, fallbackRetention)
	gateway := booking.NewGateway(
		booking.NewHTTPUpstream(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout),
		queue,
		appointments,
		events,
		clock,
		booking.Config{
			MaxAttempts: cfg.Booking.MaxAttempts,
			Backoff:     booking.Backoff{Base: cfg.Booking.BaseDelay, Jitter: cfg.Booking.Jitter},
			FallbackETA: cfg.Booking.FallbackETA,
			Location:    cfg.Location(),
		},
	)
	scheduler := reminder.NewScheduler(
		reminder.NewPgStore(pgPool),
		redisclient.NewRedisLocker(rdb, cfg.Reminder.LockTTL),
		events,
		clock,
		cfg.Reminder.Window,
	)

	router := api.NewRouter(api.RouterConfig{
		Confirmations:  appointments,
		Gateway:        gateway,
		Queue:          queue,
		Reminders:      scheduler,
		Reconciler:     outbox.NewReconciler(messages, events, clock),
		Verifier:       verifier,
		CronSecret:     cfg.CronSecret,
		Events:         events,
		Health:         api.NewHealthHandler(pgPool, api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }), cfg.Env, version),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// covers the booking retry budget
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func drain(nc *nats.Conn) {
	if err := nc.Drain(); err != nil {
		log.Error().Err(err).Msg("error draining NATS")
	}
}
