// Command reminders runs one reminder batch and exits. Schedule it from cron
// or a platform scheduler every few minutes; overlapping runs are safe.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-notifications/internal/config"
	"github.com/hackgods/clinic-appointment-notifications/internal/db"
	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
	"github.com/hackgods/clinic-appointment-notifications/internal/logging"
	redisclient "github.com/hackgods/clinic-appointment-notifications/internal/redis"
	"github.com/hackgods/clinic-appointment-notifications/internal/reminder"
)

const runTimeout = 2 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("config load error")
		return 1
	}
	logging.Setup(cfg.Env, cfg.LogLevel, "reminders")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, runTimeout)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error().Err(err).Msg("postgres connection error")
		return 1
	}
	defer pgPool.Close()

	// the lock is optional; without Redis the batch still runs
	var locker redisclient.Locker = redisclient.NoopLocker{}
	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, running without the run lock")
	} else {
		defer rdb.Close()
		locker = redisclient.NewRedisLocker(rdb, cfg.Reminder.LockTTL)
	}

	clock := clockwork.NewRealClock()
	scheduler := reminder.NewScheduler(
		reminder.NewPgStore(pgPool),
		locker,
		eventlog.NewLogger(eventlog.NewPgStore(pgPool), clock),
		clock,
		cfg.Reminder.Window,
	)

	requestID := "cron-" + uuid.NewString()
	start := time.Now()

	res, err := scheduler.Run(ctx, requestID)
	if err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("reminder run failed")
		return 1
	}

	log.Info().
		Str("request_id", requestID).
		Int("processed_24h", res.Processed24h).
		Int("processed_2h", res.Processed2h).
		Int("failed", res.Failed).
		Int("total", res.Total).
		Bool("skipped", res.Skipped).
		Dur("duration", time.Since(start)).
		Msg("reminder run complete")
	return 0
}
