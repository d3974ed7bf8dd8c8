// Command seed fills a development database with fake appointments spread
// over the next few days, some of them confirmed so the reminder batch has
// work to do.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/config"
	"github.com/hackgods/clinic-appointment-notifications/internal/db"
	"github.com/hackgods/clinic-appointment-notifications/internal/logging"
)

var reasons = []string{
	"Consulta de rotina",
	"Retorno",
	"Avaliação de catarata",
	"Exame de fundo de olho",
	"Adaptação de lentes de contato",
	"Mapeamento de retina",
}

func main() {
	count := flag.Int("count", 200, "appointments to create")
	days := flag.Int("days", 3, "spread appointments over this many days")
	confirmRatio := flag.Float64("confirm-ratio", 0.6, "fraction of appointments to confirm")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Setup(cfg.Env, cfg.LogLevel, "seed")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	repo := appointment.NewPgRepository(pool)
	created, confirmed, err := seedAppointments(ctx, repo, cfg.Location(), *count, *days, *confirmRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("seed appointments")
	}

	log.Info().Int("created", created).Int("confirmed", confirmed).Msg("seed complete")
}

func seedAppointments(ctx context.Context, repo appointment.Repository, loc *time.Location, count, days int, confirmRatio float64) (created, confirmed int, err error) {
	now := time.Now().In(loc)
	// clinic hours 08:00-17:30 in half-hour slots
	slotsPerDay := 20

	for i := 0; i < count; i++ {
		day := now.AddDate(0, 0, gofakeit.Number(0, days))
		slot := gofakeit.Number(0, slotsPerDay-1)
		at := time.Date(day.Year(), day.Month(), day.Day(), 8, 0, 0, 0, loc).Add(time.Duration(slot) * 30 * time.Minute)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}

		token, err := appointment.GenerateToken()
		if err != nil {
			return created, confirmed, err
		}
		reason := reasons[gofakeit.Number(0, len(reasons)-1)]

		a, err := repo.Create(ctx, &appointment.Appointment{
			PatientName:       gofakeit.Name(),
			PatientEmail:      gofakeit.Email(),
			PatientPhone:      fmt.Sprintf("+55119%s", gofakeit.Numerify("########")),
			Date:              at.Format(appointment.DateLayout),
			Time:              at.Format(appointment.TimeLayout),
			ScheduledAt:       at,
			Reason:            &reason,
			ConfirmationToken: token,
		})
		if err != nil {
			return created, confirmed, fmt.Errorf("create appointment %d: %w", i, err)
		}
		created++

		if gofakeit.Float64Range(0, 1) < confirmRatio {
			confirmedAt := time.Now()
			if _, err := repo.UpdateAppointmentStatus(ctx, a.ID, appointment.StatusPending, appointment.StatusConfirmed, &confirmedAt); err != nil {
				return created, confirmed, fmt.Errorf("confirm appointment %s: %w", a.ID, err)
			}
			confirmed++
		}
	}
	return created, confirmed, nil
}
