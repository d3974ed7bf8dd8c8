package reminder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/db"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
)

func TestPgStoreClaimOnce(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := appointment.NewPgRepository(pool)
	token, err := appointment.GenerateToken()
	if err != nil {
		t.Fatal(err)
	}
	at := time.Now().Add(24 * time.Hour).Truncate(time.Minute).UTC()
	a, err := repo.Create(ctx, &appointment.Appointment{
		PatientName:       gofakeit.Name(),
		PatientEmail:      gofakeit.Email(),
		PatientPhone:      "+5511988887777",
		Date:              at.Format(appointment.DateLayout),
		Time:              at.Format(appointment.TimeLayout),
		ScheduledAt:       at,
		ConfirmationToken: token,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store := NewPgStore(pool)
	msg := outbox.NewMessage(outbox.TypeEmail, a.PatientEmail, outbox.TemplateReminder, map[string]any{"reminder_type": "24h"})

	// Pending appointments are never claimed.
	claimed, err := store.Claim(ctx, a.ID, Horizon24h, []outbox.Message{msg})
	if err != nil || claimed {
		t.Fatalf("claim pending = %v, %v", claimed, err)
	}

	now := time.Now()
	if _, err := repo.UpdateAppointmentStatus(ctx, a.ID, appointment.StatusPending, appointment.StatusConfirmed, &now); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	due, err := store.FindDue(ctx, Horizon24h, at.Add(-time.Minute), at.Add(time.Minute))
	if err != nil {
		t.Fatalf("find due: %v", err)
	}
	found := false
	for _, d := range due {
		found = found || d.ID == a.ID
	}
	if !found {
		t.Fatal("confirmed appointment not returned by FindDue")
	}

	claimed, err = store.Claim(ctx, a.ID, Horizon24h, []outbox.Message{msg})
	if err != nil || !claimed {
		t.Fatalf("first claim = %v, %v", claimed, err)
	}
	second := outbox.NewMessage(outbox.TypeEmail, a.PatientEmail, outbox.TemplateReminder, map[string]any{"reminder_type": "24h"})
	claimed, err = store.Claim(ctx, a.ID, Horizon24h, []outbox.Message{second})
	if err != nil || claimed {
		t.Fatalf("second claim = %v, %v", claimed, err)
	}

	if _, err := outbox.NewPgRepository(pool).GetByID(ctx, msg.ID); err != nil {
		t.Fatalf("claimed message missing: %v", err)
	}
	if _, err := outbox.NewPgRepository(pool).GetByID(ctx, second.ID); err == nil {
		t.Fatal("second claim must not insert a message")
	}
}
