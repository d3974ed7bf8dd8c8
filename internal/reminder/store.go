package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
)

// Horizon is how long before the appointment instant a reminder goes out.
type Horizon struct {
	Label  string
	Offset time.Duration
}

var (
	Horizon24h = Horizon{Label: "24h", Offset: 24 * time.Hour}
	Horizon2h  = Horizon{Label: "2h", Offset: 2 * time.Hour}
)

var ErrUnknownHorizon = errors.New("unknown reminder horizon")

// Stats describes the appointments in a rolling window.
type Stats struct {
	WindowStart         time.Time `json:"windowStart"`
	WindowEnd           time.Time `json:"windowEnd"`
	Pending             int       `json:"pending"`
	Confirmed           int       `json:"confirmed"`
	Outstanding24h      int       `json:"outstanding24h"`
	Outstanding2h       int       `json:"outstanding2h"`
	QueuedNotifications int       `json:"queuedNotifications"`
}

type Store interface {
	// FindDue lists confirmed appointments in [from, to] whose flag for h is
	// still false.
	FindDue(ctx context.Context, h Horizon, from, to time.Time) ([]appointment.Appointment, error)

	// Claim sets the flag for h only if it is still false and, in the same
	// unit, stores msgs. claimed is false when another run got there first.
	// If msgs cannot be stored the flag stays false.
	Claim(ctx context.Context, id uuid.UUID, h Horizon, msgs []outbox.Message) (claimed bool, err error)

	Stats(ctx context.Context, from, to time.Time) (Stats, error)
}
