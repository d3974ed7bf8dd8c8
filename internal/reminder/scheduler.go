// Package reminder sends the 24h and 2h reminders for confirmed appointments.
// A run is a one-shot batch; overlapping runs are safe because every send is
// guarded by a conditional write on the reminder flag.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
	redisclient "github.com/hackgods/clinic-appointment-notifications/internal/redis"
)

const (
	eventSource = "reminder"
	lockName    = "reminders"
	statsWindow = 24 * time.Hour

	DefaultWindow = 30 * time.Minute
)

const (
	EventReminderQueued = "reminder_queued"
	EventReminderFailed = "reminder_failed"
	EventBatchCompleted = "reminder_batch_completed"
	EventBatchFailed    = "reminder_batch_failed"
	EventBatchSkipped   = "reminder_batch_skipped"
)

type Result struct {
	Processed24h int  `json:"processed24h"`
	Processed2h  int  `json:"processed2h"`
	Failed       int  `json:"failed"`
	Total        int  `json:"total"`
	Skipped      bool `json:"skipped,omitempty"`
}

type Scheduler struct {
	store  Store
	locker redisclient.Locker
	events eventlog.Recorder
	clock  clockwork.Clock
	window time.Duration
}

func NewScheduler(store Store, locker redisclient.Locker, events eventlog.Recorder, clock clockwork.Clock, window time.Duration) *Scheduler {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Scheduler{
		store:  store,
		locker: locker,
		events: events,
		clock:  clock,
		window: window,
	}
}

// Run processes both horizons once. The Redis lock only avoids pointless
// overlap; if Redis is unreachable the batch still runs.
func (s *Scheduler) Run(ctx context.Context, requestID string) (Result, error) {
	var (
		res    Result
		runErr error
		ran    bool
	)

	err := s.locker.WithLock(ctx, lockName, func(lockCtx context.Context) error {
		ran = true
		res, runErr = s.run(lockCtx, requestID)
		return runErr
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.logEvent(ctx, requestID, EventBatchSkipped, eventlog.SeverityInfo, nil)
		return Result{Skipped: true}, nil
	case err != nil && !ran:
		log.Warn().Err(err).Str("request_id", requestID).Msg("reminder lock unavailable, running unlocked")
		return s.run(ctx, requestID)
	}
	return res, runErr
}

func (s *Scheduler) run(ctx context.Context, requestID string) (Result, error) {
	var res Result
	now := s.clock.Now()

	for _, h := range []Horizon{Horizon24h, Horizon2h} {
		processed, failed, err := s.process(ctx, requestID, h, now)
		if err != nil {
			s.logEvent(ctx, requestID, EventBatchFailed, eventlog.SeverityError, map[string]any{
				"horizon": h.Label,
				"error":   err.Error(),
			})
			return res, err
		}
		if h == Horizon24h {
			res.Processed24h = processed
		} else {
			res.Processed2h = processed
		}
		res.Failed += failed
	}
	res.Total = res.Processed24h + res.Processed2h

	s.logEvent(ctx, requestID, EventBatchCompleted, eventlog.SeverityInfo, map[string]any{
		"processed_24h": res.Processed24h,
		"processed_2h":  res.Processed2h,
		"failed":        res.Failed,
		"total":         res.Total,
	})
	return res, nil
}

func (s *Scheduler) process(ctx context.Context, requestID string, h Horizon, now time.Time) (processed, failed int, err error) {
	center := now.Add(h.Offset)
	due, err := s.store.FindDue(ctx, h, center.Add(-s.window), center.Add(s.window))
	if err != nil {
		return 0, 0, fmt.Errorf("find due %s reminders: %w", h.Label, err)
	}

	for _, a := range due {
		data := appointment.NotificationData(a)
		data["reminder_type"] = h.Label

		msgs := []outbox.Message{
			outbox.NewMessage(outbox.TypeEmail, a.PatientEmail, outbox.TemplateReminder, data),
			outbox.NewMessage(outbox.TypeSMS, a.PatientPhone, outbox.TemplateReminder, data),
		}

		claimed, err := s.store.Claim(ctx, a.ID, h, msgs)
		if err != nil {
			failed++
			s.logEvent(ctx, requestID, EventReminderFailed, eventlog.SeverityError, map[string]any{
				"appointment_id": a.ID.String(),
				"horizon":        h.Label,
				"error":          err.Error(),
			})
			continue
		}
		if !claimed {
			continue
		}

		processed++
		s.logEvent(ctx, requestID, EventReminderQueued, eventlog.SeverityInfo, map[string]any{
			"appointment_id": a.ID.String(),
			"horizon":        h.Label,
			"email":          a.PatientEmail,
			"phone":          eventlog.RedactPhone(a.PatientPhone),
		})
	}
	return processed, failed, nil
}

// Stats reports counts for appointments in the next 24 hours.
func (s *Scheduler) Stats(ctx context.Context, requestID string) (Stats, error) {
	now := s.clock.Now()
	st, err := s.store.Stats(ctx, now, now.Add(statsWindow))
	if err != nil {
		s.logEvent(ctx, requestID, eventlog.EventInternalError, eventlog.SeverityError, map[string]any{
			"operation": "reminder stats",
			"error":     err.Error(),
		})
		return Stats{}, fmt.Errorf("reminder stats: %w", err)
	}
	return st, nil
}

func (s *Scheduler) logEvent(ctx context.Context, requestID, eventType string, severity eventlog.Severity, data map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, eventlog.Entry{
		EventType: eventType,
		Severity:  severity,
		Source:    eventSource,
		RequestID: requestID,
		EventData: data,
	})
}
