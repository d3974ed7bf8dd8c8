// Package booking submits bookings to the scheduling provider. Every call ends
// in exactly one of three outcomes: created, queued or rejected.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
	"github.com/hackgods/clinic-appointment-notifications/internal/fallback"
)

const (
	eventSource = "booking"

	EventValidationFailed = "booking_validation_failed"
	EventAttemptFailed    = "booking_attempt_failed"
	EventCreated          = "booking_created"
	EventQueued           = "booking_queued"
	EventQueueFailed      = "booking_queue_failed"
	EventRejected         = "booking_rejected"

	QueuedMessage = "The scheduling system is temporarily unavailable. Your request was saved and will be processed automatically."
)

type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeQueued   Outcome = "queued"
	OutcomeRejected Outcome = "rejected"
)

type Receipt struct {
	QueueID                 string `json:"queueId"`
	EstimatedProcessingTime string `json:"estimatedProcessingTime"`
	Message                 string `json:"message"`
}

// Result is tagged by Outcome; exactly one of Appointment, Receipt or Reason
// is set.
type Result struct {
	Outcome     Outcome
	Appointment *appointment.Appointment
	Receipt     *Receipt
	Reason      error
}

type AppointmentCreator interface {
	Create(ctx context.Context, requestID string, in appointment.NewAppointment) (*appointment.Appointment, error)
}

type Config struct {
	MaxAttempts int
	Backoff     Backoff
	FallbackETA string
	Location    *time.Location
}

type Gateway struct {
	upstream Upstream
	queue    fallback.Queue
	appts    AppointmentCreator
	events   eventlog.Recorder
	clock    clockwork.Clock
	cfg      Config
	rand     func() float64
}

func NewGateway(upstream Upstream, queue fallback.Queue, appts AppointmentCreator, events eventlog.Recorder, clock clockwork.Clock, cfg Config) *Gateway {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Gateway{
		upstream: upstream,
		queue:    queue,
		appts:    appts,
		events:   events,
		clock:    clock,
		cfg:      cfg,
		rand:     rand.Float64,
	}
}

// Submit validates req, then tries the provider up to MaxAttempts times.
// Outages are retried with backoff and finally parked in the fallback queue;
// the returned error is reserved for internal failures.
func (g *Gateway) Submit(ctx context.Context, requestID string, req Request) (Result, error) {
	if err := req.Validate(g.clock.Now(), g.cfg.Location); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return Result{}, g.internal(ctx, requestID, "validate booking", err)
		}
		g.logEvent(ctx, requestID, EventValidationFailed, eventlog.SeverityWarning, map[string]any{
			"fields": verr.Fields,
		})
		return Result{Outcome: OutcomeRejected, Reason: verr}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		booking, err := g.upstream.Submit(ctx, req)
		if err == nil {
			return g.created(ctx, requestID, req, booking, attempt)
		}

		var uerr *UpstreamError
		if !errors.As(err, &uerr) {
			return Result{}, g.internal(ctx, requestID, "submit booking", err)
		}
		if !uerr.Retryable() {
			g.logEvent(ctx, requestID, EventRejected, eventlog.SeverityWarning, map[string]any{
				"status_code": uerr.StatusCode,
				"attempt":     attempt,
			})
			return Result{Outcome: OutcomeRejected, Reason: uerr}, nil
		}

		lastErr = uerr
		delay := g.cfg.Backoff.Delay(attempt, g.rand())
		g.logEvent(ctx, requestID, EventAttemptFailed, eventlog.SeverityWarning, map[string]any{
			"attempt":     attempt,
			"status_code": uerr.StatusCode,
			"error":       uerr.Error(),
			"retry_in_ms": delay.Milliseconds(),
		})

		if err := sleep(ctx, g.clock, delay); err != nil {
			lastErr = fmt.Errorf("%w (wait interrupted: %v)", lastErr, err)
			break
		}
	}

	return g.enqueue(ctx, requestID, req, lastErr)
}

func (g *Gateway) created(ctx context.Context, requestID string, req Request, b *Booking, attempt int) (Result, error) {
	appt, err := g.appts.Create(ctx, requestID, appointment.NewAppointment{
		ExternalID:   b.ExternalID,
		PatientName:  req.PatientName,
		PatientEmail: req.PatientEmail,
		PatientPhone: req.PatientPhone,
		Date:         req.Date,
		Time:         req.Time,
		Reason:       req.Reason,
	})
	if err != nil {
		return Result{}, g.internal(ctx, requestID, "store accepted booking "+b.ExternalID, err)
	}

	g.logEvent(ctx, requestID, EventCreated, eventlog.SeverityInfo, map[string]any{
		"appointment_id": appt.ID.String(),
		"external_id":    b.ExternalID,
		"attempts":       attempt,
	})
	return Result{Outcome: OutcomeCreated, Appointment: appt}, nil
}

// enqueue parks the original body. It runs detached from ctx so a caller who
// hung up during the backoff does not lose the booking.
func (g *Gateway) enqueue(ctx context.Context, requestID string, req Request, cause error) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, g.internal(ctx, requestID, "encode fallback payload", err)
	}

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	item, err := g.queue.Enqueue(qctx, payload, reason)
	if err != nil {
		g.logEvent(qctx, requestID, EventQueueFailed, eventlog.SeverityError, map[string]any{
			"error": err.Error(),
			"cause": reason,
		})
		return Result{}, fmt.Errorf("enqueue fallback booking: %w", err)
	}

	g.logEvent(qctx, requestID, EventQueued, eventlog.SeverityWarning, map[string]any{
		"queue_id": item.ID,
		"cause":    reason,
		"email":    req.PatientEmail,
		"phone":    eventlog.RedactPhone(req.PatientPhone),
	})

	return Result{
		Outcome: OutcomeQueued,
		Receipt: &Receipt{
			QueueID:                 item.ID,
			EstimatedProcessingTime: g.cfg.FallbackETA,
			Message:                 QueuedMessage,
		},
	}, nil
}

// internal records an internal_error entry and returns err wrapped with op.
func (g *Gateway) internal(ctx context.Context, requestID, op string, err error) error {
	g.logEvent(ctx, requestID, eventlog.EventInternalError, eventlog.SeverityError, map[string]any{
		"operation": op,
		"error":     err.Error(),
	})
	return fmt.Errorf("%s: %w", op, err)
}

func (g *Gateway) logEvent(ctx context.Context, requestID, eventType string, severity eventlog.Severity, data map[string]any) {
	if g.events == nil {
		return
	}
	g.events.Record(ctx, eventlog.Entry{
		EventType: eventType,
		Severity:  severity,
		Source:    eventSource,
		RequestID: requestID,
		EventData: data,
	})
}
