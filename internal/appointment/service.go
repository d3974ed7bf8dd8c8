package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
)

const eventSource = "appointment"

const (
	EventAppointmentCreated   = "appointment_created"
	EventAppointmentViewed    = "appointment_viewed"
	EventAppointmentConfirmed = "appointment_confirmed"
	EventAppointmentCancelled = "appointment_cancelled"
	EventAppointmentExpired   = "appointment_expired"
	EventInvalidToken         = "invalid_token"
	EventTokenNotFound        = "token_not_found"
	EventInvalidAction        = "invalid_action"
	EventInvalidTransition    = "invalid_status_transition"
	EventOutboxError          = "outbox_error"
)

var (
	ErrInvalidToken            = errors.New("invalid confirmation token")
	ErrAppointmentExpired      = errors.New("appointment time has passed")
	ErrInvalidAction           = errors.New("action must be confirm or cancel")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

type Action string

const (
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
)

func (a Action) target() (AppointmentStatus, bool) {
	switch a {
	case ActionConfirm:
		return StatusConfirmed, true
	case ActionCancel:
		return StatusCancelled, true
	default:
		return "", false
	}
}

type Service struct {
	repo   Repository
	outbox outbox.Repository
	events eventlog.Recorder
	clock  clockwork.Clock
	loc    *time.Location
}

func NewService(repo Repository, ob outbox.Repository, events eventlog.Recorder, clock clockwork.Clock, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:   repo,
		outbox: ob,
		events: events,
		clock:  clock,
		loc:    loc,
	}
}

// Create stores a pending appointment for a booking the provider accepted
// and queues the booked notifications. The row is the source of truth; a
// failed outbox write is logged and does not fail the booking. Errors are
// returned unrecorded; the caller logs them against its own outcome.
func (s *Service) Create(ctx context.Context, requestID string, in NewAppointment) (*Appointment, error) {
	at, err := CombineInstant(in.Date, in.Time, s.loc)
	if err != nil {
		return nil, err
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientName:       in.PatientName,
		PatientEmail:      in.PatientEmail,
		PatientPhone:      in.PatientPhone,
		Date:              in.Date,
		Time:              in.Time,
		ScheduledAt:       at,
		ConfirmationToken: token,
	}
	if in.ExternalID != "" {
		a.ExternalID = &in.ExternalID
	}
	if in.Reason != "" {
		a.Reason = &in.Reason
	}

	created, err := s.repo.Create(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.logEvent(ctx, requestID, EventAppointmentCreated, eventlog.SeverityInfo, map[string]any{
		"appointment_id": created.ID.String(),
		"scheduled_at":   created.ScheduledAt,
	})

	data := NotificationData(*created)
	s.enqueue(ctx, requestID, created,
		outbox.NewMessage(outbox.TypeEmail, created.PatientEmail, outbox.TemplateAppointmentBooked, data),
		outbox.NewMessage(outbox.TypeSMS, created.PatientPhone, outbox.TemplateAppointmentBooked, data),
	)

	return created, nil
}

// Lookup returns the redacted view of the appointment behind a token.
func (s *Service) Lookup(ctx context.Context, requestID, token string) (*Summary, error) {
	appt, err := s.resolve(ctx, requestID, token)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, requestID, EventAppointmentViewed, eventlog.SeverityInfo, map[string]any{
		"appointment_id": appt.ID.String(),
		"status":         appt.Status,
	})

	sum := appt.Summary()
	return &sum, nil
}

// Apply confirms or cancels a pending appointment. The status write is
// conditional on the row still being pending, so of two concurrent calls at
// most one wins and the other sees ErrInvalidStatusTransition.
func (s *Service) Apply(ctx context.Context, requestID, token string, action Action) (*Appointment, error) {
	to, ok := action.target()
	if !ok {
		s.logEvent(ctx, requestID, EventInvalidAction, eventlog.SeverityWarning, map[string]any{
			"action": string(action),
		})
		return nil, ErrInvalidAction
	}

	appt, err := s.resolve(ctx, requestID, token)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusPending {
		s.logEvent(ctx, requestID, EventInvalidTransition, eventlog.SeverityWarning, map[string]any{
			"appointment_id": appt.ID.String(),
			"current_status": appt.Status,
			"requested":      to,
		})
		return nil, ErrInvalidStatusTransition
	}

	var confirmedAt *time.Time
	if to == StatusConfirmed {
		now := s.clock.Now()
		confirmedAt = &now
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, to, confirmedAt)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			s.logEvent(ctx, requestID, EventInvalidTransition, eventlog.SeverityWarning, map[string]any{
				"appointment_id": appt.ID.String(),
				"requested":      to,
				"reason":         "concurrent update",
			})
			return nil, ErrInvalidStatusTransition
		}
		return nil, s.internal(ctx, requestID, "update appointment status", err, appt)
	}

	eventType, template := EventAppointmentConfirmed, outbox.TemplateAppointmentConfirmed
	if to == StatusCancelled {
		eventType, template = EventAppointmentCancelled, outbox.TemplateAppointmentCancelled
	}

	s.logEvent(ctx, requestID, eventType, eventlog.SeverityInfo, map[string]any{
		"appointment_id":  updated.ID.String(),
		"previous_status": StatusPending,
		"new_status":      updated.Status,
	})

	s.enqueue(ctx, requestID, updated,
		outbox.NewMessage(outbox.TypeEmail, updated.PatientEmail, template, NotificationData(*updated)),
	)

	return updated, nil
}

// resolve runs the checks shared by Lookup and Apply: token shape, existence
// and whether the appointment instant has passed. A pending appointment found
// in the past is marked expired on the way out.
func (s *Service) resolve(ctx context.Context, requestID, token string) (*Appointment, error) {
	if !ValidTokenFormat(token) {
		s.logEvent(ctx, requestID, EventInvalidToken, eventlog.SeverityWarning, map[string]any{
			"token_length": len(token),
		})
		return nil, ErrInvalidToken
	}

	appt, err := s.repo.GetAppointmentByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			s.logEvent(ctx, requestID, EventTokenNotFound, eventlog.SeverityWarning, nil)
			return nil, ErrAppointmentNotFound
		}
		return nil, s.internal(ctx, requestID, "load appointment", err, nil)
	}

	if appt.Past(s.clock.Now()) {
		if appt.Status == StatusPending {
			if _, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusExpired, nil); err != nil && !errors.Is(err, ErrStatusConflict) {
				return nil, s.internal(ctx, requestID, "mark appointment expired", err, appt)
			}
		}
		s.logEvent(ctx, requestID, EventAppointmentExpired, eventlog.SeverityWarning, map[string]any{
			"appointment_id": appt.ID.String(),
			"status":         appt.Status,
			"scheduled_at":   appt.ScheduledAt,
		})
		return nil, ErrAppointmentExpired
	}

	return appt, nil
}

func (s *Service) enqueue(ctx context.Context, requestID string, appt *Appointment, msgs ...outbox.Message) {
	if err := s.outbox.Insert(ctx, msgs...); err != nil {
		s.logEvent(ctx, requestID, EventOutboxError, eventlog.SeverityError, map[string]any{
			"appointment_id": appt.ID.String(),
			"error":          err.Error(),
		})
	}
}

// internal records an internal_error entry and returns err wrapped with op.
func (s *Service) internal(ctx context.Context, requestID, op string, err error, appt *Appointment) error {
	data := map[string]any{
		"operation": op,
		"error":     err.Error(),
	}
	if appt != nil {
		data["appointment_id"] = appt.ID.String()
	}
	s.logEvent(ctx, requestID, eventlog.EventInternalError, eventlog.SeverityError, data)
	return fmt.Errorf("%s: %w", op, err)
}

// logEvent is best-effort; a missing recorder only drops the entry.
func (s *Service) logEvent(ctx context.Context, requestID, eventType string, severity eventlog.Severity, data map[string]any) {
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

// NotificationData is the template payload shared by every message about an
// appointment.
func NotificationData(a Appointment) map[string]any {
	return map[string]any{
		"appointment_id":     a.ID.String(),
		"patient_name":       a.PatientName,
		"appointment_date":   a.Date,
		"appointment_time":   a.Time,
		"confirmation_token": a.ConfirmationToken,
	}
}
