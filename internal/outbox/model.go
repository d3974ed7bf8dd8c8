package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	TypeEmail MessageType = "email"
	TypeSMS   MessageType = "sms"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Templates rendered by the external sender.
const (
	TemplateAppointmentBooked    = "appointment_booked"
	TemplateAppointmentConfirmed = "appointment_confirmed"
	TemplateAppointmentCancelled = "appointment_cancelled"
	TemplateReminder             = "appointment_reminder"
)

var (
	ErrMessageNotFound = errors.New("outbox message not found")
	ErrInvalidMessage  = errors.New("invalid outbox message")
)

type Message struct {
	ID           uuid.UUID
	Type         MessageType
	Recipient    string
	Template     string
	TemplateData map[string]any
	Status       Status
	ErrorMessage *string
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// rank orders statuses along the delivery path. failed shares the terminal
// rank with delivered so neither can replace the other.
func rank(s Status) int {
	switch s {
	case StatusQueued:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered, StatusFailed:
		return 2
	default:
		return -1
	}
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// CanAdvance reports whether a message may move from one status to another.
// Only forward moves are legal; a delivered event may overtake sent.
func CanAdvance(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return rank(to) > rank(from)
}

// AdvanceableFrom lists the statuses a message may hold to be moved to `to`.
func AdvanceableFrom(to Status) []Status {
	var out []Status
	for _, s := range []Status{StatusQueued, StatusSent, StatusDelivered, StatusFailed} {
		if CanAdvance(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// NewMessage builds a queued intent.
func NewMessage(t MessageType, recipient, template string, data map[string]any) Message {
	return Message{
		ID:           uuid.New(),
		Type:         t,
		Recipient:    recipient,
		Template:     template,
		TemplateData: data,
		Status:       StatusQueued,
	}
}

func (m Message) Validate() error {
	if m.Type != TypeEmail && m.Type != TypeSMS {
		return ErrInvalidMessage
	}
	if m.Recipient == "" || m.Template == "" {
		return ErrInvalidMessage
	}
	return nil
}
