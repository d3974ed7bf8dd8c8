package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusExpired   AppointmentStatus = "expired"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Appointment keeps a contact snapshot taken at booking time; later sends
// read from here, never from a patient profile.
type Appointment struct {
	ID                uuid.UUID
	ExternalID        *string
	PatientName       string
	PatientEmail      string
	PatientPhone      string
	Date              string // YYYY-MM-DD, clinic wall clock
	Time              string // HH:MM, clinic wall clock
	ScheduledAt       time.Time
	Reason            *string
	Status            AppointmentStatus
	ConfirmationToken string
	Reminder24hSent   bool
	Reminder2hSent    bool
	ConfirmedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Past reports whether the appointment instant is before now.
func (a Appointment) Past(now time.Time) bool {
	return now.After(a.ScheduledAt)
}

// Summary is the redacted view handed to whoever holds the token.
type Summary struct {
	ID          uuid.UUID         `json:"id"`
	PatientName string            `json:"patient_name"`
	Date        string            `json:"appointment_date"`
	Time        string            `json:"appointment_time"`
	Status      AppointmentStatus `json:"status"`
	ConfirmedAt *time.Time        `json:"confirmed_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (a Appointment) Summary() Summary {
	return Summary{
		ID:          a.ID,
		PatientName: a.PatientName,
		Date:        a.Date,
		Time:        a.Time,
		Status:      a.Status,
		ConfirmedAt: a.ConfirmedAt,
		CreatedAt:   a.CreatedAt,
	}
}

// NewAppointment is the input for creating a booking that the upstream
// provider has already accepted.
type NewAppointment struct {
	ExternalID   string
	PatientName  string
	PatientEmail string
	PatientPhone string
	Date         string
	Time         string
	Reason       string
}

// CombineInstant joins a wall-clock date and time in loc.
func CombineInstant(date, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse appointment instant %q %q: %w", date, clock, err)
	}
	return t, nil
}
