package api

import (
	"time"

	"github.com/hackgods/clinic-appointment-notifications/internal/fallback"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
	"github.com/hackgods/clinic-appointment-notifications/internal/reminder"
)

type SuccessResponse struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestId"`
}

type QueuedResponse struct {
	Success                 bool   `json:"success"`
	Queued                  bool   `json:"queued"`
	QueueID                 string `json:"queueId"`
	EstimatedProcessingTime string `json:"estimatedProcessingTime"`
	Message                 string `json:"message"`
	RequestID               string `json:"requestId"`
}

// QueueStatusResponse leaves out the stored payload; it holds patient data.
type QueueStatusResponse struct {
	QueueID    string          `json:"queueId"`
	Status     fallback.Status `json:"status"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type ConfirmRequest struct {
	Token  string `json:"token"`
	Action string `json:"action"`
}

type ReminderRunResponse struct {
	Success bool `json:"success"`
	reminder.Result
	RequestID string `json:"requestId"`
}

type WebhookResponse struct {
	Success        bool          `json:"success"`
	Data           outbox.Result `json:"data"`
	ProcessingTime string        `json:"processingTime"`
	RequestID      string        `json:"requestId"`
}
