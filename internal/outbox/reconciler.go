package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
)

const (
	EventStatusUpdated    = "message_status_updated"
	EventDeliveryDelayed  = "message_delivery_delayed"
	EventUnknownType      = "webhook_unknown_event"
	EventMissingMessageID = "webhook_missing_message_id"
	EventUnknownMessage   = "webhook_unknown_message"
	EventUpdateFailed     = "webhook_update_failed"
	EventInvalidSignature = "webhook_invalid_signature"
	EventInvalidPayload   = "webhook_invalid_payload"

	source = "delivery_webhook"
)

// Actions reported for events that did not advance a message.
const (
	ActionLoggedDelay      = "logged_delay"
	ActionIgnoredUnknown   = "ignored_unknown_event"
	ActionMissingMessageID = "missing_message_id"
	ActionUnknownMessage   = "unknown_message"
	ActionUnchanged        = "unchanged"
	ActionUpdated          = "updated"
)

const messageTagPrefix = "msg_"

// ProviderEvent is the delivery provider's callback body.
type ProviderEvent struct {
	Type      string    `json:"type"`
	CreatedAt string    `json:"created_at,omitempty"`
	Data      EventData `json:"data"`
}

type EventData struct {
	EmailID    string            `json:"email_id,omitempty"`
	To         []string          `json:"to,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	Tags       []json.RawMessage `json:"tags,omitempty"`
	BounceType string            `json:"bounce_type,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Delay      string            `json:"delay,omitempty"`
}

type Result struct {
	MessageID string `json:"messageId,omitempty"`
	Status    Status `json:"status,omitempty"`
	Action    string `json:"action"`
}

type Reconciler struct {
	repo   Repository
	events eventlog.Recorder
	clock  clockwork.Clock
}

func NewReconciler(repo Repository, events eventlog.Recorder, clock clockwork.Clock) *Reconciler {
	return &Reconciler{repo: repo, events: events, clock: clock}
}

// Reconcile applies one provider event. A non-nil error means the write
// failed and the provider should redeliver; every other outcome is
// acknowledged with a Result.
func (r *Reconciler) Reconcile(ctx context.Context, requestID string, ev ProviderEvent) (Result, error) {
	kind := normalizeType(ev.Type)
	rawID := ExtractMessageID(ev.Data)

	if rawID == "" {
		r.record(ctx, requestID, EventMissingMessageID, eventlog.SeverityWarning, map[string]any{
			"provider_type": ev.Type,
			"email_id":      ev.Data.EmailID,
		})
		return Result{Action: ActionMissingMessageID}, nil
	}

	var (
		target Status
		errMsg *string
	)
	switch kind {
	case "sent":
		target = StatusSent
	case "delivered":
		target = StatusDelivered
	case "bounced":
		target = StatusFailed
		errMsg = describeBounce(ev.Data)
	case "complained":
		target = StatusFailed
		msg := "Recipient marked the message as spam"
		errMsg = &msg
	case "delivery_delayed":
		r.record(ctx, requestID, EventDeliveryDelayed, eventlog.SeverityWarning, map[string]any{
			"message_id": rawID,
			"delay":      ev.Data.Delay,
		})
		return Result{MessageID: rawID, Action: ActionLoggedDelay}, nil
	default:
		r.record(ctx, requestID, EventUnknownType, eventlog.SeverityWarning, map[string]any{
			"message_id":    rawID,
			"provider_type": ev.Type,
		})
		return Result{MessageID: rawID, Action: ActionIgnoredUnknown}, nil
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		r.record(ctx, requestID, EventUnknownMessage, eventlog.SeverityWarning, map[string]any{
			"message_id":    rawID,
			"provider_type": ev.Type,
		})
		return Result{MessageID: rawID, Action: ActionUnknownMessage}, nil
	}

	msg, changed, err := r.repo.Advance(ctx, id, target, errMsg, r.clock.Now())
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			r.record(ctx, requestID, EventUnknownMessage, eventlog.SeverityWarning, map[string]any{
				"message_id":    rawID,
				"provider_type": ev.Type,
			})
			return Result{MessageID: rawID, Action: ActionUnknownMessage}, nil
		}
		r.record(ctx, requestID, EventUpdateFailed, eventlog.SeverityError, map[string]any{
			"message_id": rawID,
			"target":     string(target),
			"error":      err.Error(),
		})
		return Result{}, fmt.Errorf("advance message %s: %w", id, err)
	}

	severity := eventlog.SeverityInfo
	if target == StatusFailed {
		severity = eventlog.SeverityError
	}
	data := map[string]any{
		"message_id":     rawID,
		"provider_type":  ev.Type,
		"requested":      string(target),
		"current_status": string(msg.Status),
		"changed":        changed,
		"message_type":   string(msg.Type),
	}
	if errMsg != nil {
		data["error_message"] = *errMsg
	}
	r.record(ctx, requestID, EventStatusUpdated, severity, data)

	action := ActionUpdated
	if !changed {
		action = ActionUnchanged
	}
	return Result{MessageID: rawID, Status: msg.Status, Action: action}, nil
}

// RecordRejected logs a signature or timestamp failure.
func (r *Reconciler) RecordRejected(ctx context.Context, requestID string, reason error) {
	r.record(ctx, requestID, EventInvalidSignature, eventlog.SeverityWarning, map[string]any{
		"reason": reason.Error(),
	})
}

// RecordInvalidPayload logs an authentic body that is not an event.
func (r *Reconciler) RecordInvalidPayload(ctx context.Context, requestID string, reason error) {
	r.record(ctx, requestID, EventInvalidPayload, eventlog.SeverityWarning, map[string]any{
		"reason": reason.Error(),
	})
}

func (r *Reconciler) record(ctx context.Context, requestID, eventType string, severity eventlog.Severity, data map[string]any) {
	r.events.Record(ctx, eventlog.Entry{
		EventType: eventType,
		Severity:  severity,
		Source:    source,
		RequestID: requestID,
		EventData: data,
	})
}

// ExtractMessageID checks, in order, the X-Message-ID header, the metadata
// messageId field and a tag prefixed with "msg_".
func ExtractMessageID(d EventData) string {
	for k, v := range d.Headers {
		if strings.EqualFold(k, "X-Message-ID") && v != "" {
			return v
		}
	}
	if v, ok := d.Metadata["messageId"].(string); ok && v != "" {
		return v
	}
	for _, raw := range d.Tags {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if id, ok := strings.CutPrefix(s, messageTagPrefix); ok && id != "" {
				return id
			}
			continue
		}
		var tag struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(raw, &tag); err == nil {
			if id, ok := strings.CutPrefix(tag.Value, messageTagPrefix); ok && id != "" {
				return id
			}
		}
	}
	return ""
}

func normalizeType(t string) string {
	if i := strings.IndexByte(t, '.'); i >= 0 {
		return t[i+1:]
	}
	return t
}

func describeBounce(d EventData) *string {
	msg := "Message bounced"
	if d.BounceType != "" {
		msg += ": " + d.BounceType
	}
	if d.Reason != "" {
		msg += " (" + d.Reason + ")"
	}
	return &msg
}
