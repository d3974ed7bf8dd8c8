package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/booking"
	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
	"github.com/hackgods/clinic-appointment-notifications/internal/fallback"
)

const maxBodyBytes = 64 << 10

type ConfirmationService interface {
	Lookup(ctx context.Context, requestID, token string) (*appointment.Summary, error)
	Apply(ctx context.Context, requestID, token string, action appointment.Action) (*appointment.Appointment, error)
}

type BookingGateway interface {
	Submit(ctx context.Context, requestID string, req booking.Request) (booking.Result, error)
}

type QueueReader interface {
	Get(ctx context.Context, id string) (*fallback.Item, error)
}

func createBookingHandler(gw BookingGateway, events eventlog.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req booking.Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			recordEvent(events, r, EventInvalidBody, eventlog.SeverityWarning, map[string]any{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			writeError(w, r, http.StatusBadRequest, CodeValidation, "could not parse JSON")
			return
		}

		res, err := gw.Submit(r.Context(), GetRequestID(r.Context()), req)
		if err != nil {
			writeInternal(w, r, err)
			return
		}

		switch res.Outcome {
		case booking.OutcomeCreated:
			writeJSON(w, http.StatusCreated, SuccessResponse{
				Success:   true,
				Data:      res.Appointment.Summary(),
				Message:   "Appointment created successfully",
				RequestID: GetRequestID(r.Context()),
			})
		case booking.OutcomeQueued:
			writeJSON(w, http.StatusAccepted, QueuedResponse{
				Success:                 true,
				Queued:                  true,
				QueueID:                 res.Receipt.QueueID,
				EstimatedProcessingTime: res.Receipt.EstimatedProcessingTime,
				Message:                 res.Receipt.Message,
				RequestID:               GetRequestID(r.Context()),
			})
		default:
			handleRejection(w, r, res.Reason)
		}
	}
}

func handleRejection(w http.ResponseWriter, r *http.Request, reason error) {
	var verr *booking.ValidationError
	switch {
	case errors.As(reason, &verr):
		writeErrorDetails(w, r, http.StatusBadRequest, CodeValidation, "Validation failed", verr.Fields)
	case errors.Is(reason, booking.ErrSlotConflict):
		writeError(w, r, http.StatusConflict, CodeSlotConflict, "The requested time slot is no longer available")
	default:
		writeError(w, r, http.StatusBadRequest, CodeValidation, "The scheduling provider rejected the booking")
	}
}

func queueStatusHandler(q QueueReader, events eventlog.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queueID := chi.URLParam(r, "queueId")
		item, err := q.Get(r.Context(), queueID)
		if err != nil {
			if errors.Is(err, fallback.ErrItemNotFound) {
				recordEvent(events, r, EventQueueItemMissing, eventlog.SeverityWarning, map[string]any{
					"queue_id": queueID,
				})
				writeError(w, r, http.StatusNotFound, CodeQueueItemNotFound, "No queued booking with this id")
				return
			}
			recordEvent(events, r, eventlog.EventInternalError, eventlog.SeverityError, map[string]any{
				"operation": "get fallback item",
				"queue_id":  queueID,
				"error":     err.Error(),
			})
			writeInternal(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Data: QueueStatusResponse{
				QueueID:    item.ID,
				Status:     item.Status,
				Attempts:   item.Attempts,
				EnqueuedAt: item.EnqueuedAt,
				UpdatedAt:  item.UpdatedAt,
			},
			RequestID: GetRequestID(r.Context()),
		})
	}
}

func lookupAppointmentHandler(svc ConfirmationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := svc.Lookup(r.Context(), GetRequestID(r.Context()), r.URL.Query().Get("token"))
		if err != nil {
			handleConfirmError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: sum, RequestID: GetRequestID(r.Context())})
	}
}

func applyActionHandler(svc ConfirmationService, events eventlog.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			recordEvent(events, r, EventInvalidBody, eventlog.SeverityWarning, map[string]any{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			writeError(w, r, http.StatusBadRequest, CodeValidation, "could not parse JSON")
			return
		}

		action := appointment.Action(req.Action)
		appt, err := svc.Apply(r.Context(), GetRequestID(r.Context()), req.Token, action)
		if err != nil {
			handleConfirmError(w, r, err)
			return
		}

		msg := "Appointment confirmed successfully"
		if action == appointment.ActionCancel {
			msg = "Appointment cancelled successfully"
		}
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success:   true,
			Data:      appt.Summary(),
			Message:   msg,
			RequestID: GetRequestID(r.Context()),
		})
	}
}

func handleConfirmError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidToken):
		writeError(w, r, http.StatusBadRequest, CodeInvalidToken, "Invalid confirmation token")
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, r, http.StatusNotFound, CodeAppointmentNotFound, "Appointment not found")
	case errors.Is(err, appointment.ErrAppointmentExpired):
		writeError(w, r, http.StatusBadRequest, CodeAppointmentExpired, "This appointment has already passed")
	case errors.Is(err, appointment.ErrInvalidAction):
		writeError(w, r, http.StatusBadRequest, CodeInvalidAction, "Action must be confirm or cancel")
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, r, http.StatusBadRequest, CodeInvalidStatusTransition, "The appointment can no longer be changed")
	default:
		writeInternal(w, r, err)
	}
}
