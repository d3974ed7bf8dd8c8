package api

import (
	"context"
	"net/http"

	"github.com/hackgods/clinic-appointment-notifications/internal/reminder"
)

type ReminderRunner interface {
	Run(ctx context.Context, requestID string) (reminder.Result, error)
	Stats(ctx context.Context, requestID string) (reminder.Stats, error)
}

func runRemindersHandler(runner ReminderRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := runner.Run(r.Context(), GetRequestID(r.Context()))
		if err != nil {
			writeInternal(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ReminderRunResponse{Success: true, Result: res, RequestID: GetRequestID(r.Context())})
	}
}

func reminderStatsHandler(runner ReminderRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := runner.Stats(r.Context(), GetRequestID(r.Context()))
		if err != nil {
			writeInternal(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: st, RequestID: GetRequestID(r.Context())})
	}
}
