package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
)

const maxWebhookBytes = 1 << 20

var errNoVerifier = errors.New("no webhook verifier configured")

// Signature headers, checked in order.
var signatureHeaders = []string{"Resend-Signature", "X-Webhook-Signature"}

type DeliveryReconciler interface {
	Reconcile(ctx context.Context, requestID string, ev outbox.ProviderEvent) (outbox.Result, error)
	RecordRejected(ctx context.Context, requestID string, reason error)
	RecordInvalidPayload(ctx context.Context, requestID string, reason error)
}

type SignatureVerifier interface {
	Verify(header string, payload []byte) error
}

// deliveryWebhookHandler acknowledges every authentic, parseable event with
// 200, actionable or not. Only a failed write returns 500 so the provider
// redelivers. A nil verifier rejects everything.
func deliveryWebhookHandler(rec DeliveryReconciler, verifier SignatureVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GetRequestID(r.Context())

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			rec.RecordInvalidPayload(r.Context(), requestID, fmt.Errorf("read body: %w", err))
			writeError(w, r, http.StatusBadRequest, CodeInvalidPayload, "could not read body")
			return
		}

		verr := errNoVerifier
		if verifier != nil {
			verr = verifier.Verify(signatureHeader(r), body)
		}
		if verr != nil {
			rec.RecordRejected(r.Context(), requestID, verr)
			writeError(w, r, http.StatusUnauthorized, CodeInvalidSignature, "Invalid webhook signature")
			return
		}

		var ev outbox.ProviderEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			rec.RecordInvalidPayload(r.Context(), requestID, err)
			writeError(w, r, http.StatusBadRequest, CodeInvalidPayload, "could not parse event JSON")
			return
		}

		res, err := rec.Reconcile(r.Context(), requestID, ev)
		if err != nil {
			writeInternal(w, r, fmt.Errorf("reconcile delivery event: %w", err))
			return
		}

		writeJSON(w, http.StatusOK, WebhookResponse{
			Success:        true,
			Data:           res,
			ProcessingTime: fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
			RequestID:      requestID,
		})
	}
}

func signatureHeader(r *http.Request) string {
	for _, h := range signatureHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}
