package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
	"github.com/hackgods/clinic-appointment-notifications/internal/booking"
	"github.com/hackgods/clinic-appointment-notifications/internal/eventlog"
	"github.com/hackgods/clinic-appointment-notifications/internal/fallback"
	"github.com/hackgods/clinic-appointment-notifications/internal/outbox"
	"github.com/hackgods/clinic-appointment-notifications/internal/reminder"
)

const (
	testSecret     = "whsec_test"
	testCronSecret = "cron_test"
)

type stubGateway struct {
	res booking.Result
	err error
}

func (g *stubGateway) Submit(context.Context, string, booking.Request) (booking.Result, error) {
	return g.res, g.err
}

type stubQueue struct {
	items map[string]fallback.Item
}

func (q *stubQueue) Get(_ context.Context, id string) (*fallback.Item, error) {
	item, ok := q.items[id]
	if !ok {
		return nil, fallback.ErrItemNotFound
	}
	return &item, nil
}

type stubReminders struct {
	res reminder.Result
	err error
}

func (s *stubReminders) Run(context.Context, string) (reminder.Result, error) {
	return s.res, s.err
}

func (s *stubReminders) Stats(context.Context, string) (reminder.Stats, error) {
	return reminder.Stats{Pending: 2, Confirmed: 3}, s.err
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type apiFixture struct {
	clock     *clockwork.FakeClock
	appts     *appointment.MemoryRepository
	outbox    *outbox.MemoryRepository
	events    *eventlog.MemoryStore
	verifier  *outbox.Verifier
	gateway   *stubGateway
	queue     *stubQueue
	reminders *stubReminders
	handler   http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 10, 7, 12, 0, 0, 0, time.UTC))
	appts := appointment.NewMemoryRepository(clock.Now)
	ob := outbox.NewMemoryRepository()
	events := eventlog.NewMemoryStore()
	recorder := eventlog.NewLogger(events, clock)

	f := &apiFixture{
		clock:     clock,
		appts:     appts,
		outbox:    ob,
		events:    events,
		verifier:  outbox.NewVerifier(testSecret, 5*time.Minute, clock),
		gateway:   &stubGateway{},
		queue:     &stubQueue{items: map[string]fallback.Item{}},
		reminders: &stubReminders{},
	}
	f.handler = NewRouter(RouterConfig{
		Confirmations: appointment.NewService(appts, ob, recorder, clock, time.UTC),
		Gateway:       f.gateway,
		Queue:         f.queue,
		Reminders:     f.reminders,
		Reconciler:    outbox.NewReconciler(ob, recorder, clock),
		Verifier:      f.verifier,
		Health:        NewHealthHandler(pinger{}, pinger{err: errors.New("redis down")}, "test", "v0"),
		Events:        recorder,
		CronSecret:    testCronSecret,
	})
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) seedAppointment(t *testing.T, in time.Duration) appointment.Appointment {
	t.Helper()
	token, err := appointment.GenerateToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	at := f.clock.Now().Add(in)
	a := appointment.Appointment{
		ID:                uuid.New(),
		PatientName:       "João Silva",
		PatientEmail:      "joao@email.com",
		PatientPhone:      "+5511999999999",
		Date:              at.Format(appointment.DateLayout),
		Time:              at.Format(appointment.TimeLayout),
		ScheduledAt:       at,
		Status:            appointment.StatusPending,
		ConfirmationToken: token,
	}
	f.appts.Put(a)
	return a
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestConfirmFlow(t *testing.T) {
	f := newAPIFixture(t)
	a := f.seedAppointment(t, 24*time.Hour)

	rec := f.do(t, http.MethodGet, "/api/appointments/confirm?token="+a.ConfirmationToken, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup status = %d body=%s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), a.ConfirmationToken) || strings.Contains(rec.Body.String(), a.PatientEmail) {
		t.Fatalf("lookup leaked token or contact data: %s", rec.Body.String())
	}

	body, _ := json.Marshal(ConfirmRequest{Token: a.ConfirmationToken, Action: "confirm"})
	rec = f.do(t, http.MethodPost, "/api/appointments/confirm", body, map[string]string{"X-Request-ID": "req-confirm"})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d body=%s", rec.Code, rec.Body.String())
	}

	var ok struct {
		Success   bool                `json:"success"`
		Data      appointment.Summary `json:"data"`
		Message   string              `json:"message"`
		RequestID string              `json:"requestId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ok.Success || ok.Data.Status != appointment.StatusConfirmed || ok.Data.ConfirmedAt == nil {
		t.Fatalf("unexpected confirm body: %+v", ok)
	}
	if ok.RequestID != "req-confirm" {
		t.Fatalf("requestId = %q, want req-confirm", ok.RequestID)
	}
	if ok.Message != "Appointment confirmed successfully" {
		t.Fatalf("message = %q", ok.Message)
	}

	rec = f.do(t, http.MethodPost, "/api/appointments/confirm", body, map[string]string{"X-Request-ID": "req-repeat"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("repeat confirm status = %d", rec.Code)
	}
	env := decodeError(t, rec)
	if env.Success || env.Error.Code != CodeInvalidStatusTransition || env.Error.RequestID != "req-repeat" {
		t.Fatalf("unexpected error envelope: %+v", env)
	}
	if env.Error.Timestamp.IsZero() {
		t.Fatalf("error envelope missing timestamp")
	}
}

func TestConfirmErrors(t *testing.T) {
	f := newAPIFixture(t)
	past := f.seedAppointment(t, -time.Hour)
	future := f.seedAppointment(t, time.Hour)
	missing, _ := appointment.GenerateToken()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed token", http.MethodGet, "/api/appointments/confirm?token=abc", "", http.StatusBadRequest, CodeInvalidToken},
		{"unknown token", http.MethodGet, "/api/appointments/confirm?token=" + missing, "", http.StatusNotFound, CodeAppointmentNotFound},
		{"expired", http.MethodGet, "/api/appointments/confirm?token=" + past.ConfirmationToken, "", http.StatusBadRequest, CodeAppointmentExpired},
		{"bad action", http.MethodPost, "/api/appointments/confirm", `{"token":"` + future.ConfirmationToken + `","action":"move"}`, http.StatusBadRequest, CodeInvalidAction},
		{"bad json", http.MethodPost, "/api/appointments/confirm", `{`, http.StatusBadRequest, CodeValidation},
		{"wrong method", http.MethodPut, "/api/appointments/confirm", "", http.StatusMethodNotAllowed, CodeMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, []byte(tc.body), nil)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body=%s)", rec.Code, tc.status, rec.Body.String())
			}
			if env := decodeError(t, rec); env.Error.Code != tc.code || env.Error.RequestID == "" {
				t.Fatalf("unexpected envelope: %+v", env)
			}
		})
	}
}

func TestBookingOutcomes(t *testing.T) {
	f := newAPIFixture(t)
	body := []byte(`{"patientName":"João Silva","patientEmail":"joao@email.com","patientPhone":"+5511999999999","date":"2025-10-08","time":"11:00","lgpdConsent":true}`)

	t.Run("created", func(t *testing.T) {
		f.gateway.res = booking.Result{
			Outcome:     booking.OutcomeCreated,
			Appointment: &appointment.Appointment{ID: uuid.New(), Status: appointment.StatusPending, Date: "2025-10-08", Time: "11:00"},
		}
		rec := f.do(t, http.MethodPost, "/api/appointments", body, map[string]string{"X-Request-ID": "req-created"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
		}
		var got SuccessResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Success || got.RequestID != "req-created" {
			t.Fatalf("unexpected created body: %+v", got)
		}
	})

	t.Run("queued", func(t *testing.T) {
		f.gateway.res = booking.Result{
			Outcome: booking.OutcomeQueued,
			Receipt: &booking.Receipt{QueueID: "queue-uuid-123456", EstimatedProcessingTime: "5-10 minutes", Message: booking.QueuedMessage},
		}
		rec := f.do(t, http.MethodPost, "/api/appointments", body, map[string]string{"X-Request-ID": "req-queued"})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
		}
		var got QueuedResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Queued || got.QueueID != "queue-uuid-123456" || got.EstimatedProcessingTime != "5-10 minutes" || got.RequestID != "req-queued" {
			t.Fatalf("unexpected queued body: %+v", got)
		}
	})

	t.Run("validation", func(t *testing.T) {
		f.gateway.res = booking.Result{
			Outcome: booking.OutcomeRejected,
			Reason:  &booking.ValidationError{Fields: []booking.FieldError{{Field: "lgpdConsent", Message: "consent is required"}}},
		}
		rec := f.do(t, http.MethodPost, "/api/appointments", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if env := decodeError(t, rec); env.Error.Code != CodeValidation || env.Error.Details == nil {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	})

	t.Run("slot conflict", func(t *testing.T) {
		f.gateway.res = booking.Result{
			Outcome: booking.OutcomeRejected,
			Reason:  &booking.UpstreamError{StatusCode: http.StatusConflict, Body: "taken"},
		}
		rec := f.do(t, http.MethodPost, "/api/appointments", body, nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d", rec.Code)
		}
		if env := decodeError(t, rec); env.Error.Code != CodeSlotConflict {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	})

	t.Run("internal", func(t *testing.T) {
		f.gateway.err = errors.New("postgres: connection refused")
		defer func() { f.gateway.err = nil }()

		rec := f.do(t, http.MethodPost, "/api/appointments", body, nil)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "connection refused") {
			t.Fatalf("internal error leaked: %s", rec.Body.String())
		}
		if env := decodeError(t, rec); env.Error.Code != CodeInternal {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	})
}

func TestQueueStatus(t *testing.T) {
	f := newAPIFixture(t)
	f.queue.items["q-1"] = fallback.Item{ID: "q-1", Status: fallback.StatusQueued, Payload: []byte(`{"patientEmail":"joao@email.com"}`)}

	rec := f.do(t, http.MethodGet, "/api/appointments/queue/q-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "joao@email.com") {
		t.Fatalf("queue status leaked the payload")
	}

	rec = f.do(t, http.MethodGet, "/api/appointments/queue/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReminderEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.reminders.res = reminder.Result{Processed24h: 2, Processed2h: 1, Failed: 1, Total: 3}

	auth := map[string]string{"Authorization": "Bearer " + testCronSecret}

	rec := f.do(t, http.MethodPost, "/api/appointments/reminders", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["processed24h"] != float64(2) || got["processed2h"] != float64(1) || got["failed"] != float64(1) || got["total"] != float64(3) {
		t.Fatalf("unexpected body: %v", got)
	}
	if id, _ := got["requestId"].(string); id == "" {
		t.Fatalf("run body missing requestId: %v", got)
	}

	rec = f.do(t, http.MethodGet, "/api/appointments/reminders", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}

	for name, headers := range map[string]map[string]string{
		"no header":    nil,
		"wrong secret": {"Authorization": "Bearer nope"},
		"not bearer":   {"Authorization": testCronSecret},
	} {
		for _, method := range []string{http.MethodPost, http.MethodGet} {
			rec := f.do(t, method, "/api/appointments/reminders", nil, headers)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("%s %s: status = %d, want 401", name, method, rec.Code)
			}
			if env := decodeError(t, rec); env.Error.Code != CodeUnauthorized {
				t.Fatalf("%s %s: unexpected envelope %+v", name, method, env)
			}
		}
	}

	f.reminders.err = errors.New("db down")
	rec = f.do(t, http.MethodPost, "/api/appointments/reminders", nil, auth)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failing run status = %d", rec.Code)
	}
}

func TestDeliveryWebhook(t *testing.T) {
	f := newAPIFixture(t)
	msg := outbox.NewMessage(outbox.TypeEmail, "joao@email.com", outbox.TemplateReminder, nil)
	if err := f.outbox.Insert(context.Background(), msg); err != nil {
		t.Fatalf("insert: %v", err)
	}

	event := func(kind, id string) []byte {
		return []byte(fmt.Sprintf(`{"type":%q,"data":{"email_id":"e-1","headers":{"X-Message-ID":%q}}}`, kind, id))
	}
	signed := func(payload []byte, at time.Time) map[string]string {
		return map[string]string{"Resend-Signature": f.verifier.Sign(at, payload)}
	}

	t.Run("delivered", func(t *testing.T) {
		payload := event("email.delivered", msg.ID.String())
		rec := f.do(t, http.MethodPost, "/api/webhooks/delivery", payload, signed(payload, f.clock.Now()))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
		}
		var got WebhookResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Success || got.Data.Status != outbox.StatusDelivered || !strings.HasSuffix(got.ProcessingTime, "ms") || got.RequestID == "" {
			t.Fatalf("unexpected body: %+v", got)
		}
	})

	t.Run("late sent does not regress", func(t *testing.T) {
		payload := event("email.sent", msg.ID.String())
		rec := f.do(t, http.MethodPost, "/api/webhooks/delivery", payload, signed(payload, f.clock.Now()))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		stored, _ := f.outbox.GetByID(context.Background(), msg.ID)
		if stored.Status != outbox.StatusDelivered {
			t.Fatalf("status regressed to %s", stored.Status)
		}
	})

	t.Run("unknown message acknowledged", func(t *testing.T) {
		payload := event("email.delivered", uuid.NewString())
		rec := f.do(t, http.MethodPost, "/api/webhooks/delivery", payload, signed(payload, f.clock.Now()))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		payload := event("email.delivered", msg.ID.String())
		headers := map[string]string{"Resend-Signature": fmt.Sprintf("t=%d,v1=deadbeef", f.clock.Now().Unix())}
		rec := f.do(t, http.MethodPost, "/api/webhooks/delivery", payload, headers)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
		if env := decodeError(t, rec); env.Error.Code != CodeInvalidSignature {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	})

	t.Run("stale signature", func(t *testing.T) {
		payload := event("email.delivered", msg.ID.String())
		rec := f.do(t, http.MethodPost, "/api/webhooks/delivery", payload, signed(payload, f.clock.Now().Add(-301*time.Second)))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("unparseable", func(t *testing.T) {
		payload := []byte(`not json`)
		rec := f.do(t, http.MethodPost, "/api/webhooks/delivery", payload, signed(payload, f.clock.Now()))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	if len(f.events.ByType(outbox.EventInvalidSignature)) != 2 {
		t.Fatalf("expected two signature rejections logged, got %d", len(f.events.ByType(outbox.EventInvalidSignature)))
	}
}

func TestDeliveryWebhookWithoutSecretRejectsUnsigned(t *testing.T) {
	f := newAPIFixture(t)
	msg := outbox.NewMessage(outbox.TypeEmail, "joao@email.com", outbox.TemplateReminder, nil)
	if err := f.outbox.Insert(context.Background(), msg); err != nil {
		t.Fatalf("insert: %v", err)
	}
	recorder := eventlog.NewLogger(f.events, f.clock)

	handler := NewRouter(RouterConfig{
		Reconciler: outbox.NewReconciler(f.outbox, recorder, f.clock),
		Verifier:   outbox.NewVerifier("", 5*time.Minute, f.clock),
		Events:     recorder,
	})

	payload := []byte(fmt.Sprintf(`{"type":"email.bounced","data":{"headers":{"X-Message-ID":%q}}}`, msg.ID))
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/delivery", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	stored, _ := f.outbox.GetByID(context.Background(), msg.ID)
	if stored.Status != outbox.StatusQueued {
		t.Fatalf("unsigned event changed status to %s", stored.Status)
	}
	if len(f.events.ByType(outbox.EventInvalidSignature)) != 1 {
		t.Fatal("expected the rejection to be logged")
	}

	t.Run("nil verifier", func(t *testing.T) {
		handler := NewRouter(RouterConfig{Reconciler: outbox.NewReconciler(f.outbox, recorder, f.clock)})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/delivery", bytes.NewReader(payload)))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})
}

func TestInvalidBodyIsRecorded(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/appointments/confirm", []byte(`{`), map[string]string{"X-Request-ID": "req-body"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	entries := f.events.ByType(EventInvalidBody)
	if len(entries) != 1 || entries[0].RequestID != "req-body" {
		t.Fatalf("expected one invalid body entry, got %+v", entries)
	}
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health/live", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("live status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/health/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
	var got ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "degraded" || got.Dependencies["redis"] != "down" {
		t.Fatalf("unexpected readiness: %+v", got)
	}
}
