package outbox

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestVerifier(t *testing.T) {
	now := time.Date(2025, 10, 7, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	v := NewVerifier("test-webhook-secret", 5*time.Minute, clock)
	payload := []byte(`{"type":"email.sent","data":{"email_id":"test-123"}}`)

	cases := []struct {
		name   string
		header string
		body   []byte
		want   error
	}{
		{"valid", v.Sign(now, payload), payload, nil},
		{"299 seconds old", v.Sign(now.Add(-299*time.Second), payload), payload, nil},
		{"301 seconds old", v.Sign(now.Add(-301*time.Second), payload), payload, ErrStaleSignature},
		{"far future", v.Sign(now.Add(10*time.Minute), payload), payload, ErrStaleSignature},
		{"tampered body", v.Sign(now, payload), []byte(`{"type":"email.delivered"}`), ErrInvalidSignature},
		{"garbage signature", "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=invalid-signature", payload, ErrInvalidSignature},
		{"missing timestamp", "v1=abcdef", payload, ErrInvalidSignature},
		{"empty header", "", payload, ErrMissingSignature},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Verify(tc.header, tc.body)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Verify() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestVerifierWrongSecret(t *testing.T) {
	now := time.Date(2025, 10, 7, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	signer := NewVerifier("other-secret", 5*time.Minute, clock)
	v := NewVerifier("test-webhook-secret", 5*time.Minute, clock)

	payload := []byte(`{}`)
	if err := v.Verify(signer.Sign(now, payload), payload); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifierChecksSignatureBeforeAge(t *testing.T) {
	now := time.Date(2025, 10, 7, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	v := NewVerifier("test-webhook-secret", 5*time.Minute, clock)

	old := now.Add(-time.Hour).Unix()
	header := "t=" + strconv.FormatInt(old, 10) + ",v1=deadbeef"
	if err := v.Verify(header, []byte(`{}`)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("forged stale header: got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifierWithoutSecretRejects(t *testing.T) {
	now := time.Date(2025, 10, 7, 12, 0, 0, 0, time.UTC)
	v := NewVerifier("", 5*time.Minute, clockwork.NewFakeClockAt(now))

	payload := []byte(`{"type":"email.bounced"}`)
	for _, header := range []string{"", v.Sign(now, payload)} {
		if err := v.Verify(header, payload); !errors.Is(err, ErrNoSecret) {
			t.Fatalf("Verify(%q) = %v, want ErrNoSecret", header, err)
		}
	}
	if err := (AcceptUnsigned{}).Verify("", payload); err != nil {
		t.Fatalf("AcceptUnsigned: %v", err)
	}
}
