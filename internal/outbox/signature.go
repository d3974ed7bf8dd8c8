package outbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleSignature   = errors.New("webhook timestamp outside tolerance")
	ErrNoSecret         = errors.New("webhook secret not configured")
)

// Verifier checks `t=<unix>,v1=<hex hmac-sha256("<t>.<payload>")>` headers.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	clock     clockwork.Clock
}

func NewVerifier(secret string, tolerance time.Duration, clock clockwork.Clock) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, clock: clock}
}

// Enabled is false when no secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify fails closed: without a secret every payload is rejected. The age
// is only checked once the HMAC matches.
func (v *Verifier) Verify(header string, payload []byte) error {
	if !v.Enabled() {
		return ErrNoSecret
	}
	if header == "" {
		return ErrMissingSignature
	}

	ts, sigs, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	if !v.matches(ts, sigs, payload) {
		return ErrInvalidSignature
	}

	age := v.clock.Now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > v.tolerance {
		return ErrStaleSignature
	}
	return nil
}

func (v *Verifier) matches(ts int64, sigs []string, payload []byte) bool {
	expected := v.sign(ts, payload)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return true
		}
	}
	return false
}

// AcceptUnsigned skips verification. Only wired when WEBHOOK_VERIFY_DISABLED
// is set explicitly.
type AcceptUnsigned struct{}

func (AcceptUnsigned) Verify(string, []byte) error { return nil }

// Sign produces a header value for payload at the given time.
func (v *Verifier) Sign(at time.Time, payload []byte) string {
	ts := at.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + hex.EncodeToString(v.sign(ts, payload))
}

func (v *Verifier) sign(ts int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var (
		ts    int64
		hasTS bool
		sigs  []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrInvalidSignature
			}
			ts, hasTS = n, true
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if !hasTS || len(sigs) == 0 {
		return 0, nil, ErrInvalidSignature
	}
	return ts, sigs, nil
}
