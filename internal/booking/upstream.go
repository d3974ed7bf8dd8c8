package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrSlotConflict = errors.New("slot already taken")

// UpstreamError is a failed call to the scheduling provider. StatusCode is 0
// when no response arrived.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream unreachable: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	if e.StatusCode == http.StatusConflict {
		return ErrSlotConflict
	}
	return e.Err
}

// Retryable is true for outages: no response, 5xx or 429.
func (e *UpstreamError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Booking is the provider's acknowledgement.
type Booking struct {
	ExternalID string `json:"id"`
	Status     string `json:"status,omitempty"`
}

type Upstream interface {
	Submit(ctx context.Context, req Request) (*Booking, error)
}

type HTTPUpstream struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPUpstream(baseURL, apiKey string, timeout time.Duration) *HTTPUpstream {
	return &HTTPUpstream{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (u *HTTPUpstream) Submit(ctx context.Context, req Request) (*Booking, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode booking: %w", err)
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if u.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+u.apiKey)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("read upstream response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var b Booking
	if err := json.Unmarshal(respBody, &b); err != nil {
		return nil, fmt.Errorf("decode upstream booking: %w", err)
	}
	return &b, nil
}
