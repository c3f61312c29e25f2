// Package notify delivers approval events to webhook channels so approvers
// learn about pending bookings and deletions without polling.
//
// Each channel receives the event as JSON, signed with HMAC-SHA256 when the
// channel has a secret. Channels are dispatched concurrently; a failing
// channel never affects the others or the gated tool call.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/iter"

	"github.com/tripsage/tripsage-core/pkg/models"
)

// ── Event types ─────────────────────────────────────────────

// EventType describes what happened.
type EventType string

const (
	EventApprovalRequired EventType = "approval_required"
	EventApprovalGranted  EventType = "approval_granted"
	EventApprovalDenied   EventType = "approval_denied"
)

// Event is the webhook payload.
type Event struct {
	Type      EventType              `json:"type"`
	Approval  *models.ApprovalRecord `json:"approval"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventFor maps a record's status to its event.
func EventFor(rec *models.ApprovalRecord) Event {
	t := EventApprovalRequired
	switch rec.Status {
	case models.ApprovalGranted:
		t = EventApprovalGranted
	case models.ApprovalDenied:
		t = EventApprovalDenied
	}
	return Event{Type: t, Approval: rec, Timestamp: time.Now().UTC()}
}

// Channel is one webhook destination.
type Channel struct {
	Name   string
	URL    string
	Secret string
	// Events filters deliveries; empty means all events.
	Events []EventType
}

func (c *Channel) subscribes(t EventType) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == t || e == "*" {
			return true
		}
	}
	return false
}

// Result records one delivery.
type Result struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ── Service ──────────────────────────────────────────────────

// Service dispatches events to its channels.
type Service struct {
	client     *http.Client
	channels   []Channel
	maxRetries uint64
	interval   time.Duration
}

// NewService creates a notification service.
func NewService(channels ...Channel) *Service {
	return &Service{
		client:     &http.Client{Timeout: 15 * time.Second},
		channels:   channels,
		maxRetries: 2,
		interval:   time.Second,
	}
}

// SetRetry changes the retry budget and first backoff delay. Tests only.
func (s *Service) SetRetry(n uint64, interval time.Duration) {
	s.maxRetries = n
	s.interval = interval
}

// ApprovalChanged implements approvals.Notifier. Delivery runs in the
// background, detached from the caller's cancellation.
func (s *Service) ApprovalChanged(ctx context.Context, rec *models.ApprovalRecord) {
	if len(s.channels) == 0 {
		return
	}
	ev := EventFor(rec)
	go s.Dispatch(context.WithoutCancel(ctx), ev)
}

// Dispatch sends event to every subscribed channel and waits for all of them.
func (s *Service) Dispatch(ctx context.Context, event Event) []Result {
	return iter.Map(s.channels, func(ch *Channel) Result {
		r := Result{Channel: ch.Name}
		if !ch.subscribes(event.Type) {
			r.Error = fmt.Sprintf("channel %s does not subscribe to %s events", ch.Name, event.Type)
			return r
		}
		if err := s.send(ctx, ch, event); err != nil {
			r.Error = err.Error()
			log.Warn().Err(err).Str("channel", ch.Name).Str("event", string(event.Type)).Msg("Approval notification failed")
			return r
		}
		r.Success = true
		log.Info().Str("channel", ch.Name).Str("event", string(event.Type)).Msg("Approval notification dispatched")
		return r
	})
}

// send posts the event as JSON with optional HMAC signing and retries
// network errors and 5xx responses.
func (s *Service) send(ctx context.Context, ch *Channel, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var sig string
	if ch.Secret != "" {
		sig = Sign(ch.Secret, body)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "TripSage-Webhook/1.0")
		req.Header.Set("X-TripSage-Event", string(event.Type))
		if sig != "" {
			req.Header.Set("X-TripSage-Signature", sig)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, ch.URL)
		default:
			return backoff.Permanent(fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, ch.URL))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.interval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx))
}

// Sign returns the signature header value for body. Receivers use it to
// verify deliveries.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
