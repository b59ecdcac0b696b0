package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"signalhook/internal/metrics"
	"signalhook/internal/model"
)

// Outbound header names. Receivers verify X-Signature with VerifyHMAC.
const (
	HeaderSignature = "X-Signature"
	HeaderEventType = "X-Event-Type"
)

// backoff returns the fixed delay after the given 1-based attempt number:
// 1s after the first failure, then 2s, then 4s. Not jittered.
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Second * time.Duration(1<<(attempt-1))
}

// AttemptResult is the classified outcome of a single HTTP POST. Attempts
// never surface errors to the caller; every failure mode collapses into the
// Reason string.
type AttemptResult struct {
	StatusCode int
	Reason     string
	OK         bool
}

// seqState is the retry controller state: attempt counts up while status is
// pending; delivered and failed are terminal.
type seqState struct {
	attempt int
	status  string
}

func nextState(st seqState, ok bool) seqState {
	if ok {
		return seqState{attempt: st.attempt, status: model.DeliveryDelivered}
	}
	if st.attempt >= model.MaxDeliveryAttempts {
		return seqState{attempt: st.attempt, status: model.DeliveryFailed}
	}
	return seqState{attempt: st.attempt + 1, status: model.DeliveryPending}
}

// Deliverer runs one webhook delivery sequence synchronously: up to three
// attempts with fixed exponential backoff, inline in the triggering request.
// Sleep and Now are injectable for tests.
type Deliverer struct {
	HTTP  *http.Client
	Sleep func(d time.Duration)
	Now   func() time.Time
}

func NewDeliverer(timeout time.Duration) *Deliverer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Deliverer{
		HTTP:  &http.Client{Timeout: timeout},
		Sleep: time.Sleep,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Deliver posts payload to cfg.URL, signing with cfg.Secret when set, and
// returns the finalized delivery record. The sequence cannot be aborted once
// started; delivery failures never propagate as errors.
func (d *Deliverer) Deliver(ctx context.Context, cfg model.WebhookConfig, eventType string, payload []byte, summary string) model.WebhookDelivery {
	del := model.WebhookDelivery{
		ID:          uuid.New().String(),
		UserID:      cfg.UserID,
		EventType:   eventType,
		URL:         cfg.URL,
		PayloadSize: len(payload),
		Summary:     summary,
		Status:      model.DeliveryPending,
		CreatedAt:   d.Now(),
	}
	st := seqState{attempt: 1, status: model.DeliveryPending}
	for st.status == model.DeliveryPending {
		res := d.attempt(ctx, cfg, eventType, payload)
		del.Attempts++
		del.ResponseCode = res.StatusCode
		del.LastError = res.Reason
		if !res.OK {
			// backs off after every failed attempt, the last included, so a
			// fully failed sequence blocks for 1+2+4 seconds
			d.Sleep(backoff(st.attempt))
		}
		st = nextState(st, res.OK)
	}
	del.Status = st.status
	if del.Status == model.DeliveryDelivered {
		del.LastError = ""
	}
	now := d.Now()
	del.CompletedAt = &now
	return del
}

// attempt issues one POST and classifies the outcome.
func (d *Deliverer) attempt(ctx context.Context, cfg model.WebhookConfig, eventType string, payload []byte) AttemptResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		metrics.WebhookAttempts.WithLabelValues("invalid_url").Inc()
		return AttemptResult{Reason: "invalid url: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, eventType)
	if cfg.Secret != "" {
		req.Header.Set(HeaderSignature, SignHMAC(cfg.Secret, payload))
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		outcome, reason := classifyErr(err)
		metrics.WebhookAttempts.WithLabelValues(outcome).Inc()
		return AttemptResult{Reason: reason}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.WebhookAttempts.WithLabelValues("success").Inc()
		return AttemptResult{StatusCode: resp.StatusCode, OK: true}
	}
	metrics.WebhookAttempts.WithLabelValues("http_error").Inc()
	return AttemptResult{StatusCode: resp.StatusCode, Reason: fmt.Sprintf("http status %d", resp.StatusCode)}
}

func classifyErr(err error) (outcome, reason string) {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return "timeout", "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns_error", "dns failure: " + dnsErr.Name
	}
	return "connection_error", "connection error: " + err.Error()
}
