// Package dispatch runs the polling delivery loop: scan for due tasks, claim
// each one, perform a signed HTTP POST, and record the outcome.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/avandyck/drifthook/internal/config"
	"github.com/avandyck/drifthook/internal/logging"
	"github.com/avandyck/drifthook/internal/metrics"
	"github.com/avandyck/drifthook/internal/signing"
	"github.com/avandyck/drifthook/internal/task"
	"github.com/avandyck/drifthook/internal/tracing"
)

// maxErrorLen bounds last_error stored on a task.
const maxErrorLen = 512

// configMissingReason is recorded when a recipient cannot receive webhooks at
// all: disabled, unknown, or missing URL/secret.
const configMissingReason = "Configuration missing"

// TaskStore is the slice of the store the dispatcher drives.
type TaskStore interface {
	Due(ctx context.Context, now time.Time, limit int) ([]task.Task, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	Update(ctx context.Context, t task.Task) error
}

// ConfigSource resolves a recipient's webhook settings at dispatch time.
type ConfigSource interface {
	GetWebhookConfig(ctx context.Context, recipientID string) (task.WebhookConfig, error)
}

// HTTPClient lets tests substitute the outbound client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Dispatcher struct {
	store   TaskStore
	configs ConfigSource
	client  HTTPClient
	logger  *logging.Logger
	cfg     config.Dispatch
	now     func() time.Time
}

func New(store TaskStore, configs ConfigSource, client HTTPClient, logger *logging.Logger, cfg config.Dispatch) *Dispatcher {
	return &Dispatcher{
		store:   store,
		configs: configs,
		client:  client,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run ticks until ctx is cancelled. Tick errors are logged, never fatal: the
// next tick retries from durable state.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	d.logger.Plain().WithField("tick_interval", d.cfg.TickInterval.String()).Info("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Plain().Info("dispatcher stopped")
			return
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.logger.WithContext(ctx).WithError(err).Error("tick failed")
			}
		}
	}
}

// Tick performs one dispatch pass: fetch the due batch, enforce the per-tick
// per-recipient cap, and process each surviving task sequentially. A task is
// attempted at most once per tick.
func (d *Dispatcher) Tick(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch.Tick")
	defer span.End()

	start := d.now()

	due, err := d.store.Due(ctx, start.UTC(), d.cfg.BatchSize)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("fetch due tasks: %w", err)
	}
	span.SetAttributes(attribute.Int("dispatch.due_count", len(due)))

	perRecipient := make(map[string]int)
	for _, t := range due {
		if perRecipient[t.RecipientID] >= d.cfg.RecipientCap {
			continue
		}
		perRecipient[t.RecipientID]++

		if err := d.process(ctx, t); err != nil {
			d.logger.WithContext(ctx).
				WithTask(t.ID).
				WithTenant(t.TenantID).
				WithError(err).
				Error("process task failed")
		}
	}

	metrics.RecordTick(time.Since(start), len(due))
	return nil
}

// process claims one task and runs a single delivery attempt on it.
func (d *Dispatcher) process(ctx context.Context, t task.Task) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch.process",
		attribute.String("task.id", t.ID),
		attribute.String("tenant.id", t.TenantID),
	)
	defer span.End()

	now := d.now().UTC()

	claimed, err := d.store.Claim(ctx, t.ID, now)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		// Another dispatcher got there first.
		tracing.AddSpanEvent(ctx, "dispatch.claim_lost")
		return nil
	}
	t.Status = task.StatusDelivering

	wc, err := d.configs.GetWebhookConfig(ctx, t.RecipientID)
	if err != nil {
		// Transient lookup failure: release the claim so a later tick
		// retries without consuming an attempt.
		t.Status = task.StatusPending
		t.NextAttemptAt = &now
		t.UpdatedAt = now
		if updErr := d.store.Update(ctx, t); updErr != nil {
			return fmt.Errorf("release after config lookup: %w", updErr)
		}
		return fmt.Errorf("config lookup: %w", err)
	}

	if !wc.Usable() {
		// No attempt happened, so the attempt count stays put.
		t.MarkDead(configMissingReason, nil, false, now)
		metrics.RecordDead("config_missing")
		d.logger.WithContext(ctx).
			WithTask(t.ID).
			WithTenant(t.TenantID).
			WithRecipient(t.RecipientID).
			Warn("webhook config missing, task dead-lettered")
		return d.store.Update(ctx, t)
	}

	status, doErr := d.attempt(ctx, t, wc)
	now = d.now().UTC()

	if doErr == nil && status >= 200 && status < 300 {
		t.MarkSucceeded(status, now)
		metrics.RecordDelivery("succeeded", t.TenantID)
		tracing.AddSpanEvent(ctx, "delivery.success", attribute.Int("http.status_code", status))
		d.logger.WithContext(ctx).
			WithTask(t.ID).
			WithTenant(t.TenantID).
			WithField("status_code", status).
			WithField("attempt", t.AttemptCount+1).
			Info("delivery succeeded")
		return d.store.Update(ctx, t)
	}

	reason := sanitizeError(failureDetail(doErr, status), wc.Secret)
	class := classifyReason(doErr, status)
	span.SetAttributes(attribute.String("failure_reason", class))

	var codePtr *int
	if status > 0 {
		codePtr = &status
	}

	if t.AttemptCount+1 >= d.cfg.MaxAttempts {
		t.MarkDead(reason, codePtr, true, now)
		metrics.RecordDelivery("dead", t.TenantID)
		metrics.RecordDead("attempts_exhausted")
		tracing.AddSpanEvent(ctx, "delivery.dead", attribute.Int("attempt", t.AttemptCount))
		d.logger.WithContext(ctx).
			WithTask(t.ID).
			WithTenant(t.TenantID).
			WithField("attempt", t.AttemptCount).
			WithField("reason", class).
			Error("delivery exhausted, task dead-lettered")
		return d.store.Update(ctx, t)
	}

	next := now.Add(backoffDelay(t.AttemptCount+1, d.cfg.BackoffSchedule))
	t.MarkFailed(reason, codePtr, next, now)
	metrics.RecordDelivery("failed", t.TenantID)
	metrics.RecordRetry(class)
	tracing.AddSpanEvent(ctx, "delivery.retry_scheduled",
		attribute.Int("attempt", t.AttemptCount),
		attribute.String("next_attempt_at", next.Format(time.RFC3339)),
	)
	d.logger.WithContext(ctx).
		WithTask(t.ID).
		WithTenant(t.TenantID).
		WithField("attempt", t.AttemptCount).
		WithField("reason", class).
		WithField("next_attempt_at", next.Format(time.RFC3339)).
		Info("delivery failed, retry scheduled")
	return d.store.Update(ctx, t)
}

// attempt performs the signed HTTP POST. It returns the response status code
// (0 when no response was received) and the transport error, if any.
func (d *Dispatcher) attempt(ctx context.Context, t task.Task, wc task.WebhookConfig) (int, error) {
	body, err := json.Marshal(t.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	nonce, err := signing.NewNonce()
	if err != nil {
		return 0, fmt.Errorf("generate nonce: %w", err)
	}

	u, err := url.Parse(t.DeliveryURL)
	if err != nil {
		return 0, fmt.Errorf("parse delivery url: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	ts := d.now().UTC().Unix()
	canonical := signing.CanonicalString(http.MethodPost, path, ts, nonce, signing.BodyHash(body))
	sig := signing.Sign(wc.Secret, canonical)

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.DeliveryURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signing.HeaderSignatureVersion, wc.SigVersion)
	req.Header.Set(signing.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(signing.HeaderNonce, nonce)
	req.Header.Set(signing.HeaderSignature, sig)
	tracing.InjectHTTPHeaders(ctx, req.Header)

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	resp, doErr := d.client.Do(req)
	if doErr != nil {
		return 0, doErr
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// backoffDelay maps a post-increment attempt count to a retry delay,
// clamping to the last schedule entry.
func backoffDelay(attempt int, schedule []time.Duration) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	idx := attempt
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// failureDetail builds the human-readable error stored on the task.
func failureDetail(doErr error, status int) string {
	if doErr != nil {
		return doErr.Error()
	}
	return fmt.Sprintf("http status %d", status)
}

// sanitizeError scrubs the recipient secret out of an error message and
// bounds its length.
func sanitizeError(msg, secret string) string {
	if secret != "" {
		msg = strings.ReplaceAll(msg, secret, "[redacted]")
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
