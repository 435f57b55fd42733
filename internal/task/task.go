package task

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a delivery task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDelivering Status = "delivering"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// Terminal reports whether no further delivery attempts will happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusDead
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDelivering, StatusSucceeded, StatusFailed, StatusDead:
		return true
	}
	return false
}

// EventIDKey is the payload field receivers dedupe on. It is stable across
// retries and redelivery clones of the same event.
const EventIDKey = "event_id"

// Task is one webhook notification record (the outbox row).
type Task struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	RecipientID     string         `json:"recipient_id"`
	EventType       string         `json:"event_type"`
	DeliveryURL     string         `json:"delivery_url"` // snapshotted at enqueue time
	Payload         map[string]any `json:"payload"`
	Status          Status         `json:"status"`
	AttemptCount    int            `json:"attempt_count"`
	NextAttemptAt   *time.Time     `json:"next_attempt_at,omitempty"`
	LastError       *string        `json:"last_error,omitempty"`
	ResponseCode    *int           `json:"response_code,omitempty"`
	RedeliveredFrom *string        `json:"redelivered_from,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// New creates a pending task that is immediately due.
func New(tenantID, recipientID, eventType, deliveryURL string, payload map[string]any, now time.Time) Task {
	due := now
	return Task{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		RecipientID:   recipientID,
		EventType:     eventType,
		DeliveryURL:   deliveryURL,
		Payload:       payload,
		Status:        StatusPending,
		AttemptCount:  0,
		NextAttemptAt: &due,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// EventID returns the stable event identifier embedded in the payload,
// or "" if the payload carries none.
func (t Task) EventID() string {
	if t.Payload == nil {
		return ""
	}
	if id, ok := t.Payload[EventIDKey].(string); ok {
		return id
	}
	return ""
}

// Clone builds a fresh pending task carrying the same event identity as t,
// for administrative redelivery. The payload (including event_id) is copied
// so receivers can still dedupe; attempt history starts over and the clone
// records where it came from. The source task is not modified.
func (t Task) Clone(now time.Time) Task {
	payload := make(map[string]any, len(t.Payload))
	for k, v := range t.Payload {
		payload[k] = v
	}
	source := t.ID
	clone := New(t.TenantID, t.RecipientID, t.EventType, t.DeliveryURL, payload, now)
	clone.RedeliveredFrom = &source
	return clone
}

// MarkSucceeded records a 2xx outcome. Terminal: the next attempt time is
// cleared and the last error wiped.
func (t *Task) MarkSucceeded(code int, now time.Time) {
	t.Status = StatusSucceeded
	t.ResponseCode = &code
	t.LastError = nil
	t.NextAttemptAt = nil
	t.UpdatedAt = now
}

// MarkFailed records a failed attempt and schedules the retry.
func (t *Task) MarkFailed(reason string, code *int, next time.Time, now time.Time) {
	t.Status = StatusFailed
	t.AttemptCount++
	t.LastError = &reason
	t.ResponseCode = code
	t.NextAttemptAt = &next
	t.UpdatedAt = now
}

// MarkDead moves the task to the terminal dead state. countAttempt controls
// whether this failure consumed a delivery attempt; configuration problems
// detected before any HTTP call do not.
func (t *Task) MarkDead(reason string, code *int, countAttempt bool, now time.Time) {
	t.Status = StatusDead
	if countAttempt {
		t.AttemptCount++
	}
	t.LastError = &reason
	t.ResponseCode = code
	t.NextAttemptAt = nil
	t.UpdatedAt = now
}

// WebhookConfig is the recipient's webhook settings as configured in the
// surrounding platform. Read-only from the delivery engine's perspective and
// looked up at dispatch time, never at enqueue time.
type WebhookConfig struct {
	Enabled    bool
	URL        string
	Secret     string
	SigVersion string
}

// Usable reports whether the config allows signed delivery at all.
func (c WebhookConfig) Usable() bool {
	return c.Enabled && c.URL != "" && c.Secret != ""
}
