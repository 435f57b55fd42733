// Package enqueue creates delivery tasks for platform events.
package enqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avandyck/drifthook/internal/logging"
	"github.com/avandyck/drifthook/internal/metrics"
	"github.com/avandyck/drifthook/internal/task"
	"github.com/avandyck/drifthook/internal/tracing"
)

// taskCreator is the slice of the task store the service needs.
type taskCreator interface {
	Create(ctx context.Context, t task.Task) error
}

// Request carries everything the caller knows about the event. The delivery
// URL is snapshotted here; later changes to the recipient's configured URL do
// not affect tasks already enqueued.
type Request struct {
	TenantID    string         `json:"tenant_id"`
	RecipientID string         `json:"recipient_id"`
	EventType   string         `json:"event_type"`
	DeliveryURL string         `json:"delivery_url"`
	Payload     map[string]any `json:"payload"`
}

func (r Request) validate() error {
	switch {
	case r.TenantID == "":
		return fmt.Errorf("tenant_id is required")
	case r.RecipientID == "":
		return fmt.Errorf("recipient_id is required")
	case r.EventType == "":
		return fmt.Errorf("event_type is required")
	case r.DeliveryURL == "":
		return fmt.Errorf("delivery_url is required")
	}
	return nil
}

type Service struct {
	store  taskCreator
	logger *logging.Logger
	now    func() time.Time
}

func NewService(store taskCreator, logger *logging.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue records a pending, immediately-due delivery task for the event and
// returns it. A fresh event id is stamped into the payload; retries and
// redeliveries of this task all carry the same id so receivers can dedupe.
func (s *Service) Enqueue(ctx context.Context, req Request) (task.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "enqueue.Enqueue")
	defer span.End()

	if err := req.validate(); err != nil {
		return task.Task{}, err
	}

	payload := make(map[string]any, len(req.Payload)+1)
	for k, v := range req.Payload {
		payload[k] = v
	}
	payload[task.EventIDKey] = uuid.NewString()

	t := task.New(req.TenantID, req.RecipientID, req.EventType, req.DeliveryURL, payload, s.now().UTC())

	if err := s.store.Create(ctx, t); err != nil {
		tracing.SetSpanError(ctx, err)
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}

	metrics.RecordEnqueued(t.TenantID)
	s.logger.WithContext(ctx).
		WithTenant(t.TenantID).
		WithTask(t.ID).
		WithRecipient(t.RecipientID).
		WithEventType(t.EventType).
		Info("task enqueued")

	return t, nil
}
