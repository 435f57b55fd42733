// Package admin exposes the operator-facing HTTP API: enqueueing events and
// inspecting or steering delivery tasks. Every route is tenant-scoped through
// the JWT middleware; a task belonging to another tenant reads as not found.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avandyck/drifthook/internal/auth"
	"github.com/avandyck/drifthook/internal/enqueue"
	"github.com/avandyck/drifthook/internal/logging"
	"github.com/avandyck/drifthook/internal/store"
	"github.com/avandyck/drifthook/internal/task"
	"github.com/avandyck/drifthook/internal/tracing"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultStatsDays = 7
	maxStatsDays     = 90

	operatorDeadReason = "Marked dead by operator"
)

// TaskStore is the slice of the store the admin API needs.
type TaskStore interface {
	GetByID(ctx context.Context, id string) (task.Task, error)
	Update(ctx context.Context, t task.Task) error
	Create(ctx context.Context, t task.Task) error
	ListByTenant(ctx context.Context, tenantID string, statuses []task.Status, limit int) ([]task.Task, error)
	CountByStatus(ctx context.Context, tenantID string) (map[task.Status]int, error)
	CountByStatusPerDay(ctx context.Context, tenantID string, since time.Time) ([]store.DayCount, error)
}

// Enqueuer records a new delivery task for an event.
type Enqueuer interface {
	Enqueue(ctx context.Context, req enqueue.Request) (task.Task, error)
}

type Handlers struct {
	store    TaskStore
	enqueuer Enqueuer
	logger   *logging.Logger
	now      func() time.Time
}

func NewHandlers(st TaskStore, enq Enqueuer, logger *logging.Logger) *Handlers {
	return &Handlers{
		store:    st,
		enqueuer: enq,
		logger:   logger,
		now:      time.Now,
	}
}

// Routes mounts all admin endpoints on r. The JWT middleware must already be
// installed on the router.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/v1/ping", h.Ping)
	r.Post("/v1/events", h.EnqueueEvent)
	r.Get("/v1/tasks", h.ListTasks)
	r.Get("/v1/tasks/{id}", h.GetTask)
	r.Post("/v1/tasks/{id}/retry", h.RetryTask)
	r.Post("/v1/tasks/{id}/mark-dead", h.MarkDeadTask)
	r.Post("/v1/tasks/{id}/redeliver", h.RedeliverTask)
	r.Get("/v1/stats", h.Stats)
}

func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// EnqueueEvent accepts a platform event and records a pending delivery task
// for it. The tenant comes from the token, never from the body.
func (h *Handlers) EnqueueEvent(w http.ResponseWriter, r *http.Request) {
	ctx := tracing.ExtractHTTPHeaders(r.Context(), r.Header)
	tenantID, ok := auth.GetTenantIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing tenant")
		return
	}

	var req enqueue.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.TenantID = tenantID

	t, err := h.enqueuer.Enqueue(ctx, req)
	if err != nil {
		if isValidationErr(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithContext(ctx).WithTenant(tenantID).WithError(err).Error("enqueue failed")
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

// ListTasks returns the tenant's tasks, newest first. Supports
// ?status=failed,dead and ?limit=N.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := auth.GetTenantIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing tenant")
		return
	}

	var statuses []task.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := task.Status(strings.TrimSpace(s))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s))
				return
			}
			statuses = append(statuses, st)
		}
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	tasks, err := h.store.ListByTenant(ctx, tenantID, statuses, limit)
	if err != nil {
		h.logger.WithContext(ctx).WithTenant(tenantID).WithError(err).Error("list tasks failed")
		writeError(w, http.StatusInternalServerError, "list tasks failed")
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tenantTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// RetryTask forces a task to failed and due immediately, whatever its current
// state, succeeded and dead included. Attempt history is kept, so the delivery
// attempt ceiling still applies.
func (h *Handlers) RetryTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, ok := h.tenantTask(w, r)
	if !ok {
		return
	}

	now := h.now().UTC()
	t.Status = task.StatusFailed
	t.NextAttemptAt = &now
	t.UpdatedAt = now

	if err := h.store.Update(ctx, t); err != nil {
		h.logger.WithContext(ctx).WithTask(t.ID).WithError(err).Error("retry update failed")
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}

	h.logger.WithContext(ctx).WithTenant(t.TenantID).WithTask(t.ID).Info("task retry forced")
	writeJSON(w, http.StatusOK, t)
}

// MarkDeadTask forces a task into the terminal dead state without consuming
// an attempt. Irreversible through this operation alone; only retry or
// redeliver produces a live task again.
func (h *Handlers) MarkDeadTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, ok := h.tenantTask(w, r)
	if !ok {
		return
	}

	t.MarkDead(operatorDeadReason, t.ResponseCode, false, h.now().UTC())

	if err := h.store.Update(ctx, t); err != nil {
		h.logger.WithContext(ctx).WithTask(t.ID).WithError(err).Error("mark-dead update failed")
		writeError(w, http.StatusInternalServerError, "mark-dead failed")
		return
	}

	h.logger.WithContext(ctx).WithTenant(t.TenantID).WithTask(t.ID).Info("task marked dead")
	writeJSON(w, http.StatusOK, t)
}

// RedeliverTask creates a fresh pending task carrying the same event identity
// as the source, with attempt history reset. The source task is untouched, so
// the audit trail of the original attempts survives.
func (h *Handlers) RedeliverTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, ok := h.tenantTask(w, r)
	if !ok {
		return
	}

	clone := t.Clone(h.now().UTC())

	if err := h.store.Create(ctx, clone); err != nil {
		h.logger.WithContext(ctx).WithTask(t.ID).WithError(err).Error("redeliver create failed")
		writeError(w, http.StatusInternalServerError, "redeliver failed")
		return
	}

	h.logger.WithContext(ctx).
		WithTenant(t.TenantID).
		WithTask(clone.ID).
		WithField("redelivered_from", t.ID).
		Info("task redelivered")
	writeJSON(w, http.StatusCreated, clone)
}

// Stats returns per-status totals plus per-day buckets for the last ?days=N
// days (default 7).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := auth.GetTenantIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing tenant")
		return
	}

	days := defaultStatsDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		if n > maxStatsDays {
			n = maxStatsDays
		}
		days = n
	}

	totals, err := h.store.CountByStatus(ctx, tenantID)
	if err != nil {
		h.logger.WithContext(ctx).WithTenant(tenantID).WithError(err).Error("stats totals failed")
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	since := h.now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -(days - 1))
	buckets, err := h.store.CountByStatusPerDay(ctx, tenantID, since)
	if err != nil {
		h.logger.WithContext(ctx).WithTenant(tenantID).WithError(err).Error("stats buckets failed")
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	if buckets == nil {
		buckets = []store.DayCount{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"totals":    totals,
		"days":      buckets,
	})
}

// tenantTask loads the task in the URL and enforces tenant scoping. Tasks of
// other tenants are indistinguishable from missing ones.
func (h *Handlers) tenantTask(w http.ResponseWriter, r *http.Request) (task.Task, bool) {
	ctx := r.Context()
	tenantID, ok := auth.GetTenantIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing tenant")
		return task.Task{}, false
	}

	id := chi.URLParam(r, "id")
	t, err := h.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return task.Task{}, false
		}
		h.logger.WithContext(ctx).WithTask(id).WithError(err).Error("load task failed")
		writeError(w, http.StatusInternalServerError, "load task failed")
		return task.Task{}, false
	}
	if t.TenantID != tenantID {
		writeError(w, http.StatusNotFound, "task not found")
		return task.Task{}, false
	}
	return t, true
}

func isValidationErr(err error) bool {
	return strings.HasSuffix(err.Error(), "is required")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
