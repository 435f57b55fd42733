package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/avandyck/drifthook/internal/config"
	"github.com/avandyck/drifthook/internal/logging"
	"github.com/avandyck/drifthook/internal/task"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDispatchCfg() config.Dispatch {
	return config.Dispatch{
		TickInterval: 5 * time.Second,
		BatchSize:    50,
		RecipientCap: 3,
		MaxAttempts:  10,
		BackoffSchedule: []time.Duration{
			0,
			30 * time.Second,
			2 * time.Minute,
			10 * time.Minute,
			time.Hour,
			6 * time.Hour,
		},
		HTTPTimeout: 15 * time.Second,
	}
}

type fakeStore struct {
	due        []task.Task
	dueErr     error
	claimDeny  map[string]bool
	claimCalls []string
	updated    []task.Task
	updateErr  error
}

func (f *fakeStore) Due(ctx context.Context, now time.Time, limit int) ([]task.Task, error) {
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	f.claimCalls = append(f.claimCalls, id)
	if f.claimDeny[id] {
		return false, nil
	}
	return true, nil
}

func (f *fakeStore) Update(ctx context.Context, t task.Task) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, t)
	return nil
}

func (f *fakeStore) lastUpdate(t *testing.T) task.Task {
	t.Helper()
	if len(f.updated) == 0 {
		t.Fatal("no task updates recorded")
	}
	return f.updated[len(f.updated)-1]
}

type fakeConfigs struct {
	configs map[string]task.WebhookConfig
	err     error
}

func (f *fakeConfigs) GetWebhookConfig(ctx context.Context, recipientID string) (task.WebhookConfig, error) {
	if f.err != nil {
		return task.WebhookConfig{}, f.err
	}
	return f.configs[recipientID], nil
}

type fakeClient struct {
	status   int
	err      error
	requests []*http.Request
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader("ok")),
	}, nil
}

func usableConfig() task.WebhookConfig {
	return task.WebhookConfig{
		Enabled:    true,
		URL:        "https://receiver.example.com/hook",
		Secret:     "shh-secret",
		SigVersion: "v1",
	}
}

func newTestDispatcher(st *fakeStore, cs *fakeConfigs, cl *fakeClient) *Dispatcher {
	d := New(st, cs, cl, logging.New("test"), testDispatchCfg())
	d.now = func() time.Time { return testNow }
	return d
}

func dueTask(id, recipient string, attempts int) task.Task {
	due := testNow.Add(-time.Minute)
	st := task.StatusPending
	if attempts > 0 {
		st = task.StatusFailed
	}
	return task.Task{
		ID:            id,
		TenantID:      "tenant-1",
		RecipientID:   recipient,
		EventType:     "order.created",
		DeliveryURL:   "https://receiver.example.com/hook",
		Payload:       map[string]any{"event_id": "ev-" + id},
		Status:        st,
		AttemptCount:  attempts,
		NextAttemptAt: &due,
		CreatedAt:     testNow.Add(-time.Hour),
		UpdatedAt:     testNow.Add(-time.Minute),
	}
}

func TestTickSuccessfulDelivery(t *testing.T) {
	st := &fakeStore{due: []task.Task{dueTask("t1", "r1", 0)}}
	cs := &fakeConfigs{configs: map[string]task.WebhookConfig{"r1": usableConfig()}}
	cl := &fakeClient{status: 200}

	d := newTestDispatcher(st, cs, cl)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got := st.lastUpdate(t)
	if got.Status != task.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if got.ResponseCode == nil || *got.ResponseCode != 200 {
		t.Errorf("response code = %v, want 200", got.ResponseCode)
	}
	if got.NextAttemptAt != nil {
		t.Error("succeeded task kept a next attempt time")
	}
	if got.AttemptCount != 0 {
		t.Errorf("attempt count = %d, success must not increment", got.AttemptCount)
	}
	if len(cl.requests) != 1 {
		t.Fatalf("expected 1 delivery request, got %d", len(cl.requests))
	}
}

func TestTickSignsRequests(t *testing.T) {
	st := &fakeStore{due: []task.Task{dueTask("t1", "r1", 0)}}
	cs := &fakeConfigs{configs: map[string]task.WebhookConfig{"r1": usableConfig()}}
	cl := &fakeClient{status: 200}

	d := newTestDispatcher(st, cs, cl)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	req := cl.requests[0]
	for _, h := range []string{
		"X-Webhook-Signature-Version",
		"X-Webhook-Timestamp",
		"X-Webhook-Nonce",
		"X-Webhook-Signature",
	} {
		if req.Header.Get(h) == "" {
			t.Errorf("missing header %s", h)
		}
	}
	if v := req.Header.Get("X-Webhook-Signature-Version"); v != "v1" {
		t.Errorf("signature version = %s, want v1", v)
	}
	if ts := req.Header.Get("X-Webhook-Timestamp"); ts != fmt.Sprintf("%d", testNow.Unix()) {
		t.Errorf("timestamp = %s, want %d", ts, testNow.Unix())
	}
	if len(req.Header.Get("X-Webhook-Signature")) != 64 {
		t.Errorf("signature is not 64 hex chars")
	}
}

func TestTickFailureSchedulesRetry(t *testing.T) {
	st := &fakeStore{due: []task.Task{dueTask("t1", "r1", 2)}}
	cs := &fakeConfigs{configs: map[string]task.WebhookConfig{"r1": usableConfig()}}
	cl := &fakeClient{status: 500}

	d := newTestDispatcher(st, cs, cl)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got := st.lastUpdate(t)
	if got.Status != task.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.AttemptCount != 3 {
		t.Errorf("attempt count = %d, want 3", got.AttemptCount)
	}
	if got.LastError == nil || *got.LastError != "http status 500" {
		t.Errorf("last error = %v, want http status 500", got.LastError)
	}
	// Third failure schedules at backoff index 3 (10 minutes)
	wantNext := testNow.Add(10 * time.Minute)
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(wantNext) {
		t.Errorf("next attempt = %v, want %v", got.NextAttemptAt, wantNext)
	}
}

func TestTickNetworkErrorSchedulesRetry(t *testing.T) {
	st := &fakeStore{due: []task.Task{dueTask("t1", "r1", 0)}}
	cs := &fakeConfigs{configs: map[string]task.WebhookConfig{"r1": usableConfig()}}
	cl := &fakeClient{err: errors.New("dial tcp: connection refused")}

	d := newTestDispatcher(st, cs, cl)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got := st.lastUpdate(t)
	if got.Status != task.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", got.AttemptCount)
	}
	if got.ResponseCode != nil {
		t.Errorf("response code = %v, want nil for network error", got.ResponseCode)
	}
	wantNext := testNow.Add(30 * time.Second)
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(wantNext) {
		t.Errorf("next attempt = %v, want %v", got.NextAttemptAt, wantNext)
	}
}

func TestTickExhaustedAttemptsDeadLetters(t *testing.T) {
	st := &fakeStore{due: []task.Task{dueTask("t1", "r1", 9)}}
	cs := &fakeConfigs{configs: map[string]task.WebhookConfig{"r1": usableConfig()}}
	cl := &fakeClient{status: 503}

	d := newTestDispatcher(st, cs, cl)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	got := st.lastUpdate(t)
	if got.Status != task.StatusDead {
		t.Errorf("status = %s, want dead", got.Status)
	}
	if got.AttemptCount != 10 {
		t.Errorf("attempt count = %d, want 10", got.AttemptCount)
	}
	if got.NextAttemptAt != nil {
		t.Error("dead task kept a next attempt time")
	}
}

func TestTickConfigMissingDeadLetters(t *testing.T) {
	tests := []struct {
		name string
		cfg  task.WebhookConfig
	}{
		{
			name: "unknown recipient",
			cfg:  task.WebhookConfig{},
		},
		{
			name: "webhooks disabled",
			cfg:  task.WebhookConfig{Enabled: false, URL: "https://x", Secret: "s"},
		},
		{
			name: "no secret",
			cfg:  task.WebhookConfig{Enabled: true, URL: "https://x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{due: []task.Task{dueTask("t1", "r1", 0)}}
			cs := &fakeConfigs{configs: map[string]task.WebhookConfig{"r1": tt.cfg}}
			cl := &fakeClient{status: 200}

			d := newTestDispatcher(st, cs, cl)
			if err := d.Tick(context.Background()); err != nil {
				t.Fatalf("Tick() error = %v", err)
			}

			got := st.lastUpdate(t)
			if got.Status != task.StatusDead {
				t.Errorf("status = %s, want dead", got.Status)
			}
			if got.AttemptCount != 0 {
				t.Errorf("attempt count = %d, config problems must not consume attempts", got.AttemptCount)
			}
			if got.LastError == nil || *got.LastError != "Configuration missing" {
				t.Errorf("last error = %v, want Configuration missing", got.LastError)
			}
			if len(cl.requests) != 0 {
				t.Errorf("no HTTP request should be made, got %d", len(cl.requests))
			}
		})
	}
}

func TestTickClaimLostSkipsTask(t *testing.T) {
	st := &fakeStore{
		due:       []task.Task{dueTask("t1", "r1", 0)},
		claimDeny: map[string]bool{"t1": true},
	}
	cs := &fakeConfigs{configs: map[string]task.WebhookConfig{"r1": usableConfig()}}
	cl := &fakeClient{status: 200}

	d := newTestDispatcher(st, cs, cl)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(cl.requests) != 0 {
		t.Errorf("lost claim must not deliver, got %d requests", len(cl.requests))
	}
	if len(st.updated) != 0 {
		t.Errorf("lost claim must not update, got %d updates", len(st.updated))
	}
}

func TestTickPerRecipientCap(t *testing.T) {
	st := &fakeStore{due: []task.Task{
		dueTask("t1", "r1", 0),
		dueTask("t2", "r1", 0),
		dueTask("t3", "r1", 0),
		dueTask("t4", "r1", 0),
		dueTask("t5", "r1", 0),
		dueTask("t6", "r2", 0),
	}}
	cs := &fakeConfigs{configs: map[string]task.WebhookConfig{
		"r1": usableConfig(),
		"r2": usableConfig(),
	}}
	cl := &fakeClient{status: 200}

	d := newTestDispatcher(st, cs, cl)
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	// Cap is 3 per recipient per tick; r2 is unaffected by r1's backlog.
	if len(cl.requests) != 4 {
		t.Errorf("expected 4 delivery requests (3 for r1, 1 for r2), got %d", len(cl.requests))
	}
	wantClaims := []string{"t1", "t2", "t3", "t6"}
	if len(st.claimCalls) != len(wantClaims) {
		t.Fatalf("claims = %v, want %v", st.claimCalls, wantClaims)
	}
	for i, id := range wantClaims {
		if st.claimCalls[i] != id {
			t.Errorf("claim[%d] = %s, want %s", i, st.claimCalls[i], id)
		}
	}
}

func TestTickDueError(t *testing.T) {
	st := &fakeStore{dueErr: errors.New("db down")}
	d := newTestDispatcher(st, &fakeConfigs{}, &fakeClient{})

	if err := d.Tick(context.Background()); err == nil {
		t.Fatal("Tick() expected error when due query fails")
	}
}

func TestProcessConfigLookupErrorReleasesClaim(t *testing.T) {
	st := &fakeStore{due: []task.Task{dueTask("t1", "r1", 2)}}
	cs := &fakeConfigs{err: errors.New("recipients table unavailable")}
	cl := &fakeClient{status: 200}

	d := newTestDispatcher(st, cs, cl)
	_ = d.Tick(context.Background())

	got := st.lastUpdate(t)
	if got.Status != task.StatusPending {
		t.Errorf("status = %s, want pending (claim released)", got.Status)
	}
	if got.AttemptCount != 2 {
		t.Errorf("attempt count = %d, lookup failures must not consume attempts", got.AttemptCount)
	}
	if got.NextAttemptAt == nil {
		t.Error("released task needs a next attempt time to be picked up again")
	}
	if len(cl.requests) != 0 {
		t.Errorf("no HTTP request should be made, got %d", len(cl.requests))
	}
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		secret string
		want   string
	}{
		{
			name:   "secret scrubbed",
			msg:    `post failed: auth "shh-secret" rejected`,
			secret: "shh-secret",
			want:   `post failed: auth "[redacted]" rejected`,
		},
		{
			name:   "no secret present",
			msg:    "connection refused",
			secret: "shh-secret",
			want:   "connection refused",
		},
		{
			name:   "empty secret leaves message alone",
			msg:    "connection refused",
			secret: "",
			want:   "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeError(tt.msg, tt.secret); got != tt.want {
				t.Errorf("sanitizeError() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("long message truncated", func(t *testing.T) {
		long := strings.Repeat("x", 2000)
		got := sanitizeError(long, "")
		if len(got) != maxErrorLen {
			t.Errorf("len = %d, want %d", len(got), maxErrorLen)
		}
	})
}

func TestBackoffDelay(t *testing.T) {
	schedule := testDispatchCfg().BackoffSchedule

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, 2 * time.Minute},
		{3, 10 * time.Minute},
		{4, time.Hour},
		{5, 6 * time.Hour},
		{6, 6 * time.Hour},
		{99, 6 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := backoffDelay(tt.attempt, schedule); got != tt.want {
				t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}

	t.Run("empty schedule", func(t *testing.T) {
		if got := backoffDelay(3, nil); got != 0 {
			t.Errorf("backoffDelay with empty schedule = %v, want 0", got)
		}
	})
}

func TestClassifyReason(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   string
	}{
		{
			name: "timeout",
			err:  errors.New("context deadline exceeded (Client.Timeout exceeded)"),
			want: "timeout",
		},
		{
			name: "connection refused",
			err:  errors.New("dial tcp 127.0.0.1:9999: connection refused"),
			want: "connection_refused",
		},
		{
			name: "dns",
			err:  errors.New("dial tcp: lookup nohost.example: no such host"),
			want: "dns_error",
		},
		{
			name: "other network",
			err:  errors.New("EOF"),
			want: "network",
		},
		{
			name:   "server error",
			status: 503,
			want:   "http_5xx",
		},
		{
			name:   "rate limited",
			status: 429,
			want:   "http_429",
		},
		{
			name:   "client error",
			status: 404,
			want:   "http_4xx",
		},
		{
			name:   "unexpected success classified as other",
			status: 200,
			want:   "other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyReason(tt.err, tt.status); got != tt.want {
				t.Errorf("classifyReason() = %s, want %s", got, tt.want)
			}
		})
	}
}
