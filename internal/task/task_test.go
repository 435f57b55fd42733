package task

import (
	"testing"
	"time"
)

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusDelivering, false},
		{StatusSucceeded, true},
		{StatusFailed, false},
		{StatusDead, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusDelivering, StatusSucceeded, StatusFailed, StatusDead} {
		if !s.Valid() {
			t.Errorf("Valid() = false for %s", s)
		}
	}
	if Status("banana").Valid() {
		t.Errorf("Valid() = true for unknown status")
	}
}

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tk := New("t1", "r1", "order.created", "https://example.com/hook", map[string]any{"k": "v"}, now)

	if tk.ID == "" {
		t.Error("New() did not assign an ID")
	}
	if tk.Status != StatusPending {
		t.Errorf("New() status = %s, want pending", tk.Status)
	}
	if tk.AttemptCount != 0 {
		t.Errorf("New() attempt count = %d, want 0", tk.AttemptCount)
	}
	if tk.NextAttemptAt == nil || !tk.NextAttemptAt.Equal(now) {
		t.Errorf("New() next attempt = %v, want %v", tk.NextAttemptAt, now)
	}
}

func TestEventID(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{
			name:    "present",
			payload: map[string]any{"event_id": "ev-1"},
			want:    "ev-1",
		},
		{
			name:    "missing",
			payload: map[string]any{"other": "x"},
			want:    "",
		},
		{
			name:    "nil payload",
			payload: nil,
			want:    "",
		},
		{
			name:    "wrong type",
			payload: map[string]any{"event_id": 42},
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := Task{Payload: tt.payload}
			if got := tk.EventID(); got != tt.want {
				t.Errorf("EventID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClone(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)

	src := New("t1", "r1", "order.created", "https://example.com/hook", map[string]any{"event_id": "ev-1", "n": 1}, now)
	src.Status = StatusDead
	src.AttemptCount = 10

	clone := src.Clone(later)

	if clone.ID == src.ID {
		t.Error("Clone() reused source task ID")
	}
	if clone.EventID() != "ev-1" {
		t.Errorf("Clone() event id = %q, want ev-1", clone.EventID())
	}
	if clone.Status != StatusPending {
		t.Errorf("Clone() status = %s, want pending", clone.Status)
	}
	if clone.AttemptCount != 0 {
		t.Errorf("Clone() attempt count = %d, want 0", clone.AttemptCount)
	}
	if clone.RedeliveredFrom == nil || *clone.RedeliveredFrom != src.ID {
		t.Errorf("Clone() redelivered_from = %v, want %s", clone.RedeliveredFrom, src.ID)
	}
	if src.Status != StatusDead || src.AttemptCount != 10 {
		t.Error("Clone() modified the source task")
	}

	// Payload must be an independent copy
	clone.Payload["n"] = 2
	if src.Payload["n"] != 1 {
		t.Error("Clone() shares payload map with source")
	}
}

func TestMarkSucceeded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tk := New("t1", "r1", "order.created", "https://example.com/hook", nil, now)
	le := "previous failure"
	tk.LastError = &le
	tk.AttemptCount = 2

	tk.MarkSucceeded(200, now)

	if tk.Status != StatusSucceeded {
		t.Errorf("status = %s, want succeeded", tk.Status)
	}
	if tk.NextAttemptAt != nil {
		t.Error("terminal task kept a next attempt time")
	}
	if tk.LastError != nil {
		t.Error("succeeded task kept a last error")
	}
	if tk.ResponseCode == nil || *tk.ResponseCode != 200 {
		t.Errorf("response code = %v, want 200", tk.ResponseCode)
	}
	if tk.AttemptCount != 2 {
		t.Errorf("attempt count = %d, success must not increment", tk.AttemptCount)
	}
}

func TestMarkFailed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(30 * time.Second)
	code := 500

	tk := New("t1", "r1", "order.created", "https://example.com/hook", nil, now)
	tk.MarkFailed("http status 500", &code, next, now)

	if tk.Status != StatusFailed {
		t.Errorf("status = %s, want failed", tk.Status)
	}
	if tk.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", tk.AttemptCount)
	}
	if tk.NextAttemptAt == nil || !tk.NextAttemptAt.Equal(next) {
		t.Errorf("next attempt = %v, want %v", tk.NextAttemptAt, next)
	}
	if tk.LastError == nil || *tk.LastError != "http status 500" {
		t.Errorf("last error = %v, want http status 500", tk.LastError)
	}
}

func TestMarkDead(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		countAttempt bool
		startCount   int
		wantCount    int
	}{
		{
			name:         "exhausted attempts consume one",
			countAttempt: true,
			startCount:   9,
			wantCount:    10,
		},
		{
			name:         "configuration problems consume none",
			countAttempt: false,
			startCount:   0,
			wantCount:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := New("t1", "r1", "order.created", "https://example.com/hook", nil, now)
			tk.AttemptCount = tt.startCount

			tk.MarkDead("some reason", nil, tt.countAttempt, now)

			if tk.Status != StatusDead {
				t.Errorf("status = %s, want dead", tk.Status)
			}
			if tk.NextAttemptAt != nil {
				t.Error("terminal task kept a next attempt time")
			}
			if tk.AttemptCount != tt.wantCount {
				t.Errorf("attempt count = %d, want %d", tk.AttemptCount, tt.wantCount)
			}
		})
	}
}

func TestWebhookConfigUsable(t *testing.T) {
	tests := []struct {
		name string
		cfg  WebhookConfig
		want bool
	}{
		{
			name: "fully configured",
			cfg:  WebhookConfig{Enabled: true, URL: "https://example.com", Secret: "s"},
			want: true,
		},
		{
			name: "disabled",
			cfg:  WebhookConfig{Enabled: false, URL: "https://example.com", Secret: "s"},
			want: false,
		},
		{
			name: "missing URL",
			cfg:  WebhookConfig{Enabled: true, Secret: "s"},
			want: false,
		},
		{
			name: "missing secret",
			cfg:  WebhookConfig{Enabled: true, URL: "https://example.com"},
			want: false,
		},
		{
			name: "zero value",
			cfg:  WebhookConfig{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Usable(); got != tt.want {
				t.Errorf("Usable() = %v, want %v", got, tt.want)
			}
		})
	}
}
