package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	return f.err
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name           string
		pinger         Pinger
		wantStatusCode int
		wantOK         bool
		wantDatabase   bool
	}{
		{
			name:           "nil pinger reports healthy",
			pinger:         nil,
			wantStatusCode: http.StatusOK,
			wantOK:         true,
			wantDatabase:   true,
		},
		{
			name:           "reachable database",
			pinger:         &fakePinger{},
			wantStatusCode: http.StatusOK,
			wantOK:         true,
			wantDatabase:   true,
		},
		{
			name:           "database ping failure",
			pinger:         &fakePinger{err: errors.New("connection refused")},
			wantStatusCode: http.StatusServiceUnavailable,
			wantOK:         false,
			wantDatabase:   false,
		},
		{
			name:           "database ping timeout",
			pinger:         &fakePinger{err: context.DeadlineExceeded},
			wantStatusCode: http.StatusServiceUnavailable,
			wantOK:         false,
			wantDatabase:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := HTTPHandler(tt.pinger)

			r := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()
			handler(w, r)

			if w.Code != tt.wantStatusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %s, want application/json", ct)
			}

			var st Status
			if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if st.OK != tt.wantOK {
				t.Errorf("ok = %v, want %v", st.OK, tt.wantOK)
			}
			if st.Database != tt.wantDatabase {
				t.Errorf("database = %v, want %v", st.Database, tt.wantDatabase)
			}
		})
	}
}
