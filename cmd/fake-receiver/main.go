// fake-receiver is a local webhook endpoint for exercising the delivery
// pipeline. It verifies the canonical signature scheme and can simulate
// flaky or slow receivers via env vars.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/avandyck/drifthook/internal/config"
	"github.com/avandyck/drifthook/internal/signing"
)

var (
	cfg      config.FakeReceiver
	reqCount atomic.Int64
)

func main() {
	cfg = config.FromEnv().FakeReceiver

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	log.Printf("fake-receiver listening on %s", cfg.Port)
	log.Fatal(srv.ListenAndServe())
}

func handleHook(w http.ResponseWriter, r *http.Request) {
	n := reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if cfg.WebhookSecret != "" {
		if ok, msg := verifyRequest(r, b); !ok {
			log.Printf("fake-receiver failed to verify signature: %s", msg)
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	if cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(cfg.ResponseDelayMS) * time.Millisecond)
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(cfg.FailFirstN) {
		log.Printf("FAILING (%d/%d) %s headers=%d body=%s", n, cfg.FailFirstN, r.URL.Path, len(r.Header), truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK %s  headers=%d body=%q", r.URL.Path, len(r.Header), truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func verifyRequest(r *http.Request, body []byte) (bool, string) {
	ts := r.Header.Get(signing.HeaderTimestamp)
	nonce := r.Header.Get(signing.HeaderNonce)
	sig := r.Header.Get(signing.HeaderSignature)
	if ts == "" || nonce == "" || sig == "" {
		return false, "missing headers"
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	// reject if timestamp is too old/new
	now := time.Now().Unix()
	if abs64(now-unix) > int64(cfg.SigningLeewaySeconds) {
		return false, "timestamp too far from now (outside leeway)"
	}

	canonical := signing.CanonicalString(r.Method, r.URL.Path, unix, nonce, signing.BodyHash(body))
	if !signing.Verify(cfg.WebhookSecret, canonical, sig) {
		return false, "sig mismatch"
	}
	return true, ""
}

// abs64 returns the absolute value of an int64
func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
