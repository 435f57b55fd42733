package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avandyck/drifthook/internal/config"
	"github.com/avandyck/drifthook/internal/db"
	"github.com/avandyck/drifthook/internal/dispatch"
	"github.com/avandyck/drifthook/internal/health"
	"github.com/avandyck/drifthook/internal/logging"
	"github.com/avandyck/drifthook/internal/metrics"
	"github.com/avandyck/drifthook/internal/store"
	"github.com/avandyck/drifthook/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("drifthook-dispatcher")

	shutdown, err := tracing.InitTracing(ctx, "drifthook-dispatcher")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	// DB connect
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	if cfg.Dispatch.MigrateOnStart {
		if err := db.Migrate(ctx, cfg.DSN()); err != nil {
			logger.Plain().WithError(err).Fatal("migrations failed")
		}
	}

	tasks := store.NewTaskStore(pool)
	recipients := store.NewRecipientStore(pool)
	httpClient := &http.Client{Timeout: cfg.Dispatch.HTTPTimeout}

	dispatcher := dispatch.New(tasks, recipients, httpClient, logger, cfg.Dispatch)

	// Health and metrics sidecar endpoint
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{Addr: cfg.Dispatch.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", cfg.Dispatch.HTTPPort).Info("dispatcher HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("http serve failed")
		}
	}()

	go dispatcher.Run(ctx)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	cancel()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("dispatcher stopped")
}
