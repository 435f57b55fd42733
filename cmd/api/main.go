package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avandyck/drifthook/internal/admin"
	"github.com/avandyck/drifthook/internal/auth"
	"github.com/avandyck/drifthook/internal/config"
	"github.com/avandyck/drifthook/internal/db"
	"github.com/avandyck/drifthook/internal/enqueue"
	"github.com/avandyck/drifthook/internal/health"
	"github.com/avandyck/drifthook/internal/logging"
	"github.com/avandyck/drifthook/internal/metrics"
	"github.com/avandyck/drifthook/internal/store"
	"github.com/avandyck/drifthook/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("drifthook-api")

	shutdown, err := tracing.InitTracing(ctx, "drifthook-api")
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

	// Admin tokens are RS256; the public key comes from the token issuer.
	keyPEM, err := os.ReadFile(cfg.Admin.JWTPublicKeyFile)
	if err != nil {
		logger.Plain().WithError(err).Fatal("read jwt public key failed")
	}
	validator, err := auth.NewJWTValidator(string(keyPEM), cfg.Admin.JWTIssuer, cfg.Admin.JWTAudience)
	if err != nil {
		logger.Plain().WithError(err).Fatal("jwt validator init failed")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	tasks := store.NewTaskStore(pool)
	enq := enqueue.NewService(tasks, logger)
	handlers := admin.NewHandlers(tasks, enq, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(validator.Middleware)
	handlers.Routes(r)
	r.Get("/healthz", health.HTTPHandler(pool))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: r}
	go func() {
		logger.Plain().WithField("addr", cfg.HTTPPort).Info("api listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("http serve failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("api stopped")
}
