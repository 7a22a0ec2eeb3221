package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillpost/quillpost/internal/api"
	"github.com/quillpost/quillpost/internal/auth"
	"github.com/quillpost/quillpost/internal/config"
	"github.com/quillpost/quillpost/internal/db"
	"github.com/quillpost/quillpost/internal/health"
	"github.com/quillpost/quillpost/internal/idempotency"
	"github.com/quillpost/quillpost/internal/logging"
	"github.com/quillpost/quillpost/internal/metrics"
	"github.com/quillpost/quillpost/internal/publish"
	"github.com/quillpost/quillpost/internal/queue"
	"github.com/quillpost/quillpost/internal/subscribers"
	"github.com/quillpost/quillpost/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	// Initialize structured logging
	logger := logging.New("quillpost-api")

	// Initialize OpenTelemetry tracing
	shutdown, err := tracing.InitTracing(ctx, "quillpost-api")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	// DB connect + schema
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Plain().WithError(err).Fatal("db migrate failed")
	}

	// Admin auth. Without a configured key the admin routes stay open,
	// which is only acceptable for local development.
	var adminMW api.Middleware
	if cfg.API.JWTPublicKey != "" {
		validator, err := auth.NewJWTValidator(cfg.API.JWTPublicKey, cfg.API.JWTIssuer, cfg.API.JWTAudience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("invalid JWT_PUBLIC_KEY")
		}
		adminMW = validator.Middleware
	} else {
		logger.Plain().Warn("JWT_PUBLIC_KEY not set, admin routes are unauthenticated")
	}

	coordinator := publish.NewCoordinator(
		db.NewTxRunner(pool),
		idempotency.NewStore(),
		publish.NewIssueStore(),
		queue.New(pool),
		logger,
	)

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler("quillpost-api", pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	api.NewServer(coordinator, subscribers.NewStore(pool), queue.New(pool), adminMW, logger).Routes(mux)

	httpSrv := &http.Server{
		Addr:              cfg.API.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("api HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("api HTTP server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down api service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("api service stopped")
}
