package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillpost/quillpost/internal/config"
	"github.com/quillpost/quillpost/internal/db"
	"github.com/quillpost/quillpost/internal/delivery"
	"github.com/quillpost/quillpost/internal/domain"
	"github.com/quillpost/quillpost/internal/email"
	"github.com/quillpost/quillpost/internal/health"
	"github.com/quillpost/quillpost/internal/logging"
	"github.com/quillpost/quillpost/internal/metrics"
	"github.com/quillpost/quillpost/internal/queue"
	"github.com/quillpost/quillpost/internal/tracing"
)

// instanceID identifies this worker process in task claims so stale
// locks can be traced back to the process that took them.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize structured logging
	logger := logging.New("quillpost-worker")

	// Initialize OpenTelemetry tracing
	shutdown, err := tracing.InitTracing(ctx, "quillpost-worker")
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

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// HTTP health/metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler("quillpost-worker", pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	sender, err := domain.NewSubscriberEmail(cfg.Email.Sender)
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid EMAIL_SENDER address")
	}
	client := email.NewClient(cfg.Email.BaseURL, sender, cfg.Email.AuthToken, cfg.Email.SendTimeout)

	q := queue.New(pool)
	poolRunner := delivery.NewPool(cfg.Worker.PoolSize, instanceID(), q, client, delivery.Config{
		MaxAttempts:   cfg.Worker.MaxAttempts,
		BaseBackoff:   cfg.Worker.BaseBackoff,
		MaxBackoff:    cfg.Worker.MaxBackoff,
		JitterPercent: cfg.Worker.JitterPercent,
		IdlePoll:      cfg.Worker.IdlePoll,
	}, cfg.Worker.StaleClaimAfter, logger)

	logger.Plain().
		WithField("pool_size", cfg.Worker.PoolSize).
		WithField("max_attempts", cfg.Worker.MaxAttempts).
		Info("worker service started")

	// Graceful stop: cancel the pool context and let in-flight attempts
	// resolve before the process exits.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stop
		logger.Plain().Info("Shutting down worker service")
		cancel()
	}()

	poolRunner.Run(ctx)

	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}
