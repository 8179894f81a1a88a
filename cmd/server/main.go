package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"worktrail/internal/audit/handler"
	auditmetrics "worktrail/internal/audit/metrics"
	postgresstore "worktrail/internal/audit/store/postgres"
	httpapi "worktrail/internal/http"
	"worktrail/internal/platform/config"
	"worktrail/internal/platform/httpserver"
	"worktrail/internal/platform/logger"
	"worktrail/internal/platform/postgres"
	"worktrail/internal/platform/redis"
	"worktrail/internal/platform/tracing"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgresstore.EnsureSchema(ctx, db); err != nil {
		return err
	}

	checks := map[string]httpapi.HealthCheck{
		"postgres": db.PingContext,
	}
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = rdb.Health
	}

	records := postgresstore.New(db)
	metrics := auditmetrics.New()
	auditHandler := handler.New(records, log, metrics)

	router := httpapi.NewRouter(auditHandler, httpapi.Options{
		Logger: log,
		Checks: checks,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return httpserver.Drain(gctx, srv, cfg.Server.ShutdownTimeout)
	})

	return g.Wait()
}
