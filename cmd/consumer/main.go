package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"worktrail/internal/audit/builder"
	auditconsumer "worktrail/internal/audit/consumer"
	auditmetrics "worktrail/internal/audit/metrics"
	postgresstore "worktrail/internal/audit/store/postgres"
	"worktrail/internal/event"
	"worktrail/internal/platform/config"
	"worktrail/internal/platform/httpserver"
	"worktrail/internal/platform/kafka/admin"
	platformconsumer "worktrail/internal/platform/kafka/consumer"
	"worktrail/internal/platform/kafka/producer"
	"worktrail/internal/platform/logger"
	"worktrail/internal/platform/postgres"
	"worktrail/internal/platform/redis"
	"worktrail/internal/platform/tracing"
	"worktrail/internal/snapshot"
	"worktrail/pkg/platform/circuit"
	platformstrings "worktrail/pkg/platform/strings"
)

// main assembles the pipeline worker: topic topology, snapshot store, record
// store, builder, and the consumer loop. Replicas of this binary share one
// consumer group wherever they run.
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
		log.Error("consumer exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if err := declareTopology(ctx, cfg.Kafka, log); err != nil {
		return err
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgresstore.EnsureSchema(ctx, db); err != nil {
		return err
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb == nil {
		return errors.New("redis is required: snapshot store has no fallback")
	}
	defer rdb.Close()

	breaker := circuit.New("snapshot-redis",
		circuit.WithFailureThreshold(cfg.Snapshot.BreakerThreshold),
		circuit.WithCooldown(cfg.Snapshot.BreakerCooldown),
	)
	snapshots := snapshot.NewRedisStore(rdb.Client,
		snapshot.WithLogger(log),
		snapshot.WithMetrics(snapshot.NewMetrics()),
		snapshot.WithBreaker(breaker),
	)

	prod, err := producer.New(cfg.Kafka.Brokers,
		producer.WithLogger(log),
		producer.WithClientID("worktrail-consumer"),
	)
	if err != nil {
		return err
	}
	defer prod.Close()

	metrics := auditmetrics.New()
	records := postgresstore.New(db)
	recordBuilder := builder.New(records, snapshots,
		builder.WithLogger(log),
		builder.WithMetrics(metrics),
	)
	pipeline := auditconsumer.New(recordBuilder, prod, cfg.Kafka.DeadLetterTopic,
		auditconsumer.WithLogger(log),
		auditconsumer.WithMetrics(metrics),
		auditconsumer.WithMaxRetries(cfg.Consumer.MaxRetries),
	)

	patterns := platformstrings.DedupeAndTrimLower(cfg.Consumer.Bindings)
	bindings, err := event.CompileBindings(patterns)
	if err != nil {
		return fmt.Errorf("compile bindings: %w", err)
	}
	regexes := make([]string, 0, len(bindings))
	for _, b := range bindings {
		regexes = append(regexes, b.TopicRegex(cfg.Kafka.TopicPrefix))
	}

	cons, err := platformconsumer.New(platformconsumer.Config{
		Brokers:        cfg.Kafka.Brokers,
		Group:          cfg.Consumer.Group,
		TopicRegexes:   regexes,
		ProcessTimeout: cfg.Consumer.ProcessTimeout,
	}, pipeline, platformconsumer.WithLogger(log))
	if err != nil {
		return err
	}
	defer cons.Close()

	opsSrv := httpserver.New(cfg.Consumer.OpsAddr, opsHandler(db, rdb))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "pipeline consuming",
			"group", cfg.Consumer.Group,
			"bindings", patterns,
			"max_retries", cfg.Consumer.MaxRetries,
		)
		if err := cons.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("pipeline consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return httpserver.Drain(gctx, opsSrv, cfg.Server.ShutdownTimeout)
	})

	return g.Wait()
}

// declareTopology creates the event topics and the dead-letter topic up
// front, so publishing never implies topology changes.
func declareTopology(ctx context.Context, cfg config.Kafka, log *slog.Logger) error {
	topics := make([]string, 0, len(cfg.DeclaredEvents)+1)
	for _, eventType := range platformstrings.DedupeAndTrimLower(cfg.DeclaredEvents) {
		topics = append(topics, event.Topic(cfg.TopicPrefix, event.NormalizeRoutingKey(eventType)))
	}
	topics = append(topics, cfg.DeadLetterTopic)

	return admin.EnsureTopics(ctx, log, cfg.Brokers, cfg.TopicPartitions, cfg.TopicReplicas, topics...)
}

func opsHandler(db *sql.DB, rdb *redis.Client) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "postgres: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Health(ctx); err != nil {
			http.Error(w, "redis: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
