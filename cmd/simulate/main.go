// Package main drives the audit caller contract end to end against live
// infrastructure: it writes snapshots, pretends to mutate a workforce entity,
// and publishes the resulting event. Each line on stdout is the event id of
// one published mutation; smoke runs and the e2e suite use those ids to await
// the corresponding audit records. Diagnostics go to stderr so the ids stay
// pipeable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"worktrail/internal/audit/publisher"
	"worktrail/internal/audit/recorder"
	"worktrail/internal/platform/config"
	"worktrail/internal/platform/kafka/producer"
	"worktrail/internal/platform/redis"
	"worktrail/internal/snapshot"
)

const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
)

var defaultEventTypes = map[string]string{
	opCreate: "employee.created",
	opUpdate: "employee.updated",
	opDelete: "employee.deleted",
}

func main() {
	var (
		op        string
		eventType string
		entityID  string
		count     int
	)
	flag.StringVar(&op, "op", opUpdate, "mutation to simulate: create, update or delete")
	flag.StringVar(&eventType, "event-type", "", "event type to publish (default derives from -op)")
	flag.StringVar(&entityID, "entity-id", "", "entity id to mutate (default random)")
	flag.IntVar(&count, "count", 1, "number of mutations to simulate")
	flag.Parse()

	fallback, ok := defaultEventTypes[op]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -op %q: want create, update or delete\n", op)
		os.Exit(2)
	}
	if eventType == "" {
		eventType = fallback
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := run(ctx, log, op, eventType, entityID, count); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, op, eventType, entityID string, count int) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb == nil {
		return fmt.Errorf("redis is required: set WORKTRAIL_REDIS_URL")
	}
	defer rdb.Close()

	prod, err := producer.New(cfg.Kafka.Brokers,
		producer.WithLogger(log),
		producer.WithClientID("worktrail-simulate"),
	)
	if err != nil {
		return err
	}
	defer prod.Close()

	snapshots := snapshot.NewRedisStore(rdb.Client, snapshot.WithLogger(log))
	pub := publisher.New(prod, cfg.Kafka.TopicPrefix, publisher.WithLogger(log))
	rec := recorder.New(snapshots, pub,
		recorder.WithTTL(cfg.Snapshot.TTL),
		recorder.WithLogger(log),
	)

	for i := 0; i < count; i++ {
		id := entityID
		if id == "" {
			id = uuid.NewString()[:8]
		}

		eventID, err := simulateOne(ctx, rec, op, eventType, id, i)
		if err != nil {
			return err
		}
		fmt.Println(eventID)
	}
	return nil
}

// employeeState is the scalar-only projection a workforce service would snapshot.
type employeeState struct {
	EmployeeId string
	Name       string
	Department string
	Position   string
	Salary     int
}

func simulateOne(ctx context.Context, rec *recorder.Recorder, op, eventType, entityID string, seq int) (string, error) {
	base := employeeState{
		EmployeeId: entityID,
		Name:       "Dana Smith",
		Department: "Engineering",
		Position:   "Engineer II",
		Salary:     90000 + seq*1000,
	}

	var before, after any
	switch op {
	case opCreate:
		after = base
	case opUpdate:
		before = base
		next := base
		next.Salary += 2500
		next.Position = "Engineer III"
		after = next
	case opDelete:
		before = base
	}

	m, err := rec.Begin(ctx, eventType, before)
	if err != nil {
		return "", err
	}

	payload := after
	if payload == nil {
		payload = before
	}

	eventID, err := m.Commit(ctx, after, payload)
	if err != nil {
		m.Abandon(ctx)
		return "", err
	}
	return eventID, nil
}
