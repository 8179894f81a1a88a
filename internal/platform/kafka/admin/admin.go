// Package admin declares topic topology ahead of produce/consume traffic.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// EnsureTopics creates the given topics if they do not already exist.
// Idempotent: an existing topic is success, whatever its current
// partition count.
func EnsureTopics(ctx context.Context, logger *slog.Logger, brokers []string, partitions int32, replicas int16, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)

	resp, err := adm.CreateTopics(ctx, partitions, replicas, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}

	for _, res := range resp.Sorted() {
		if res.Err == nil {
			logger.InfoContext(ctx, "created topic", "topic", res.Topic)
			continue
		}
		if errors.Is(res.Err, kerr.TopicAlreadyExists) {
			logger.DebugContext(ctx, "topic already exists", "topic", res.Topic)
			continue
		}
		return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
	}

	return nil
}
