//go:build integration

package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/cmd/internal/testutil"
	"github.com/velmie/pipeline-outbox/postgres"
)

func TestCLIMigrateAndCleanupPostgres(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t, ctx, ".")

	code, logs := h.Run(t, ctx, "migrate")
	if code != 0 {
		t.Fatalf("migrate exit code %d logs: %s", code, logs)
	}

	store, err := postgres.NewStore(h.DB)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour).UTC()
	oldPublisher := outbox.NewPublisher(store, outbox.PublisherConfig{Clock: outbox.FixedClock(old)})
	for i := 0; i < 2; i++ {
		id, err := oldPublisher.Publish(ctx, h.DB, "article.job.completed", json.RawMessage(`{"job_id":"j1"}`))
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if _, err := store.Claim(ctx, id, old); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := store.Complete(ctx, id, old); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	if _, err := outbox.NewPublisher(store, outbox.PublisherConfig{}).
		Publish(ctx, h.DB, "article.job.created", json.RawMessage(`{"job_id":"j2"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	code, logs = h.Run(t, ctx, "cleanup", "--retention", "24h")
	if code != 0 {
		t.Fatalf("cleanup exit code %d logs: %s", code, logs)
	}

	stats, err := store.Stats(ctx, time.Now())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Completed != 0 {
		t.Fatalf("completed = %d, want 0", stats.Completed)
	}
	if stats.Pending != 1 {
		t.Fatalf("pending = %d, want 1", stats.Pending)
	}
}
