package outbox

import (
	"context"
	"testing"
	"time"
)

func BenchmarkWorkerProcessOnce(b *testing.B) {
	store := newMemStore()
	worker := NewWorker(store, HandlerFunc(func(context.Context, Event) error { return nil }),
		WithClock(FixedClock(baseTime)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 100; j++ {
			store.put(pendingEvent("article.job.created", baseTime.Add(-time.Duration(j)*time.Second)))
		}
		b.StartTimer()

		if _, err := worker.ProcessOnce(context.Background()); err != nil {
			b.Fatalf("process once: %v", err)
		}
	}
}
