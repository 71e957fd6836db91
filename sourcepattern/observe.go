package sourcepattern

import (
	"context"

	"github.com/velmie/pipeline-outbox"
)

// SourceFunc extracts the source an event fetches from, if any.
type SourceFunc func(event outbox.Event) (string, bool)

// Observe wraps next so every handled event with a source feeds the analyzer.
// next must be the handler that actually fetches from the source, such as a
// scraper consuming forwarded events. Wrapping a relay that only hands the
// event to a broker would record broker availability under the source name.
// Recording failures are logged and never change the handler result.
func (a *Analyzer) Observe(sourceOf SourceFunc, next outbox.Handler) outbox.Handler {
	return outbox.HandlerFunc(func(ctx context.Context, event outbox.Event) error {
		source, ok := sourceOf(event)
		if !ok {
			return next.Handle(ctx, event)
		}

		start := a.clock.Now()
		err := next.Handle(ctx, event)
		latency := a.clock.Now().Sub(start)

		recordCtx := context.WithoutCancel(ctx)
		if recErr := a.RecordOutcomeAt(recordCtx, source, start, err == nil, &latency); recErr != nil {
			a.logger.Warn("sourcepattern record failed", "source", source, outbox.LogKeyErr, recErr)
		}

		return err
	})
}
