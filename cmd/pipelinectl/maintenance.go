package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/events"
)

func newPublishCmd(a *app) *cobra.Command {
	var (
		delay       time.Duration
		maxAttempts int
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "publish <event-type> <json-payload>",
		Short: "Enqueue an event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && !events.Known(events.Type(args[0])) {
				return fmt.Errorf("unknown event type %q (use --force to publish anyway)", args[0])
			}

			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			if maxAttempts <= 0 {
				maxAttempts = a.cfg.Worker.MaxAttempts
			}
			publisher := outbox.NewPublisher(b.store, outbox.PublisherConfig{Clock: a.clock, MaxAttempts: maxAttempts})
			id, err := publisher.Publish(cmd.Context(), b.db, args[0], []byte(args[1]), outbox.WithDelay(delay))
			if err != nil {
				return err
			}
			printSuccess(a.out, "published %s", id)

			return nil
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "schedule the event this far in the future")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt budget (0 uses worker.max_attempts)")
	cmd.Flags().BoolVar(&force, "force", false, "allow event types outside the known set")

	return cmd
}

func newReclaimCmd(a *app) *cobra.Command {
	var stuckAfter time.Duration

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Reset events stuck in PROCESSING back to PENDING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			if stuckAfter <= 0 {
				stuckAfter = a.cfg.Reclaimer.StuckAfter
			}
			reclaimer := outbox.NewReclaimer(b.store, outbox.ReclaimerConfig{Clock: a.clock, Logger: a.logger})
			n, err := reclaimer.Reclaim(cmd.Context(), stuckAfter)
			if err != nil {
				return err
			}
			printSuccess(a.out, "reclaimed %d events", n)

			return nil
		},
	}
	cmd.Flags().DurationVar(&stuckAfter, "stuck-after", 0, "PROCESSING age considered stuck (0 uses reclaimer.stuck_after)")

	return cmd
}

func newCleanupCmd(a *app) *cobra.Command {
	var (
		loop          bool
		retention     time.Duration
		includeFailed bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old COMPLETED (and optionally FAILED) events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			cfg := *a.cfg
			if retention > 0 {
				cfg.Cleanup.Retention = retention
			}
			if includeFailed {
				cfg.Cleanup.IncludeFailed = true
			}
			maintainer, err := newCleanupMaintainer(&cfg, b, a.logger)
			if err != nil {
				return err
			}

			if loop {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				if err := maintainer.Run(ctx); err != nil && !isShutdown(err) {
					return err
				}

				return nil
			}

			result, err := maintainer.Ensure(cmd.Context())
			if err != nil {
				return err
			}
			printSuccess(a.out, "deleted %d completed and %d failed events", result.Completed, result.Failed)

			return nil
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep running every cleanup.check_every")
	cmd.Flags().DurationVar(&retention, "retention", 0, "override cleanup.retention")
	cmd.Flags().BoolVar(&includeFailed, "include-failed", false, "delete FAILED events as well")

	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show event counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			stats, err := b.store.Stats(cmd.Context(), a.clock.Now())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(a.out, statsView{
					Pending:          stats.Pending,
					Processing:       stats.Processing,
					Completed:        stats.Completed,
					Failed:           stats.Failed,
					Due:              stats.Due,
					OldestDueAgeSecs: stats.OldestDueAge.Seconds(),
				})
			}

			t := newTable("STATUS", "COUNT")
			t.addRow(string(outbox.StatusPending), strconv.FormatInt(stats.Pending, 10))
			t.addRow(string(outbox.StatusProcessing), strconv.FormatInt(stats.Processing, 10))
			t.addRow(string(outbox.StatusCompleted), strconv.FormatInt(stats.Completed, 10))
			t.addRow(string(outbox.StatusFailed), strconv.FormatInt(stats.Failed, 10))
			t.render(a.out)
			printInfo(a.out, "\n%d due, oldest waiting %s", stats.Due, stats.OldestDueAge.Round(time.Second))

			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

type statsView struct {
	Pending          int64   `json:"pending"`
	Processing       int64   `json:"processing"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Due              int64   `json:"due"`
	OldestDueAgeSecs float64 `json:"oldest_due_age_seconds"`
}

func newRequeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <event-id>",
		Short: "Move a FAILED event back to PENDING with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", args[0], err)
			}

			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			ok, err := b.store.Requeue(cmd.Context(), id, a.clock.Now())
			if err != nil {
				return err
			}
			if !ok {
				event, err := b.store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}

				return fmt.Errorf("event %s is %s, only FAILED events can be requeued", id, event.Status)
			}
			printSuccess(a.out, "requeued %s", id)

			return nil
		},
	}
}
