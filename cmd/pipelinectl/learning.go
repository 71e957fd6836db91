package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/pipeline-outbox/retrylearn"
	"github.com/velmie/pipeline-outbox/sourcepattern"
)

func newTimingCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "timing <source>",
		Short: "Recommend whether to fetch from a source now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			analyzer, err := newAnalyzer(a.cfg, b, a.logger)
			if err != nil {
				return err
			}
			timing, err := analyzer.OptimalTimingAt(cmd.Context(), args[0], a.clock.Now())
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(a.out, timingView(timing))
			}

			if timing.ShouldProceed {
				printSuccess(a.out, "%s: proceed (%s)", args[0], timing.Reason)
			} else {
				printWarn(a.out, "%s: wait %s (%s)", args[0], timing.Delay.Round(time.Second), timing.Reason)
			}
			printInfo(a.out, "weighted failure rate %.2f", timing.WeightedFailureRate)
			if alt := timing.Alternative; alt != nil {
				printInfo(a.out, "best slot %s, success rate %.2f over %d samples, next %s",
					alt, alt.SuccessRate, alt.SampleSize, alt.Next.Format(time.RFC3339))
			}

			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

type slotView struct {
	Slot        string    `json:"slot"`
	SuccessRate float64   `json:"success_rate"`
	SampleSize  int       `json:"sample_size"`
	Next        time.Time `json:"next"`
}

type timingJSON struct {
	ShouldProceed       bool      `json:"should_proceed"`
	Reason              string    `json:"reason"`
	WeightedFailureRate float64   `json:"weighted_failure_rate"`
	DelaySeconds        float64   `json:"delay_seconds"`
	Alternative         *slotView `json:"alternative,omitempty"`
}

func timingView(t sourcepattern.Timing) timingJSON {
	v := timingJSON{
		ShouldProceed:       t.ShouldProceed,
		Reason:              t.Reason,
		WeightedFailureRate: t.WeightedFailureRate,
		DelaySeconds:        t.Delay.Seconds(),
	}
	if alt := t.Alternative; alt != nil {
		v.Alternative = &slotView{
			Slot:        alt.String(),
			SuccessRate: alt.SuccessRate,
			SampleSize:  alt.SampleSize,
			Next:        alt.Next,
		}
	}

	return v
}

func newCooldownsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cooldowns",
		Short: "Show static and learned retry cooldowns per error category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			learner, closeLearner, err := newLearner(a.cfg, b, a.logger)
			if err != nil {
				return err
			}
			defer closeLearner()

			snapshot, err := learner.Snapshot(cmd.Context())
			if errors.Is(err, retrylearn.ErrNoSnapshot) {
				printWarn(a.errOut, "no learned cooldowns available, showing static defaults")
			} else if err != nil {
				return err
			}

			t := newTable("CATEGORY", "DEFAULT", "LEARNED", "SAMPLES", "CONFIDENCE", "EFFECTIVE")
			for _, c := range retrylearn.Categories() {
				learned, samples, confidence := "-", "-", "-"
				if p, ok := snapshot.Lookup(c); ok {
					learned = formatCooldown(p.OptimalWait)
					samples = strconv.Itoa(p.SampleSize)
					confidence = fmt.Sprintf("%.2f", p.Confidence)
				}
				t.addRow(c.String(), formatCooldown(c.DefaultCooldown()), learned, samples, confidence,
					formatCooldown(learner.Cooldown(cmd.Context(), c)))
			}
			t.render(a.out)

			return nil
		},
	}
}

func formatCooldown(d time.Duration) string {
	if retrylearn.IsInfinite(d) {
		return "never"
	}

	return d.String()
}

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete retry observations outside the learning window and stale source patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			observations, err := b.pruneLog(cmd.Context(), a.clock.Now().Add(-a.cfg.Learner.Window))
			if err != nil {
				return fmt.Errorf("prune observations: %w", err)
			}

			analyzer, err := newAnalyzer(a.cfg, b, a.logger)
			if err != nil {
				return err
			}
			patterns, err := analyzer.Cleanup(cmd.Context(), a.cfg.Patterns.MinSamples, a.cfg.Patterns.StaleAfter)
			if err != nil {
				return fmt.Errorf("prune patterns: %w", err)
			}
			printSuccess(a.out, "deleted %d observations and %d patterns", observations, patterns)

			return nil
		},
	}
}
