package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/velmie/pipeline-outbox/healthgate"
)

const (
	exitDegraded = 1
	exitCritical = 2
)

// ErrQueriesFileRequired is returned when health runs without counting queries.
var ErrQueriesFileRequired = errors.New("health.queries_file is required")

func newHealthCmd(a *app) *cobra.Command {
	var (
		asJSON      bool
		queriesFile string
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run the content health gates",
		Long: `health evaluates every content gate against the counting queries in
health.queries_file and exits 0 when healthy, 1 when degraded, 2 when
critical and 3 when the check itself could not run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if queriesFile != "" {
				a.cfg.Health.QueriesFile = queriesFile
			}
			if a.cfg.Health.QueriesFile == "" {
				return &exitError{code: exitRuntime, err: ErrQueriesFileRequired}
			}

			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return &exitError{code: exitRuntime, err: err}
			}
			defer b.Close()

			monitor, err := newHealthMonitor(a.cfg, b, a)
			if err != nil {
				return &exitError{code: exitRuntime, err: err}
			}
			report := monitor.Check(cmd.Context())

			if asJSON {
				if err := printJSON(a.out, report); err != nil {
					return &exitError{code: exitRuntime, err: err}
				}
			} else {
				printReport(a, report)
			}

			switch report.Status {
			case healthgate.StatusCritical:
				return &exitError{code: exitCritical}
			case healthgate.StatusDegraded:
				return &exitError{code: exitDegraded}
			default:
				return nil
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&queriesFile, "queries", "", "override health.queries_file")

	return cmd
}

func printReport(a *app, report healthgate.Report) {
	t := newTable("GATE", "STATUS", "VALUE", "THRESHOLD", "MESSAGE")
	for _, g := range report.Gates {
		t.addRow(g.Name, string(g.Status), fmt.Sprintf("%.2f", g.Value),
			fmt.Sprintf("%.2f", g.Threshold), g.Message)
	}
	t.render(a.out)
	_, _ = fmt.Fprintln(a.out)

	for _, g := range report.Gates {
		if g.Status != healthgate.StatusHealthy && g.Recommendation != "" {
			printWarn(a.out, "%s: %s", g.Name, g.Recommendation)
		}
	}

	counts := report.Counts()
	_, _ = statusColor(report.Status).Fprintf(a.out, "overall %s (%d healthy, %d degraded, %d critical)\n",
		report.Status,
		counts[healthgate.StatusHealthy],
		counts[healthgate.StatusDegraded],
		counts[healthgate.StatusCritical],
	)
}
