package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/internal/config"
	"github.com/velmie/pipeline-outbox/internal/logging"
)

// app is the state shared by all subcommands.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
	clock   outbox.Clock
	out     io.Writer
	errOut  io.Writer
}

func newRootCmd(a *app) *cobra.Command {
	if a.clock == nil {
		a.clock = outbox.SystemClock{}
	}

	root := &cobra.Command{
		Use:   "pipelinectl",
		Short: "Operate the content pipeline outbox",
		Long: `pipelinectl operates the transactional outbox of the content pipeline.

Apply the schema, run the delivery worker, inspect and repair events, and
report learned retry cooldowns, source timing and content health gates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (YAML)")

	root.AddCommand(
		newSchemaCmd(a),
		newMigrateCmd(a),
		newPublishCmd(a),
		newWorkerCmd(a),
		newReclaimCmd(a),
		newCleanupCmd(a),
		newStatsCmd(a),
		newRequeueCmd(a),
		newHealthCmd(a),
		newTimingCmd(a),
		newCooldownsCmd(a),
		newPruneCmd(a),
	)

	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger

	return nil
}
