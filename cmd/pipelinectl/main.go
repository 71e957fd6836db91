// Command pipelinectl operates the pipeline outbox.
//
// It prints and applies the schema, runs the delivery worker with its
// reclaimer and cleanup loops, performs operator actions such as requeue, and
// reports the learned retry cooldowns, source timing and content health gates.
//
// Settings come from --config (YAML) and PIPELINE_* environment variables.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes. The health command additionally exits 1 for degraded and 2 for critical.
const (
	exitOK      = 0
	exitFailure = 1
	exitRuntime = 3
)

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}

	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(&app{out: stdout, errOut: stderr})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			printError(stderr, "%v", exit.err)
		}

		return exit.code
	}
	printError(stderr, "%v", err)

	return exitFailure
}
