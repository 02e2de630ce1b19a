package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/book-expert/narration-service/internal/jobqueue"
)

var errCancelViaInterrupt = errors.New(
	"jobs run inside the synthesize process; interrupt that process to cancel",
)

func newCancelCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Explain how to cancel a running job",
		Long: "Cancellation is cooperative and only reaches the process " +
			"executing the job. Without a broker that is the synthesize " +
			"process itself: interrupt it and it fails the job cleanly at " +
			"the next section boundary. Jobs handed to the broker cannot " +
			"be cancelled.",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, _ []string) error {
			_, _, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			return cancelError(cmdCtx.distributed())
		},
	}
}

// cancelError names why out-of-process cancellation is unavailable for the
// configured backend.
func cancelError(distributed bool) error {
	if distributed {
		return jobqueue.ErrCancelUnsupported
	}

	return errCancelViaInterrupt
}
