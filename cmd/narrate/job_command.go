package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var errLocalJobState = errors.New(
	"job state is process-local without a broker; run synthesize with --wait instead",
)

func newJobCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show the status of a synthesis job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			if !cmdCtx.distributed() {
				return errLocalJobState
			}

			queue, err := cmdCtx.natsClient()
			if err != nil {
				return err
			}

			defer func() { _ = queue.Close() }()

			job, err := queue.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return printJob(job)
		},
	}
}
