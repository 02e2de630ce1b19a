package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/book-expert/narration-service/internal/jobqueue"
)

const pollInterval = 500 * time.Millisecond

var errJobFailed = errors.New("job failed")

func newSynthesizeCommand(cmdCtx *commandContext) *cobra.Command {
	var (
		storyID string
		voiceID string
		force   bool
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Enqueue narration synthesis for a (story, voice) pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			if cmdCtx.distributed() {
				return runDistributedSynthesize(cmd.Context(), cmdCtx, storyID, voiceID, force, wait)
			}

			return runLocalSynthesize(cmdCtx, storyID, voiceID, force)
		},
	}

	cmd.Flags().StringVar(&storyID, "story", "", "Story ID to narrate")
	cmd.Flags().StringVar(&voiceID, "voice", "", "Voice profile ID to narrate with")
	cmd.Flags().BoolVar(&force, "force", false, "Re-synthesize sections that already have audio")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the job reaches a terminal state")
	_ = cmd.MarkFlagRequired("story")
	_ = cmd.MarkFlagRequired("voice")

	return cmd
}

func runDistributedSynthesize(
	ctx context.Context,
	cmdCtx *commandContext,
	storyID, voiceID string,
	force, wait bool,
) error {
	queue, err := cmdCtx.natsClient()
	if err != nil {
		return err
	}

	defer func() { _ = queue.Close() }()

	job, err := queue.Enqueue(ctx, storyID, voiceID, force)
	if err != nil {
		return err
	}

	if !wait {
		return printJob(job)
	}

	return waitForJob(ctx, queue, job.ID)
}

// runLocalSynthesize executes the job inside this process; it always waits.
// SIGINT requests cooperative cancellation instead of killing the run
// mid-section.
func runLocalSynthesize(cmdCtx *commandContext, storyID, voiceID string, force bool) error {
	queue, cleanup, err := cmdCtx.localQueue()
	if err != nil {
		return err
	}

	defer cleanup()

	job, err := queue.Enqueue(context.Background(), storyID, voiceID, force)
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(interrupts)

	go func() {
		<-interrupts
		_ = queue.Cancel(job.ID)
	}()

	return waitForJob(context.Background(), queue, job.ID)
}

func waitForJob(ctx context.Context, queue jobqueue.Queue, id string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		job, err := queue.Job(ctx, id)
		if err != nil {
			return err
		}

		if !job.State.Terminal() {
			continue
		}

		if printErr := printJob(job); printErr != nil {
			return printErr
		}

		if job.State == jobqueue.StateFailed {
			return fmt.Errorf("%w: %s", errJobFailed, job.FailedReason)
		}

		return nil
	}
}

func printJob(job jobqueue.Job) error {
	data, err := json.MarshalIndent(jobqueue.Status(job), "", "  ")
	if err != nil {
		return fmt.Errorf("render job status: %w", err)
	}

	fmt.Println(string(data))

	return nil
}
