// Package procrun runs external programs under a hard wall-clock timeout.
//
// Subprocess-backed synthesis engines hold expensive resources (a GPU, a
// model loaded into memory), so a hung process must be killed rather than
// waited on. Every subprocess in this service goes through Run so the
// timeout-and-kill behavior is uniform.
package procrun

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTimedOut indicates the process was killed after exceeding its timeout.
var ErrTimedOut = errors.New("process timed out")

// Command describes one bounded external process invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Output captures what the process produced before it exited.
type Output struct {
	Combined []byte
	Duration time.Duration
}

// Run executes the command and waits for it to finish, killing it once the
// timeout elapses. The returned error wraps ErrTimedOut when the kill was
// triggered by the deadline rather than by ctx.
func Run(ctx context.Context, command Command) (Output, error) {
	if command.Path == "" {
		return Output{}, errors.New("command path cannot be empty")
	}

	runCtx := ctx

	var cancel context.CancelFunc

	if command.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	// #nosec G204 -- the path and arguments come from validated configuration.
	cmd := exec.CommandContext(runCtx, command.Path, command.Args...)
	cmd.Dir = command.Dir

	started := time.Now()
	combined, runErr := cmd.CombinedOutput()
	elapsed := time.Since(started)

	output := Output{
		Combined: combined,
		Duration: elapsed,
	}

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return output, fmt.Errorf(
				"%w after %s: %s",
				ErrTimedOut,
				command.Timeout,
				command.Path,
			)
		}

		return output, fmt.Errorf(
			"%s failed: %w - output: %s",
			command.Path,
			runErr,
			string(combined),
		)
	}

	return output, nil
}
