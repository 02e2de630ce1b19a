package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/jobqueue"
)

func TestRootCommandWiring(t *testing.T) {
	t.Parallel()

	root := newRootCommand()

	names := make([]string, 0)
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}

	assert.Contains(t, names, "synthesize")
	assert.Contains(t, names, "job")
	assert.Contains(t, names, "cancel")
}

func TestSynthesizeCommandRequiresStoryAndVoice(t *testing.T) {
	t.Parallel()

	root := newRootCommand()
	root.SetArgs([]string{"synthesize"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestCancelErrorNamesTheBackendLimitation(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, cancelError(true), jobqueue.ErrCancelUnsupported)
	require.ErrorIs(t, cancelError(false), errCancelViaInterrupt)
}

func TestJobCommandRequiresID(t *testing.T) {
	t.Parallel()

	root := newRootCommand()
	root.SetArgs([]string{"job"})

	require.Error(t, root.Execute())
}
