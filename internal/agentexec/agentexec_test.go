package agentexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunExecutesModuleBinary(t *testing.T) {
	script := []byte("#!/bin/sh\ncat <<'EOF'\n{\"results\":{\"ok\":true},\"_results\":{\"result\":true,\"tags\":[\"demo\"]},\"should_restore\":false}\nEOF\n")

	r := NewRunner(t.TempDir())
	payload, err := r.Run(context.Background(), script, "demo_module", map[string]any{"k": "v"}, "/tmp/target", "executable")
	require.NoError(t, err)
	require.True(t, payload.Internal.Result)
	require.Equal(t, []string{"demo"}, payload.Internal.Tags)
}

func TestRunPropagatesNonZeroExit(t *testing.T) {
	script := []byte("#!/bin/sh\nexit 1\n")

	r := NewRunner(t.TempDir())
	_, err := r.Run(context.Background(), script, "failing_module", nil, "/tmp/target", "executable")
	require.Error(t, err)
}
