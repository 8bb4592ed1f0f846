package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fame/core/internal/collab"
)

func TestPatternMatchModule(t *testing.T) {
	host := collab.NewLocalModuleHost()
	Register(host)

	mod, err := host.Load("builtin.patternmatch")
	require.NoError(t, err)
	require.NoError(t, mod.Initialize(map[string]any{"needle": "evil", "haystack": "this contains evil bytes"}))

	verdict, result, tags, err := mod.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, verdict)
	require.NotNil(t, result)
	require.Len(t, tags, 1)
}

func TestPatternMatchModuleRequiresNeedle(t *testing.T) {
	host := collab.NewLocalModuleHost()
	Register(host)
	mod, err := host.Load("builtin.patternmatch")
	require.NoError(t, err)
	require.Error(t, mod.Initialize(map[string]any{}))
}

func TestTaggerModule(t *testing.T) {
	host := collab.NewLocalModuleHost()
	Register(host)
	mod, err := host.Load("builtin.tagger")
	require.NoError(t, err)
	require.NoError(t, mod.Initialize(map[string]any{"tags": []any{"suspicious", "packed"}}))

	verdict, _, tags, err := mod.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, verdict)
	require.Len(t, tags, 2)
}

func TestNoopModule(t *testing.T) {
	host := collab.NewLocalModuleHost()
	Register(host)
	mod, err := host.Load("builtin.noop")
	require.NoError(t, err)
	require.NoError(t, mod.Initialize(nil))

	verdict, result, tags, err := mod.Execute(context.Background())
	require.NoError(t, err)
	require.False(t, verdict)
	require.Nil(t, result)
	require.Nil(t, tags)
}
