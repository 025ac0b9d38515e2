package armed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoptrade/motorcortex/infrastructure/state"
)

func TestNew_DefaultsToDisarmed(t *testing.T) {
	il, err := New(context.Background(), state.NewMemoryBackend(0))
	require.NoError(t, err)
	assert.Equal(t, Disarmed, il.Current())
	assert.False(t, il.IsArmed())
}

func TestTransition_PersistsAndSurvivesReload(t *testing.T) {
	ctx := context.Background()
	backend := state.NewMemoryBackend(0)

	il, err := New(ctx, backend)
	require.NoError(t, err)
	require.NoError(t, il.Arm(ctx))
	assert.True(t, il.IsArmed())

	reloaded, err := New(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, Armed, reloaded.Current())
}

func TestTransition_SameValueIsNoOp(t *testing.T) {
	ctx := context.Background()
	il, err := New(ctx, state.NewMemoryBackend(0))
	require.NoError(t, err)

	require.NoError(t, il.Arm(ctx))
	require.NoError(t, il.Arm(ctx))
	assert.Equal(t, Armed, il.Current())
}

func TestHalt_BlocksPlacement(t *testing.T) {
	ctx := context.Background()
	il, err := New(ctx, state.NewMemoryBackend(0))
	require.NoError(t, err)
	require.NoError(t, il.Arm(ctx))
	require.NoError(t, il.Halt(ctx))
	assert.False(t, il.IsArmed())
}
