package providers

import (
	"context"
	"testing"
	"time"

	"newsindex/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitBeyondDeadlineIsTransient(t *testing.T) {
	// 100 requests a day, with the single burst token already spent.
	l := NewLimiter(100.0 / 86400)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := Wait(ctx, l)
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestWaitReturnsCancellationAsIs(t *testing.T) {
	l := NewLimiter(100.0 / 86400)
	require.True(t, l.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Wait(ctx, l)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, types.IsTransient(err))
}

func TestWaitUnlimited(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), nil))
	assert.NoError(t, Wait(context.Background(), NewLimiter(0)))
}
