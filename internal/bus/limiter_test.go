package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter_DisabledWhenRateNotPositive(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 10))
	assert.Nil(t, NewLimiter(-1, 10))

	var l *Limiter
	require.NoError(t, l.Wait(context.Background(), "any"))
}

func TestLimiter_BurstThenThrottle(t *testing.T) {
	l := NewLimiter(1, 2)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "k"))
	require.NoError(t, l.Wait(ctx, "k"))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.Wait(short, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(1, 1)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "b"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestNewLimiter_ClampsBurst(t *testing.T) {
	l := NewLimiter(5, 0)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.burst)
}
