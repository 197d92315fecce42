package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffDelayBounds(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(100*time.Millisecond, time.Second)
	for attempt := 0; attempt < 12; attempt++ {
		want := 100 * time.Millisecond << attempt
		if want > time.Second || want <= 0 {
			want = time.Second
		}
		d := b.Delay(attempt)
		require.GreaterOrEqual(t, d, want/2, "attempt %d", attempt)
		require.LessOrEqual(t, d, want, "attempt %d", attempt)
	}
}

func TestExponentialBackoffDefaults(t *testing.T) {
	t.Parallel()

	b := NewExponentialBackoff(0, 0)
	require.Equal(t, 250*time.Millisecond, b.baseDelay)
	require.Equal(t, 30*time.Second, b.maxDelay)
}

func TestExponentialBackoffWaitCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewExponentialBackoff(time.Hour, 2*time.Hour).Wait(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}
