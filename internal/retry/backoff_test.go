package retry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackoffExhaustsBudget(t *testing.T) {
	bo := NewBackoffer(context.Background(), 50)
	var lastErr error
	for i := 0; i < 50; i++ {
		lastErr = bo.Backoff(BoTransport, context.DeadlineExceeded)
		if lastErr != nil {
			break
		}
	}
	require.Error(t, lastErr)
	require.Contains(t, lastErr.Error(), "backoff budget exhausted")
}

func TestBackoffRespectsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bo := NewBackoffer(ctx, 10000)
	err := bo.Backoff(BoRegionMiss, context.Canceled)
	require.Error(t, err)
}

func TestBackoffSleepMsStaysWithinCap(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		sleep := backoffSleepMs(BoTxnLockFast, attempt)
		require.LessOrEqual(t, sleep, schedule[BoTxnLockFast].cap)
		require.GreaterOrEqual(t, sleep, 0)
	}
}

func TestForkSharesRemainingBudget(t *testing.T) {
	bo := NewBackoffer(context.Background(), 1000)
	require.NoError(t, bo.Backoff(BoRegionMiss, context.DeadlineExceeded))
	child, cancel := bo.Fork()
	defer cancel()
	require.Equal(t, 1000-bo.GetTotalSleep(), child.maxSleepMs)
}
