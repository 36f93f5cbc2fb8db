package gopool

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreads(t *testing.T) {
	require.Equal(t, 1, Threads(0, 4))
	require.Equal(t, 1, Threads(4, 4))
	require.Equal(t, 2, Threads(10, 4))
	require.Equal(t, 4, Threads(1000, 4))
}

func TestRunVisitsEveryIndex(t *testing.T) {
	var (
		seen  = make([]int32, 64)
		total atomic.Int32
	)
	err := Run(len(seen), 8, func(i int) error {
		atomic.AddInt32(&seen[i], 1)
		total.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int32(64), total.Load())
	for i, n := range seen {
		require.Equal(t, int32(1), n, "index %d", i)
	}
}

func TestRunReportsError(t *testing.T) {
	boom := errors.New("boom")
	err := Run(20, 4, func(i int) error {
		if i == 7 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestRunAfterRelease(t *testing.T) {
	Release()
	t.Cleanup(defaultPool.Reboot)

	var total atomic.Int32
	err := Run(20, 4, func(i int) error {
		total.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int32(20), total.Load(), "tasks run inline once the pool is gone")
}
