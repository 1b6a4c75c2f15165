package concurrency

import (
	gocontext "context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
	"wbbaudit/pkg/config"
	"wbbaudit/pkg/context"
)

func opCtx(cores int) *context.OperationContext {
	c := config.Default()
	c.Cores = cores
	return context.NewContext(c, nil, nil)
}

func TestForEachAndMap(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	for _, cores := range []int{1, 4} {
		var sum atomic.Int64
		require.NoError(t, ForEach(opCtx(cores), items, func(_ int, v int) error {
			sum.Add(int64(v))
			return nil
		}))
		require.EqualValues(t, 4950, sum.Load())

		squares, err := Map(opCtx(cores), items, func(v int) (int, error) { return v * v, nil })
		require.NoError(t, err)
		require.Equal(t, 81, squares[9])
	}

	failing := xerrors.New("boom")
	err := ForEach(opCtx(4), items, func(_ int, v int) error {
		if v == 50 {
			return failing
		}
		return nil
	})
	require.ErrorIs(t, err, failing)

	empty, err := Map(opCtx(2), []int{}, func(v int) (int, error) { return v, nil })
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestBounded(t *testing.T) {
	items := []string{"fast", "slow", "error", "fast"}
	results := make(map[int]error)

	err := Bounded(gocontext.Background(), items, 2, 50*time.Millisecond,
		func(ctx gocontext.Context, item string) error {
			switch item {
			case "slow":
				<-ctx.Done()
				time.Sleep(10 * time.Millisecond)
				return nil
			case "error":
				return xerrors.New("mismatch")
			}
			return nil
		},
		func(i int, _ string, err error, _ time.Duration) { results[i] = err })

	require.NoError(t, err)
	require.Len(t, results, 4)
	require.NoError(t, results[0])
	require.ErrorIs(t, results[1], ErrTimeout)
	require.EqualError(t, results[2], "mismatch")
	require.NoError(t, results[3])
}

func TestRetry(t *testing.T) {
	transient := xerrors.New("transient")
	retryable := func(err error) bool { return xerrors.Is(err, transient) }

	calls := 0
	err := Retry(1, retryable, func() error {
		calls++
		if calls == 1 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	calls = 0
	err = Retry(1, retryable, func() error { calls++; return transient })
	require.ErrorIs(t, err, transient)
	require.Equal(t, 2, calls)

	calls = 0
	fatal := xerrors.New("fatal")
	err = Retry(3, retryable, func() error { calls++; return fatal })
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}
