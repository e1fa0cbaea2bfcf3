package stream_test

import (
	"context"
	"testing"

	"github.com/sqlblob/sqlblob/src/internal/errors"
	"github.com/sqlblob/sqlblob/src/internal/errutil"
	"github.com/sqlblob/sqlblob/src/internal/pctx"
	"github.com/sqlblob/sqlblob/src/internal/stream"
	"github.com/stretchr/testify/require"
)

func intStream(ctx context.Context, xs ...int) stream.Iterator[int] {
	return stream.NewFromForEach[int](ctx, func(fn func(int) error) error {
		for _, x := range xs {
			if err := fn(x); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestForEach(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	var got []int
	err := stream.ForEach[int](ctx, intStream(ctx, 1, 2, 3), func(x int) error {
		got = append(got, x)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestForEachBreak(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	var got []int
	err := stream.ForEach[int](ctx, intStream(ctx, 1, 2, 3), func(x int) error {
		got = append(got, x)
		if x == 2 {
			return errutil.ErrBreak
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, got)
}

func TestForEachPropagatesError(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	sentinel := errors.New("bad element")
	err := stream.ForEach[int](ctx, intStream(ctx, 1, 2, 3), func(x int) error {
		if x == 2 {
			return sentinel
		}
		return nil
	})
	require.ErrorIs(t, err, sentinel)
}

func TestCollect(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	got, err := stream.Collect[int](ctx, intStream(ctx, 4, 5), 10)
	require.NoError(t, err)
	require.Equal(t, []int{4, 5}, got)

	_, err = stream.Collect[int](ctx, intStream(ctx, 1, 2, 3), 2)
	require.Error(t, err)
	require.ErrorContains(t, err, "exceeded maximum size 2")
}

func TestNewFromForEachPropagatesError(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	sentinel := errors.New("source failed")
	it := stream.NewFromForEach[int](ctx, func(fn func(int) error) error {
		if err := fn(1); err != nil {
			return err
		}
		return sentinel
	})
	var x int
	require.NoError(t, it.Next(ctx, &x))
	require.Equal(t, 1, x)
	require.ErrorIs(t, it.Next(ctx, &x), sentinel)
}
