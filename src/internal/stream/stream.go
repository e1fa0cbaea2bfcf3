// Package stream provides generic lazy iteration.  Iterators yield elements
// one at a time so that callers never have to materialize an unbounded
// sequence in memory.
package stream

import (
	"context"

	"github.com/sqlblob/sqlblob/src/internal/errors"
	"github.com/sqlblob/sqlblob/src/internal/errutil"
)

// EOS is returned by Next when iteration has ended.
var EOS = errors.New("end of stream")

// Iterator is a stream of elements of type T.
type Iterator[T any] interface {
	// Next reads the next element into dst, or returns EOS.
	Next(ctx context.Context, dst *T) error
}

// ForEach calls fn for each element of it.  Returning errutil.ErrBreak from
// fn stops iteration without error.
func ForEach[T any](ctx context.Context, it Iterator[T], fn func(t T) error) error {
	var x T
	for {
		if err := it.Next(ctx, &x); err != nil {
			if errors.Is(err, EOS) {
				return nil
			}
			return err
		}
		if err := fn(x); err != nil {
			if errors.Is(err, errutil.ErrBreak) {
				return nil
			}
			return err
		}
	}
}

// Collect reads at most max elements from it into a slice.  It errors if the
// stream yields more than max elements.
func Collect[T any](ctx context.Context, it Iterator[T], max int) (ret []T, _ error) {
	if err := ForEach(ctx, it, func(x T) error {
		if len(ret) >= max {
			return errors.Errorf("stream exceeded maximum size %d", max)
		}
		ret = append(ret, x)
		return nil
	}); err != nil {
		return nil, err
	}
	return ret, nil
}

type forEach[T any] struct {
	dataChan chan T
	errChan  chan error
}

// NewFromForEach adapts callback based iteration to an Iterator.
func NewFromForEach[T any](ctx context.Context, forEachFunc func(func(T) error) error) Iterator[T] {
	dataChan := make(chan T)
	errChan := make(chan error, 1)
	go func() {
		if err := forEachFunc(func(data T) error {
			select {
			case dataChan <- data:
				return nil
			case <-ctx.Done():
				return errutil.ErrBreak
			}
		}); err != nil {
			errChan <- err
			return
		}
		close(dataChan)
	}()
	return &forEach[T]{
		dataChan: dataChan,
		errChan:  errChan,
	}
}

// Next returns the next item and progresses the iterator.
func (i *forEach[T]) Next(ctx context.Context, dst *T) error {
	select {
	case data, more := <-i.dataChan:
		if !more {
			return EOS
		}
		*dst = data
		return nil
	case err := <-i.errChan:
		return err
	case <-ctx.Done():
		return errors.EnsureStack(ctx.Err())
	}
}
