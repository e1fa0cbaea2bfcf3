// Package gc implements the generational mark-and-sweep garbage collector
// for the sharded blob store.
//
// A collection cycle allocates a fresh generation number, then stamps every
// chunk reachable from a blob key with it.  Chunks referenced by no key keep
// their old tag and age out over successive cycles; reclaim deletes chunks
// that have stayed stale for a configured number of generations.  The write
// path participates by pre-tagging new chunks with the current generation
// estimate, which is what makes marking safe against concurrent writes
// without any locks.
package gc

import (
	"context"

	"github.com/sqlblob/sqlblob/src/internal/errors"
	"github.com/sqlblob/sqlblob/src/internal/log"
	"github.com/sqlblob/sqlblob/src/internal/sqlblob"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInconsistentGenerationState indicates that a shard holds generation
// data the collector cannot reason about.  It is fatal; operator
// intervention is required, and the collector never rewrites the data to
// paper over it.
var ErrInconsistentGenerationState = errors.New("inconsistent generation state")

// AllocateGeneration computes the generation number for a new mark cycle:
// one past the highest last_seen_generation observed on any shard.  A shard
// with no generation tags contributes 0, so the first cycle on an empty
// store allocates generation 1.
//
// Every shard must be read successfully; allocating from a partial view
// could reuse a generation number an unreachable shard has already seen,
// breaking monotonicity, so any failure aborts the cycle.
func AllocateGeneration(ctx context.Context, shards []*sqlblob.Shard) (int64, error) {
	maxes := make([]int64, len(shards))
	eg, ctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		i, shard := i, shard
		eg.Go(func() error {
			max, err := shard.ReadMaxGeneration(ctx)
			if err != nil {
				return errors.Wrapf(err, "shard %d unavailable during generation allocation", shard.ID())
			}
			if max < 0 {
				return errors.Wrapf(ErrInconsistentGenerationState, "shard %d reports negative generation %d", shard.ID(), max)
			}
			maxes[i] = max
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	var max int64
	for _, m := range maxes {
		if m > max {
			max = m
		}
	}
	gen := max + 1
	log.Debug(ctx, "allocated generation", zap.Int64("generation", gen))
	return gen, nil
}
