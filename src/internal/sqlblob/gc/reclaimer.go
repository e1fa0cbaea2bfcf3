package gc

import (
	"context"
	"sync/atomic"

	"github.com/sqlblob/sqlblob/src/internal/errors"
	"github.com/sqlblob/sqlblob/src/internal/log"
	"github.com/sqlblob/sqlblob/src/internal/sqlblob"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MinRetentionGenerations is the smallest allowed retention threshold.  Two
// generations guarantee that at least one full mark cycle has completed
// since any possible concurrent write pre-tagged a chunk, so reclaim can
// never see a live chunk as stale.
const MinRetentionGenerations = 2

// ReclaimReport summarizes one reclaim pass.
type ReclaimReport struct {
	// Deleted counts the chunks deleted from each shard, by shard index.
	Deleted []int64
	// Races counts chunks that looked stale but turned out to be referenced
	// when re-checked inside the deleting transaction.  A non-zero count is
	// an anomaly worth investigating, not a data-loss event: the deletion
	// was skipped.
	Races int64
}

// TotalDeleted sums deletions across shards.
func (r *ReclaimReport) TotalDeleted() int64 {
	var total int64
	for _, n := range r.Deleted {
		total += n
	}
	return total
}

// Reclaim deletes chunks whose last seen generation is more than retention
// generations behind the collector's current generation estimate.  Each
// candidate is re-checked for references immediately before deletion, inside
// the deleting transaction; losing that race skips the delete and is
// reported, never silently ignored.  Accidentally deleting live data is the
// worst failure mode this system has, so every threshold here biases toward
// under-collection.
func Reclaim(ctx context.Context, shards []*sqlblob.Shard, retention int64) (*ReclaimReport, error) {
	if retention < MinRetentionGenerations {
		return nil, errors.Errorf("retention must be at least %d generations, got %d", MinRetentionGenerations, retention)
	}
	estimate, err := AllocateGeneration(ctx, shards)
	if err != nil {
		return nil, err
	}
	threshold := estimate - retention
	if threshold <= 0 {
		// Not enough cycles have run for anything to be provably stale.
		return &ReclaimReport{Deleted: make([]int64, len(shards))}, nil
	}
	report := &ReclaimReport{Deleted: make([]int64, len(shards))}
	errs := make([]error, len(shards))
	done := make(chan struct{})
	for i, shard := range shards {
		i, shard := i, shard
		go func() {
			defer func() { done <- struct{}{} }()
			errs[i] = reclaimShard(ctx, shard, threshold, &report.Deleted[i], &report.Races)
		}()
	}
	for range shards {
		<-done
	}
	return report, multierr.Combine(errs...)
}

func reclaimShard(ctx context.Context, shard *sqlblob.Shard, threshold int64, deleted *int64, races *int64) (retErr error) {
	ctx, end := log.SpanContext(ctx, "reclaimShard", zap.Int("shard", shard.ID()), zap.Int64("threshold", threshold))
	defer end(log.Errorp(&retErr))
	candidates, err := shard.StaleChunks(ctx, threshold)
	if err != nil {
		return err
	}
	for _, id := range candidates {
		ok, err := shard.ReclaimChunk(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			// The chunk gained a reference between the stale scan and the
			// delete.  Its generation tag is stale but the data is live;
			// the next mark cycle will re-stamp it.
			atomic.AddInt64(races, 1)
			reclaimRacesMetric.Inc()
			log.Warn(ctx, "reclaim race: stale chunk is referenced, skipping delete",
				zap.String("chunk", id.HexString()))
			continue
		}
		*deleted++
		reclaimedChunksMetric.Inc()
	}
	log.Info(ctx, "shard reclaim complete",
		zap.Int("candidates", len(candidates)), zap.Int64("deleted", *deleted))
	return nil
}
