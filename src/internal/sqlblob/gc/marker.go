package gc

import (
	"context"

	"github.com/sqlblob/sqlblob/src/internal/log"
	"github.com/sqlblob/sqlblob/src/internal/sqlblob"
	"github.com/sqlblob/sqlblob/src/internal/stream"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MarkShard sweeps one shard: it walks every blob key, resolves the key's
// chunk references, and stamps each referenced chunk with gen.  The stamp is
// a monotone upsert, so re-running a partially completed sweep with the same
// generation converges to the same state.  Chunks referenced by no key are
// left untouched and age out over later cycles.
//
// Returns the number of chunk references stamped.
func MarkShard(ctx context.Context, shard *sqlblob.Shard, gen int64) (_ int64, retErr error) {
	ctx, end := log.SpanContext(ctx, "markShard", zap.Int("shard", shard.ID()), zap.Int64("generation", gen))
	defer end(log.Errorp(&retErr))
	it, err := shard.ReadAllKeys(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		retErr = multierr.Append(retErr, it.Close())
	}()
	var stamped int64
	err = stream.ForEach[sqlblob.KeyRef](ctx, it, func(ref sqlblob.KeyRef) error {
		for _, id := range ref.Chunks {
			if err := shard.UpsertGenerationTag(ctx, id, gen); err != nil {
				return err
			}
			markedChunksMetric.Inc()
			stamped++
		}
		return nil
	})
	if err != nil {
		return stamped, err
	}
	log.Info(ctx, "shard sweep complete", zap.Int64("chunksStamped", stamped))
	return stamped, nil
}

// Mark runs MarkShard on every shard in parallel, with the single
// pre-allocated generation.  Shards are independent failure domains: one
// shard's failure does not stop the others, and the combined error reports
// every failed shard.  A failed shard's sweep can be retried by running mark
// again; completed stamps are idempotent.
func Mark(ctx context.Context, shards []*sqlblob.Shard, gen int64) error {
	errs := make([]error, len(shards))
	done := make(chan struct{})
	for i, shard := range shards {
		i, shard := i, shard
		go func() {
			defer func() { done <- struct{}{} }()
			_, errs[i] = MarkShard(ctx, shard, gen)
		}()
	}
	for range shards {
		<-done
	}
	return multierr.Combine(errs...)
}
