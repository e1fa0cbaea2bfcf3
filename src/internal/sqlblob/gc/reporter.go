package gc

import (
	"context"
	"sort"

	"github.com/sqlblob/sqlblob/src/internal/sqlblob"
)

// GenerationSize is the total stored bytes attributed to one generation.
type GenerationSize struct {
	Generation int64
	Bytes      uint64
}

// GenerationSizes sums chunk sizes grouped by last seen generation, across
// all shards, ascending by generation.  Chunks that have never been marked
// count under generation 0; generations with no bytes are omitted.
//
// This is a pure read for operator visibility.  No cross-shard snapshot is
// taken, so totals may be transiently inconsistent while writers or a
// concurrent mark are running.
func GenerationSizes(ctx context.Context, shards []*sqlblob.Shard) ([]GenerationSize, error) {
	totals := make(map[int64]uint64)
	for _, shard := range shards {
		sizes, err := shard.SumBytesByGeneration(ctx)
		if err != nil {
			return nil, err
		}
		for gen, bytes := range sizes {
			totals[gen] += bytes
		}
	}
	ret := make([]GenerationSize, 0, len(totals))
	for gen, bytes := range totals {
		ret = append(ret, GenerationSize{Generation: gen, Bytes: bytes})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Generation < ret[j].Generation })
	return ret, nil
}
