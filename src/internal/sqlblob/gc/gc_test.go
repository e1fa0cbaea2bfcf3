package gc_test

import (
	"fmt"
	"testing"

	"github.com/sqlblob/sqlblob/src/internal/pctx"
	"github.com/sqlblob/sqlblob/src/internal/sqlblob"
	"github.com/sqlblob/sqlblob/src/internal/sqlblob/gc"
	"github.com/sqlblob/sqlblob/src/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestAllocateGenerationEmptyStore(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	shards := testutil.NewTestShards(t, 2)

	gen, err := gc.AllocateGeneration(ctx, shards)
	require.NoError(t, err)
	require.Equal(t, int64(1), gen)
}

func TestAllocateGenerationAcrossShards(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	shards := testutil.NewTestShards(t, 3)

	require.NoError(t, shards[0].UpsertGenerationTag(ctx, sqlblob.Hash([]byte("a")), 4))
	require.NoError(t, shards[2].UpsertGenerationTag(ctx, sqlblob.Hash([]byte("b")), 9))

	gen, err := gc.AllocateGeneration(ctx, shards)
	require.NoError(t, err)
	require.Equal(t, int64(10), gen)
}

func TestAllocateGenerationShardUnavailable(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	shards := testutil.NewTestShards(t, 2)

	// An unreachable shard aborts the cycle; allocating from a partial view
	// could reuse a generation that shard has already seen.
	require.NoError(t, shards[1].Close())
	_, err := gc.AllocateGeneration(ctx, shards)
	require.Error(t, err)
	require.ErrorContains(t, err, "shard 1 unavailable")
}

func TestAllocateGenerationInconsistentState(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	shards := testutil.NewTestShards(t, 2)

	db := shards[0].DB()
	_, err := db.ExecContext(ctx, db.Rebind(`
	INSERT INTO chunk_generations (chunk_id, last_seen_generation) VALUES (?, ?)`),
		sqlblob.Hash([]byte("bad")).HexString(), int64(-3))
	require.NoError(t, err)

	_, err = gc.AllocateGeneration(ctx, shards)
	require.Error(t, err)
	require.ErrorIs(t, err, gc.ErrInconsistentGenerationState)
}

func TestMarkStampsReferencedChunks(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	s := testutil.NewTestStore(t, 2, sqlblob.WithChunkSize(8))

	require.NoError(t, s.PutKey(ctx, "one", []byte("first blob payload")))
	require.NoError(t, s.PutKey(ctx, "two", []byte("second blob payload")))
	// A chunk whose only key is deleted stays behind, unreferenced.
	require.NoError(t, s.PutKey(ctx, "gone", []byte("orphaned")))
	orphan := sqlblob.Hash([]byte("orphaned"))
	orphanShard := s.ShardFor("gone")
	require.NoError(t, s.DeleteKey(ctx, "gone"))
	orphanTagBefore := readTag(t, orphanShard, orphan)

	gen, err := gc.AllocateGeneration(ctx, s.Shards())
	require.NoError(t, err)
	require.NoError(t, gc.Mark(ctx, s.Shards(), gen))

	for _, key := range []string{"one", "two"} {
		shard := s.ShardFor(key)
		ref := requireKeyRef(t, shard, key)
		for _, id := range ref.Chunks {
			require.Equal(t, gen, readTag(t, shard, id), "chunk of key %q", key)
		}
	}
	// Unreferenced chunks are never stamped; they age out instead.
	require.Equal(t, orphanTagBefore, readTag(t, orphanShard, orphan))

	// Re-running the same sweep converges to the same state.
	require.NoError(t, gc.Mark(ctx, s.Shards(), gen))
	shard := s.ShardFor("one")
	ref := requireKeyRef(t, shard, "one")
	require.Equal(t, gen, readTag(t, shard, ref.Chunks[0]))
}

func TestMarkTwoShardStore(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	s := testutil.NewTestStore(t, 2)

	// Place a single 199 byte blob on shard 1 and leave shard 0 empty.
	key := keyOnShard(t, s, 1)
	payload := make([]byte, 199)
	require.NoError(t, s.PutKey(ctx, key, payload))

	// The write pre-tagged the chunk at generation 1, so the sweep
	// allocates 2 and restamps it there.
	gen, err := gc.AllocateGeneration(ctx, s.Shards())
	require.NoError(t, err)
	require.Equal(t, int64(2), gen)
	require.NoError(t, gc.Mark(ctx, s.Shards(), gen))

	require.Equal(t, 0, countTagRows(t, s.Shards()[0]))
	require.Equal(t, 1, countTagRows(t, s.Shards()[1]))
	require.Equal(t, int64(2), readTag(t, s.Shards()[1], sqlblob.Hash(payload)))

	sizes, err := gc.GenerationSizes(ctx, s.Shards())
	require.NoError(t, err)
	require.Equal(t, []gc.GenerationSize{{Generation: 2, Bytes: 199}}, sizes)
}

func TestGenerationSizesAscendingAndComplete(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	s := testutil.NewTestStore(t, 2)

	require.NoError(t, s.PutKey(ctx, "a", make([]byte, 50)))
	require.NoError(t, s.PutKey(ctx, "b", make([]byte, 70)))
	require.NoError(t, s.PutKey(ctx, "c", make([]byte, 30)))

	// Strip one chunk's tag so it reports under generation 0.
	shard := s.ShardFor("a")
	db := shard.DB()
	_, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM chunk_generations WHERE chunk_id = ?`),
		sqlblob.Hash(make([]byte, 50)).HexString())
	require.NoError(t, err)

	sizes, err := gc.GenerationSizes(ctx, s.Shards())
	require.NoError(t, err)
	require.NotEmpty(t, sizes)
	var total uint64
	last := int64(-1)
	for _, gs := range sizes {
		require.Greater(t, gs.Generation, last)
		require.NotZero(t, gs.Bytes)
		last = gs.Generation
		total += gs.Bytes
	}
	require.Equal(t, int64(0), sizes[0].Generation)
	require.Equal(t, uint64(50), sizes[0].Bytes)
	// Every stored byte is attributed to exactly one generation.
	require.Equal(t, uint64(150), total)
}

func TestReclaimRejectsLowRetention(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	shards := testutil.NewTestShards(t, 1)

	_, err := gc.Reclaim(ctx, shards, 1)
	require.Error(t, err)
	require.ErrorContains(t, err, "retention must be at least 2")
}

func TestReclaimBeforeAnyCyclesIsNoop(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	s := testutil.NewTestStore(t, 1)

	require.NoError(t, s.PutKey(ctx, "k", []byte("fresh data")))
	report, err := gc.Reclaim(ctx, s.Shards(), 2)
	require.NoError(t, err)
	require.Equal(t, int64(0), report.TotalDeleted())
	require.Equal(t, int64(0), report.Races)

	got, err := s.GetKey(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("fresh data"), got)
}

func TestReclaimDeletesAgedOutChunks(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	s := testutil.NewTestStore(t, 1)
	shard := s.Shards()[0]

	deadPayload := []byte("dead blob")
	livePayload := []byte("live blob")
	require.NoError(t, s.PutKey(ctx, "dead", deadPayload))
	require.NoError(t, s.PutKey(ctx, "live", livePayload))
	require.NoError(t, s.DeleteKey(ctx, "dead"))

	// Run several full cycles so the live chunk's tag advances while the
	// orphan's stays where its write left it.
	for i := 0; i < 4; i++ {
		gen, err := gc.AllocateGeneration(ctx, s.Shards())
		require.NoError(t, err)
		require.NoError(t, gc.Mark(ctx, s.Shards(), gen))
	}

	report, err := gc.Reclaim(ctx, s.Shards(), 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), report.TotalDeleted())
	require.Equal(t, int64(0), report.Races)

	var count int
	require.NoError(t, shard.DB().Get(&count,
		shard.DB().Rebind(`SELECT COUNT(*) FROM chunks WHERE chunk_id = ?`),
		sqlblob.Hash(deadPayload).HexString()))
	require.Equal(t, 0, count)

	got, err := s.GetKey(ctx, "live")
	require.NoError(t, err)
	require.Equal(t, livePayload, got)
}

func TestReclaimSkipsReferencedStaleChunk(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	s := testutil.NewTestStore(t, 1)
	shard := s.Shards()[0]

	payload := []byte("still referenced")
	require.NoError(t, s.PutKey(ctx, "live", payload))
	id := sqlblob.Hash(payload)

	// Push the shard's max generation forward, then force the live chunk's
	// tag below the threshold.  This is the state a lost mark/write race
	// leaves behind.
	require.NoError(t, shard.UpsertGenerationTag(ctx, sqlblob.Hash([]byte("pacer")), 10))
	db := shard.DB()
	_, err := db.ExecContext(ctx, db.Rebind(`
	UPDATE chunk_generations SET last_seen_generation = 0 WHERE chunk_id = ?`), id.HexString())
	require.NoError(t, err)

	report, err := gc.Reclaim(ctx, s.Shards(), 2)
	require.NoError(t, err)
	require.Equal(t, int64(0), report.TotalDeleted())
	require.Equal(t, int64(1), report.Races)

	got, err := s.GetKey(ctx, "live")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// keyOnShard probes for a key name that hashes to the given shard.
func keyOnShard(t testing.TB, s *sqlblob.Store, shardID int) string {
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		if s.ShardFor(key).ID() == shardID {
			return key
		}
	}
	t.Fatalf("no key found for shard %d", shardID)
	return ""
}

func requireKeyRef(t testing.TB, shard *sqlblob.Shard, key string) sqlblob.KeyRef {
	db := shard.DB()
	var hexIDs []string
	require.NoError(t, db.Select(&hexIDs,
		db.Rebind(`SELECT chunk_id FROM blob_keys WHERE name = ? ORDER BY idx`), key))
	require.NotEmpty(t, hexIDs)
	ref := sqlblob.KeyRef{Key: key}
	for _, h := range hexIDs {
		id, err := sqlblob.IDFromHex(h)
		require.NoError(t, err)
		ref.Chunks = append(ref.Chunks, id)
	}
	return ref
}

func readTag(t testing.TB, shard *sqlblob.Shard, id sqlblob.ID) int64 {
	db := shard.DB()
	var gen int64
	require.NoError(t, db.Get(&gen,
		db.Rebind(`SELECT last_seen_generation FROM chunk_generations WHERE chunk_id = ?`),
		id.HexString()))
	return gen
}

func countTagRows(t testing.TB, shard *sqlblob.Shard) int {
	var count int
	require.NoError(t, shard.DB().Get(&count, `SELECT COUNT(*) FROM chunk_generations`))
	return count
}
