// Package testutil creates throwaway blob stores for tests.  Test shards
// are sqlite databases in the test's temp directory, so tests are hermetic
// and parallelizable with no external database.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/sqlblob/sqlblob/src/internal/blobsql"
	"github.com/sqlblob/sqlblob/src/internal/pctx"
	"github.com/sqlblob/sqlblob/src/internal/sqlblob"
	"github.com/stretchr/testify/require"
)

// NewTestShardDB returns an empty sqlite-backed shard database.  It is
// closed when the test ends.
func NewTestShardDB(t testing.TB) *blobsql.DB {
	// t.TempDir is unique per call, so every shard gets its own file.
	path := filepath.Join(t.TempDir(), "shard.db")
	u, err := blobsql.ParseURL("sqlite://" + path)
	require.NoError(t, err)
	db, err := blobsql.OpenURL(u, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

// NewTestShard returns a shard with its schema created.
func NewTestShard(t testing.TB, id int) *sqlblob.Shard {
	db := NewTestShardDB(t)
	ctx := pctx.TestContext(t)
	require.NoError(t, blobsql.WithTx(ctx, db, func(tx *blobsql.Tx) error {
		return sqlblob.SetupShard(tx, db.DriverName())
	}))
	shard, err := sqlblob.NewShard(id, db)
	require.NoError(t, err)
	return shard
}

// NewTestShards returns shardCount independent shards.
func NewTestShards(t testing.TB, shardCount int) []*sqlblob.Shard {
	shards := make([]*sqlblob.Shard, shardCount)
	for i := range shards {
		shards[i] = NewTestShard(t, i)
	}
	return shards
}

// NewTestStore returns a store over shardCount fresh shards.
func NewTestStore(t testing.TB, shardCount int, opts ...sqlblob.StoreOption) *sqlblob.Store {
	return sqlblob.NewStore(NewTestShards(t, shardCount), opts...)
}
