package blobsql_test

import (
	"path/filepath"
	"testing"

	"github.com/sqlblob/sqlblob/src/internal/blobsql"
	"github.com/sqlblob/sqlblob/src/internal/errors"
	"github.com/sqlblob/sqlblob/src/internal/pctx"
	"github.com/stretchr/testify/require"
)

func TestParseURLPostgres(t *testing.T) {
	t.Parallel()
	u, err := blobsql.ParseURL("postgres://gc@db.internal/blobs?sslmode=require")
	require.NoError(t, err)
	require.Equal(t, "postgres", u.Protocol)
	require.Equal(t, "gc", u.User)
	require.Equal(t, "db.internal", u.Host)
	require.Equal(t, uint16(5432), u.Port)
	require.Equal(t, "blobs", u.Database)
	require.Equal(t, map[string]string{"sslmode": "require"}, u.Params)
}

func TestParseURLMySQL(t *testing.T) {
	t.Parallel()
	u, err := blobsql.ParseURL("mysql://gc@shard0.db.internal/blobs")
	require.NoError(t, err)
	require.Equal(t, "mysql", u.Protocol)
	require.Equal(t, uint16(3306), u.Port)
	require.Equal(t, "blobs", u.Database)

	u, err = blobsql.ParseURL("mysql://gc@shard0.db.internal:3307/blobs")
	require.NoError(t, err)
	require.Equal(t, uint16(3307), u.Port)
}

func TestParseURLSQLite(t *testing.T) {
	t.Parallel()
	// sqlite URLs address a file; the full path is preserved.
	u, err := blobsql.ParseURL("sqlite:///var/lib/sqlblob/shard0.db")
	require.NoError(t, err)
	require.Equal(t, "sqlite", u.Protocol)
	require.Equal(t, "/var/lib/sqlblob/shard0.db", u.Database)
}

func TestOpenURLUnsupportedProtocol(t *testing.T) {
	t.Parallel()
	u, err := blobsql.ParseURL("mongodb://host:1234/db")
	require.NoError(t, err)
	_, err = blobsql.OpenURL(u, "")
	require.Error(t, err)
	require.ErrorContains(t, err, `protocol "mongodb" not supported`)
}

func TestWithTx(t *testing.T) {
	t.Parallel()
	ctx := pctx.TestContext(t)
	u, err := blobsql.ParseURL("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db, err := blobsql.OpenURL(u, "")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)`)
	require.NoError(t, err)

	require.NoError(t, blobsql.WithTx(ctx, db, func(tx *blobsql.Tx) error {
		_, err := tx.Exec(tx.Rebind(`INSERT INTO kv (k, v) VALUES (?, ?)`), "a", "1")
		return errors.EnsureStack(err)
	}))

	// An error from the callback rolls the whole transaction back.
	sentinel := errors.New("boom")
	err = blobsql.WithTx(ctx, db, func(tx *blobsql.Tx) error {
		if _, err := tx.Exec(tx.Rebind(`INSERT INTO kv (k, v) VALUES (?, ?)`), "b", "2"); err != nil {
			return errors.EnsureStack(err)
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM kv`))
	require.Equal(t, 1, count)
}
