package sqlblob

import (
	"strings"

	"github.com/sqlblob/sqlblob/src/internal/blobsql"
	"github.com/sqlblob/sqlblob/src/internal/errors"
)

// dialect selects between the SQL variants the supported drivers need.
type dialect int

const (
	dialectPostgres dialect = iota
	dialectMySQL
	dialectSQLite
)

func dialectForDriver(driverName string) (dialect, error) {
	switch driverName {
	case "pgx":
		return dialectPostgres, nil
	case "mysql":
		return dialectMySQL, nil
	case "sqlite", "sqlite3":
		return dialectSQLite, nil
	}
	return 0, errors.Errorf("no shard dialect for driver %q", driverName)
}

// Every shard holds three relations: the blob keys (one row per key and
// chunk position), the chunks themselves, and the per-chunk generation tags
// written by the collector.  There are no cross-shard foreign keys.
const schemaPostgres = `
	CREATE TABLE IF NOT EXISTS blob_keys (
		name VARCHAR(255) NOT NULL,
		idx BIGINT NOT NULL,
		chunk_id VARCHAR(64) NOT NULL,
		PRIMARY KEY (name, idx)
	);
	CREATE INDEX IF NOT EXISTS blob_keys_chunk_id_idx ON blob_keys (chunk_id);
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id VARCHAR(64) NOT NULL PRIMARY KEY,
		size BIGINT NOT NULL,
		payload BYTEA NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunk_generations (
		chunk_id VARCHAR(64) NOT NULL PRIMARY KEY,
		last_seen_generation BIGINT NOT NULL
	);
`

const schemaSQLite = `
	CREATE TABLE IF NOT EXISTS blob_keys (
		name VARCHAR(255) NOT NULL,
		idx BIGINT NOT NULL,
		chunk_id VARCHAR(64) NOT NULL,
		PRIMARY KEY (name, idx)
	);
	CREATE INDEX IF NOT EXISTS blob_keys_chunk_id_idx ON blob_keys (chunk_id);
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id VARCHAR(64) NOT NULL PRIMARY KEY,
		size BIGINT NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunk_generations (
		chunk_id VARCHAR(64) NOT NULL PRIMARY KEY,
		last_seen_generation BIGINT NOT NULL
	);
`

// mysql cannot create indexes conditionally outside the table definition,
// and blob primary keys need a declared length, hence the separate DDL.
const schemaMySQL = `
	CREATE TABLE IF NOT EXISTS blob_keys (
		name VARCHAR(255) NOT NULL,
		idx BIGINT NOT NULL,
		chunk_id VARCHAR(64) NOT NULL,
		PRIMARY KEY (name, idx),
		INDEX blob_keys_chunk_id_idx (chunk_id)
	);
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id VARCHAR(64) NOT NULL PRIMARY KEY,
		size BIGINT NOT NULL,
		payload LONGBLOB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunk_generations (
		chunk_id VARCHAR(64) NOT NULL PRIMARY KEY,
		last_seen_generation BIGINT NOT NULL
	);
`

// SetupShard creates the shard's tables in tx if they do not exist.
func SetupShard(tx *blobsql.Tx, driverName string) error {
	d, err := dialectForDriver(driverName)
	if err != nil {
		return err
	}
	var ddl string
	switch d {
	case dialectPostgres:
		ddl = schemaPostgres
	case dialectMySQL:
		ddl = schemaMySQL
	case dialectSQLite:
		ddl = schemaSQLite
	}
	// mysql connections reject multi-statement strings by default, so run
	// each statement on its own.
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return errors.EnsureStack(err)
		}
	}
	return nil
}
