package sqlblob

import (
	"context"
	"database/sql"

	"github.com/sqlblob/sqlblob/src/internal/blobsql"
	"github.com/sqlblob/sqlblob/src/internal/errors"
	"github.com/sqlblob/sqlblob/src/internal/stream"
	"go.uber.org/multierr"
)

// Shard is one independent partition of the blob store.  The write path
// mutates blob_keys and chunks; the collector mutates chunk_generations
// only.  That separation of mutation authority is what lets the mark phase
// be a plain monotone upsert with no locking beyond per-row transactions.
type Shard struct {
	id      int
	db      *blobsql.DB
	dialect dialect
}

// NewShard returns a Shard over db.  The shard's tables must already exist;
// see SetupShard.
func NewShard(id int, db *blobsql.DB) (*Shard, error) {
	d, err := dialectForDriver(db.DriverName())
	if err != nil {
		return nil, err
	}
	return &Shard{id: id, db: db, dialect: d}, nil
}

// ID returns the shard's index within its store.
func (s *Shard) ID() int { return s.id }

// DB exposes the underlying database, for tests and setup.
func (s *Shard) DB() *blobsql.DB { return s.db }

// Close closes the shard's connection pool.
func (s *Shard) Close() error {
	return errors.EnsureStack(s.db.Close())
}

// ReadMaxGeneration returns the largest last_seen_generation recorded on the
// shard, or 0 if the shard has no generation tags.
func (s *Shard) ReadMaxGeneration(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.GetContext(ctx, &max, `SELECT MAX(last_seen_generation) FROM chunk_generations`); err != nil {
		return 0, errors.Wrapf(err, "read max generation from shard %d", s.id)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// UpsertGenerationTag records that chunk id was seen live at generation gen.
// The stored tag only ever increases; calling this with a stale generation
// is a no-op, so re-running a partially completed sweep is safe.
func (s *Shard) UpsertGenerationTag(ctx context.Context, id ID, gen int64) error {
	return blobsql.WithTx(ctx, s.db, func(tx *blobsql.Tx) error {
		return s.upsertGenerationTagTx(tx, id, gen)
	})
}

func (s *Shard) upsertGenerationTagTx(tx *blobsql.Tx, id ID, gen int64) error {
	var q string
	switch s.dialect {
	case dialectMySQL:
		q = `
		INSERT INTO chunk_generations (chunk_id, last_seen_generation) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE last_seen_generation = GREATEST(last_seen_generation, VALUES(last_seen_generation))`
	default:
		q = `
		INSERT INTO chunk_generations (chunk_id, last_seen_generation) VALUES (?, ?)
		ON CONFLICT (chunk_id) DO UPDATE SET last_seen_generation = excluded.last_seen_generation
		WHERE chunk_generations.last_seen_generation < excluded.last_seen_generation`
	}
	_, err := tx.Exec(tx.Rebind(q), id.HexString(), gen)
	return errors.Wrapf(err, "upsert generation tag on shard %d", s.id)
}

type keyRefRow struct {
	Name    string `db:"name"`
	ChunkID string `db:"chunk_id"`
}

// KeyIterator yields every blob key on a shard, with its ordered chunk
// references, without materializing the key set in memory.  The iteration
// order is by key name; restarting the sweep produces a fresh iterator.
type KeyIterator struct {
	rows *blobsql.Rows
	peek *keyRefRow
	done bool
}

// ReadAllKeys returns an iterator over every key in the shard.  The caller
// must Close it.
func (s *Shard) ReadAllKeys(ctx context.Context) (*KeyIterator, error) {
	rows, err := s.db.QueryxContext(ctx, `
	SELECT name, chunk_id FROM blob_keys ORDER BY name, idx`)
	if err != nil {
		return nil, errors.Wrapf(err, "read keys from shard %d", s.id)
	}
	return &KeyIterator{rows: rows}, nil
}

// Next reads the next key and its chunk list into dst, or returns
// stream.EOS when the shard's keys are exhausted.
func (it *KeyIterator) Next(ctx context.Context, dst *KeyRef) error {
	if it.done {
		return stream.EOS
	}
	var first keyRefRow
	if it.peek != nil {
		first = *it.peek
		it.peek = nil
	} else {
		row, err := it.nextRow()
		if err != nil {
			return err
		}
		if row == nil {
			it.done = true
			return stream.EOS
		}
		first = *row
	}
	dst.Key = first.Name
	dst.Chunks = dst.Chunks[:0]
	id, err := IDFromHex(first.ChunkID)
	if err != nil {
		return errors.Wrapf(err, "malformed chunk id for key %q", first.Name)
	}
	dst.Chunks = append(dst.Chunks, id)
	for {
		row, err := it.nextRow()
		if err != nil {
			return err
		}
		if row == nil {
			it.done = true
			return nil
		}
		if row.Name != first.Name {
			it.peek = row
			return nil
		}
		id, err := IDFromHex(row.ChunkID)
		if err != nil {
			return errors.Wrapf(err, "malformed chunk id for key %q", row.Name)
		}
		dst.Chunks = append(dst.Chunks, id)
	}
}

func (it *KeyIterator) nextRow() (*keyRefRow, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, errors.EnsureStack(err)
		}
		return nil, nil
	}
	var row keyRefRow
	if err := it.rows.StructScan(&row); err != nil {
		return nil, errors.EnsureStack(err)
	}
	return &row, nil
}

// Close releases the iterator's cursor.
func (it *KeyIterator) Close() error {
	return errors.EnsureStack(it.rows.Close())
}

// SumBytesByGeneration returns the total chunk bytes on the shard grouped by
// last_seen_generation.  Chunks that have never been marked group under
// generation 0.
func (s *Shard) SumBytesByGeneration(ctx context.Context) (_ map[int64]uint64, retErr error) {
	rows, err := s.db.QueryxContext(ctx, `
	SELECT COALESCE(g.last_seen_generation, 0) AS generation, SUM(c.size) AS total_bytes
	FROM chunks c
	LEFT JOIN chunk_generations g ON c.chunk_id = g.chunk_id
	GROUP BY 1`)
	if err != nil {
		return nil, errors.Wrapf(err, "sum bytes by generation on shard %d", s.id)
	}
	defer func() {
		retErr = multierr.Append(retErr, errors.EnsureStack(rows.Close()))
	}()
	sizes := make(map[int64]uint64)
	for rows.Next() {
		var generation int64
		var totalBytes uint64
		if err := rows.Scan(&generation, &totalBytes); err != nil {
			return nil, errors.EnsureStack(err)
		}
		if totalBytes > 0 {
			sizes[generation] = totalBytes
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.EnsureStack(err)
	}
	return sizes, nil
}

// DeleteChunk removes a chunk and its generation tag from the shard.  It
// does not check references; see ReclaimChunk.
func (s *Shard) DeleteChunk(ctx context.Context, id ID) error {
	return blobsql.WithTx(ctx, s.db, func(tx *blobsql.Tx) error {
		return s.deleteChunkTx(tx, id)
	})
}

func (s *Shard) deleteChunkTx(tx *blobsql.Tx, id ID) error {
	hexID := id.HexString()
	if _, err := tx.Exec(tx.Rebind(`DELETE FROM chunks WHERE chunk_id = ?`), hexID); err != nil {
		return errors.Wrapf(err, "delete chunk on shard %d", s.id)
	}
	if _, err := tx.Exec(tx.Rebind(`DELETE FROM chunk_generations WHERE chunk_id = ?`), hexID); err != nil {
		return errors.Wrapf(err, "delete generation tag on shard %d", s.id)
	}
	return nil
}

// StaleChunks returns the IDs of chunks whose last seen generation is below
// threshold.  Chunks with no tag count as generation 0.
func (s *Shard) StaleChunks(ctx context.Context, threshold int64) (_ []ID, retErr error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(`
	SELECT c.chunk_id
	FROM chunks c
	LEFT JOIN chunk_generations g ON c.chunk_id = g.chunk_id
	WHERE COALESCE(g.last_seen_generation, 0) < ?`), threshold)
	if err != nil {
		return nil, errors.Wrapf(err, "list stale chunks on shard %d", s.id)
	}
	defer func() {
		retErr = multierr.Append(retErr, errors.EnsureStack(rows.Close()))
	}()
	var ids []ID
	for rows.Next() {
		var hexID string
		if err := rows.Scan(&hexID); err != nil {
			return nil, errors.EnsureStack(err)
		}
		id, err := IDFromHex(hexID)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed chunk id on shard %d", s.id)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.EnsureStack(err)
	}
	return ids, nil
}

// ReclaimChunk deletes a chunk after re-verifying, inside the deleting
// transaction, that no blob key references it.  It returns false without
// deleting when a reference exists; the caller reports that as a lost race.
func (s *Shard) ReclaimChunk(ctx context.Context, id ID) (deleted bool, _ error) {
	err := blobsql.WithTx(ctx, s.db, func(tx *blobsql.Tx) error {
		var refs int
		if err := tx.Get(&refs, tx.Rebind(`SELECT COUNT(*) FROM blob_keys WHERE chunk_id = ?`), id.HexString()); err != nil {
			return errors.Wrapf(err, "re-check references on shard %d", s.id)
		}
		if refs > 0 {
			return nil
		}
		if err := s.deleteChunkTx(tx, id); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}
