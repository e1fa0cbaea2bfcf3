package sqlblob

import (
	"bytes"
	"context"
	"database/sql"
	"hash/fnv"

	"github.com/sqlblob/sqlblob/src/internal/blobsql"
	"github.com/sqlblob/sqlblob/src/internal/errors"
)

// DefaultChunkSize is the fixed size blobs are split into before storage.
const DefaultChunkSize = 1 << 22 // 4 MiB

// ErrChunkNotExists is returned when a key references a chunk that is not
// present on its shard.
var ErrChunkNotExists = errors.New("chunk does not exist")

// ErrKeyNotExists is returned by GetKey for an unknown key.
var ErrKeyNotExists = errors.New("key does not exist")

// Store is a sharded, content-addressed blob store.  Logical keys map to an
// ordered list of fixed-size chunks; identical chunks written under
// different keys are stored once per shard.
type Store struct {
	shards    []*Shard
	chunkSize int
}

// StoreOption configures a Store.
type StoreOption func(s *Store)

// WithChunkSize sets the fixed chunk size used when splitting blobs.
func WithChunkSize(size int) StoreOption {
	return func(s *Store) {
		s.chunkSize = size
	}
}

// NewStore returns a Store over the given shards.
func NewStore(shards []*Shard, opts ...StoreOption) *Store {
	s := &Store{
		shards:    shards,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shards returns the store's shards, ordered by shard index.
func (s *Store) Shards() []*Shard { return s.shards }

// Close closes every shard.
func (s *Store) Close() error {
	var retErr error
	for _, shard := range s.shards {
		if err := shard.Close(); retErr == nil {
			retErr = err
		}
	}
	return retErr
}

// ShardFor returns the shard a key lives on.  Keys hash to shards with
// fnv-1a; the assignment is stable for a given shard count.
func (s *Store) ShardFor(key string) *Shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[int(h.Sum32())%len(s.shards)]
}

// writeGeneration is the generation new chunks are pre-tagged with: one past
// the highest generation visible across all shards, which is exactly the
// value the mark allocator would choose right now.  Tagging at write time is
// what keeps a chunk written during a concurrent sweep out of reach of any
// reclaim with retention >= 1.
func (s *Store) writeGeneration(ctx context.Context) (int64, error) {
	var max int64
	for _, shard := range s.shards {
		m, err := shard.ReadMaxGeneration(ctx)
		if err != nil {
			return 0, err
		}
		if m > max {
			max = m
		}
	}
	return max + 1, nil
}

// PutKey writes data under key, replacing any previous mapping.  The data is
// split into fixed-size chunks; chunks already present on the shard are not
// rewritten, and every referenced chunk is pre-tagged with the current write
// generation.
func (s *Store) PutKey(ctx context.Context, key string, data []byte) error {
	gen, err := s.writeGeneration(ctx)
	if err != nil {
		return err
	}
	shard := s.ShardFor(key)
	chunks := splitChunks(data, s.chunkSize)
	return blobsql.WithTx(ctx, shard.db, func(tx *blobsql.Tx) error {
		if _, err := tx.Exec(tx.Rebind(`DELETE FROM blob_keys WHERE name = ?`), key); err != nil {
			return errors.Wrapf(err, "clear old refs for key %q", key)
		}
		for i, chunk := range chunks {
			id := Hash(chunk)
			if err := shard.insertChunkTx(tx, id, chunk); err != nil {
				return err
			}
			if _, err := tx.Exec(tx.Rebind(`
			INSERT INTO blob_keys (name, idx, chunk_id) VALUES (?, ?, ?)`),
				key, i, id.HexString()); err != nil {
				return errors.Wrapf(err, "insert ref %d for key %q", i, key)
			}
			if err := shard.upsertGenerationTagTx(tx, id, gen); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetKey reads the blob stored under key.
func (s *Store) GetKey(ctx context.Context, key string) ([]byte, error) {
	shard := s.ShardFor(key)
	it, err := shard.readKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, errors.Wrapf(ErrKeyNotExists, "key %q", key)
	}
	buf := &bytes.Buffer{}
	for _, id := range it.Chunks {
		var payload []byte
		if err := shard.db.GetContext(ctx, &payload, shard.db.Rebind(`
		SELECT payload FROM chunks WHERE chunk_id = ?`), id.HexString()); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errors.Wrapf(ErrChunkNotExists, "chunk %s for key %q", id.HexString(), key)
			}
			return nil, errors.EnsureStack(err)
		}
		buf.Write(payload)
	}
	return buf.Bytes(), nil
}

// DeleteKey removes the key's mapping.  The chunks themselves stay on the
// shard until the collector proves them unreachable and reclaims them.
func (s *Store) DeleteKey(ctx context.Context, key string) error {
	shard := s.ShardFor(key)
	_, err := shard.db.ExecContext(ctx, shard.db.Rebind(`DELETE FROM blob_keys WHERE name = ?`), key)
	return errors.Wrapf(err, "delete key %q", key)
}

// readKey resolves one key's chunk list, or nil if the key does not exist.
func (s *Shard) readKey(ctx context.Context, key string) (*KeyRef, error) {
	var hexIDs []string
	if err := s.db.SelectContext(ctx, &hexIDs, s.db.Rebind(`
	SELECT chunk_id FROM blob_keys WHERE name = ? ORDER BY idx`), key); err != nil {
		return nil, errors.Wrapf(err, "read key %q", key)
	}
	if len(hexIDs) == 0 {
		return nil, nil
	}
	ref := &KeyRef{Key: key}
	for _, h := range hexIDs {
		id, err := IDFromHex(h)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed chunk id for key %q", key)
		}
		ref.Chunks = append(ref.Chunks, id)
	}
	return ref, nil
}

func (s *Shard) insertChunkTx(tx *blobsql.Tx, id ID, payload []byte) error {
	var q string
	switch s.dialect {
	case dialectMySQL:
		q = `INSERT IGNORE INTO chunks (chunk_id, size, payload) VALUES (?, ?, ?)`
	default:
		q = `INSERT INTO chunks (chunk_id, size, payload) VALUES (?, ?, ?) ON CONFLICT (chunk_id) DO NOTHING`
	}
	_, err := tx.Exec(tx.Rebind(q), id.HexString(), len(payload), payload)
	return errors.Wrapf(err, "insert chunk on shard %d", s.id)
}

// splitChunks cuts data into fixed-size pieces.  The final chunk may be
// short; a zero-length blob has no chunks.
func splitChunks(data []byte, size int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
