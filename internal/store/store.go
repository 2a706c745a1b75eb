package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/seanblong/notesearch/pkg/models"
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore persists documents and their embedded chunks.
type ChunkStore interface {
	Migrate(ctx context.Context, dim int) error
	UpsertDocument(ctx context.Context, doc models.Document) error
	UpsertChunk(ctx context.Context, c models.Chunk, vec []float32, contentHash string) error
	GetChunkMeta(ctx context.Context, documentID string, index int) (ChunkMeta, bool, error)
	DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) (int64, error)
	LoadChunks(ctx context.Context) ([]models.IndexedChunk, error)
	GetDocuments(ctx context.Context) ([]models.Document, error)
}

// CacheStore persists cache entries across restarts.
type CacheStore interface {
	SaveCacheEntries(ctx context.Context, entries []models.CacheEntry) error
	LoadCacheEntries(ctx context.Context) ([]models.CacheEntry, error)
}

// ChunkMeta holds metadata about a stored chunk.
type ChunkMeta struct {
	ContentHash  string
	HasEmbedding bool
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
  id          TEXT PRIMARY KEY,
  path        TEXT NOT NULL,
  size        BIGINT NOT NULL DEFAULT 0,
  modified_at TIMESTAMP WITH TIME ZONE,
  tags        TEXT[] NOT NULL DEFAULT '{}',
  indexed_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
  id           TEXT PRIMARY KEY,
  document_id  TEXT NOT NULL,
  chunk_index  INT NOT NULL,
  heading      TEXT NOT NULL DEFAULT '',
  content      TEXT NOT NULL,
  token_count  INT NOT NULL DEFAULT 0,
  embedding    vector(%d),
  content_hash TEXT,
  created_at   TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS chunks_doc_index_uidx
  ON chunks (document_id, chunk_index);

CREATE INDEX IF NOT EXISTS chunks_hash_idx
  ON chunks (content_hash);

CREATE TABLE IF NOT EXISTS cache_entries (
  key        TEXT PRIMARY KEY,
  value      JSONB NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE NOT NULL,
  ttl_ms     BIGINT NOT NULL
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// UpsertDocument inserts or updates document metadata.
func (s *Store) UpsertDocument(ctx context.Context, doc models.Document) error {
	const q = `
		INSERT INTO documents (id, path, size, modified_at, tags, indexed_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id) DO UPDATE SET
			path        = EXCLUDED.path,
			size        = EXCLUDED.size,
			modified_at = EXCLUDED.modified_at,
			tags        = EXCLUDED.tags,
			indexed_at  = now();`
	tags := doc.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx, q, doc.ID, doc.Metadata.Path, doc.Metadata.Size, doc.Metadata.ModTime, tags)
	return err
}

// UpsertChunk inserts or updates a chunk. A nil vec keeps the stored
// embedding.
func (s *Store) UpsertChunk(ctx context.Context, c models.Chunk, vec []float32, contentHash string) error {
	var ev any
	if vec != nil {
		ev = pgvector.NewVector(vec)
	} else {
		ev = (*pgvector.Vector)(nil)
	}

	const q = `
		INSERT INTO chunks (
			id, document_id, chunk_index, heading, content, token_count,
			embedding, content_hash, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		ON CONFLICT (document_id, chunk_index) DO UPDATE SET
			id           = EXCLUDED.id,
			heading      = EXCLUDED.heading,
			content      = EXCLUDED.content,
			token_count  = EXCLUDED.token_count,
			content_hash = EXCLUDED.content_hash,
			embedding    = COALESCE(EXCLUDED.embedding, chunks.embedding),
			created_at   = chunks.created_at;`

	_, err := s.pool.Exec(ctx, q,
		c.ID, c.DocumentID, c.Index, c.Heading, c.Text, c.TokenCount, ev, contentHash,
	)
	return err
}

// GetChunkMeta retrieves metadata for a chunk by document and position.
func (s *Store) GetChunkMeta(ctx context.Context, documentID string, index int) (ChunkMeta, bool, error) {
	const q = `
      SELECT COALESCE(content_hash, ''),
             embedding IS NOT NULL
      FROM chunks
      WHERE document_id = $1 AND chunk_index = $2
      LIMIT 1`
	var m ChunkMeta
	err := s.pool.QueryRow(ctx, q, documentID, index).Scan(&m.ContentHash, &m.HasEmbedding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChunkMeta{}, false, nil
		}
		return ChunkMeta{}, false, err
	}
	return m, true, nil
}

// DeleteChunksFrom removes chunks of a document at or after fromIndex, left
// over when a note shrank.
func (s *Store) DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1 AND chunk_index >= $2`, documentID, fromIndex)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LoadChunks returns every embedded chunk ordered by document and position.
func (s *Store) LoadChunks(ctx context.Context) ([]models.IndexedChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, heading, content, token_count, embedding
		FROM chunks
		WHERE embedding IS NOT NULL
		ORDER BY document_id, chunk_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IndexedChunk
	for rows.Next() {
		var (
			c models.Chunk
			v pgvector.Vector
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Heading, &c.Text, &c.TokenCount, &v); err != nil {
			return nil, err
		}
		out = append(out, models.IndexedChunk{Chunk: c, Embedding: v.Slice()})
	}
	return out, rows.Err()
}

// GetDocuments returns the metadata of every indexed document.
func (s *Store) GetDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, path, size, modified_at, tags FROM documents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			d   models.Document
			mod *time.Time
		)
		if err := rows.Scan(&d.ID, &d.Metadata.Path, &d.Metadata.Size, &mod, &d.Metadata.Tags); err != nil {
			return nil, err
		}
		if mod != nil {
			d.Metadata.ModTime = *mod
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SaveCacheEntries replaces persisted cache entries with entries.
func (s *Store) SaveCacheEntries(ctx context.Context, entries []models.CacheEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM cache_entries`); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO cache_entries (key, value, created_at, ttl_ms)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value, created_at = EXCLUDED.created_at, ttl_ms = EXCLUDED.ttl_ms`,
			e.Key, []byte(e.Value), e.CreatedAt, e.TTL.Milliseconds())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save cache entries: %w", err)
	}
	return tx.Commit(ctx)
}

// LoadCacheEntries returns persisted entries that have not expired.
func (s *Store) LoadCacheEntries(ctx context.Context) ([]models.CacheEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value, created_at, ttl_ms
		FROM cache_entries
		WHERE created_at + ttl_ms * interval '1 millisecond' >= now()`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CacheEntry
	for rows.Next() {
		var (
			e     models.CacheEntry
			value []byte
			ttlMS int64
		)
		if err := rows.Scan(&e.Key, &value, &e.CreatedAt, &ttlMS); err != nil {
			return nil, err
		}
		e.Value = json.RawMessage(value)
		e.TTL = time.Duration(ttlMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
