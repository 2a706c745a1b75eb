package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seanblong/notesearch/pkg/models"
)

// MemoryStore keeps everything in process memory. It backs the API when no
// database is configured and the indexer tests.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]models.Document
	chunks map[string]map[int]memChunk
	cache  []models.CacheEntry
	now    func() time.Time
}

type memChunk struct {
	chunk models.Chunk
	vec   []float32
	hash  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]models.Document),
		chunks: make(map[string]map[int]memChunk),
		now:    time.Now,
	}
}

func (m *MemoryStore) Migrate(context.Context, int) error { return nil }

func (m *MemoryStore) UpsertDocument(_ context.Context, doc models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.Text = ""
	m.docs[doc.ID] = doc
	return nil
}

func (m *MemoryStore) UpsertChunk(_ context.Context, c models.Chunk, vec []float32, contentHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex, ok := m.chunks[c.DocumentID]
	if !ok {
		byIndex = make(map[int]memChunk)
		m.chunks[c.DocumentID] = byIndex
	}
	if vec == nil {
		vec = byIndex[c.Index].vec
	}
	byIndex[c.Index] = memChunk{chunk: c, vec: append([]float32(nil), vec...), hash: contentHash}
	return nil
}

func (m *MemoryStore) GetChunkMeta(_ context.Context, documentID string, index int) (ChunkMeta, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chunks[documentID][index]
	if !ok {
		return ChunkMeta{}, false, nil
	}
	return ChunkMeta{ContentHash: c.hash, HasEmbedding: c.vec != nil}, true, nil
}

func (m *MemoryStore) DeleteChunksFrom(_ context.Context, documentID string, fromIndex int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for idx := range m.chunks[documentID] {
		if idx >= fromIndex {
			delete(m.chunks[documentID], idx)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LoadChunks(context.Context) ([]models.IndexedChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docIDs := make([]string, 0, len(m.chunks))
	for id := range m.chunks {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	var out []models.IndexedChunk
	for _, id := range docIDs {
		idxs := make([]int, 0, len(m.chunks[id]))
		for i := range m.chunks[id] {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		for _, i := range idxs {
			c := m.chunks[id][i]
			if c.vec == nil {
				continue
			}
			out = append(out, models.IndexedChunk{Chunk: c.chunk, Embedding: c.vec})
		}
	}
	return out, nil
}

func (m *MemoryStore) GetDocuments(context.Context) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveCacheEntries(_ context.Context, entries []models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = append([]models.CacheEntry(nil), entries...)
	return nil
}

func (m *MemoryStore) LoadCacheEntries(context.Context) ([]models.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var out []models.CacheEntry
	for _, e := range m.cache {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

var (
	_ ChunkStore = (*Store)(nil)
	_ CacheStore = (*Store)(nil)
	_ ChunkStore = (*MemoryStore)(nil)
	_ CacheStore = (*MemoryStore)(nil)
)
