// Package corpus holds the process-wide index of embedded chunks shared by
// all sessions.
package corpus

import (
	"sort"
	"sync"

	"github.com/seanblong/notesearch/pkg/models"
)

// Index is safe for concurrent readers and writers. Readers receive an
// immutable snapshot; writers replace whole documents.
type Index struct {
	mu     sync.RWMutex
	byDoc  map[string][]models.IndexedChunk
	order  []string
	frozen []models.IndexedChunk
	dirty  bool
}

func New() *Index {
	return &Index{byDoc: make(map[string][]models.IndexedChunk)}
}

// Put replaces every chunk of the given document.
func (ix *Index) Put(documentID string, chunks []models.IndexedChunk) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.byDoc[documentID]; !ok {
		ix.order = append(ix.order, documentID)
	}
	cp := make([]models.IndexedChunk, len(chunks))
	copy(cp, chunks)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Chunk.Index < cp[j].Chunk.Index })
	ix.byDoc[documentID] = cp
	ix.dirty = true
}

// Add appends chunks grouped by their document ids.
func (ix *Index) Add(chunks ...models.IndexedChunk) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, c := range chunks {
		id := c.Chunk.DocumentID
		if _, ok := ix.byDoc[id]; !ok {
			ix.order = append(ix.order, id)
		}
		ix.byDoc[id] = append(ix.byDoc[id], c)
	}
	ix.dirty = true
}

// Remove drops a document and its chunks.
func (ix *Index) Remove(documentID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.byDoc[documentID]; !ok {
		return
	}
	delete(ix.byDoc, documentID)
	for i, id := range ix.order {
		if id == documentID {
			ix.order = append(ix.order[:i], ix.order[i+1:]...)
			break
		}
	}
	ix.dirty = true
}

// Snapshot returns all chunks in document insertion order, then chunk
// index order. The returned slice must not be modified.
func (ix *Index) Snapshot() []models.IndexedChunk {
	ix.mu.RLock()
	if !ix.dirty {
		s := ix.frozen
		ix.mu.RUnlock()
		return s
	}
	ix.mu.RUnlock()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.dirty {
		var all []models.IndexedChunk
		for _, id := range ix.order {
			all = append(all, ix.byDoc[id]...)
		}
		ix.frozen = all
		ix.dirty = false
	}
	return ix.frozen
}

// Len returns the number of chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, cs := range ix.byDoc {
		n += len(cs)
	}
	return n
}

// Documents returns document ids in insertion order.
func (ix *Index) Documents() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, len(ix.order))
	copy(out, ix.order)
	return out
}
