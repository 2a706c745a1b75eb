package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/seanblong/notesearch/pkg/models"
)

func TestMemoryStore_Chunks(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	chunks := []struct {
		c    models.Chunk
		vec  []float32
		hash string
	}{
		{models.Chunk{ID: "b1", DocumentID: "b.md", Index: 1, Text: "b one"}, []float32{0, 1}, "hb1"},
		{models.Chunk{ID: "b0", DocumentID: "b.md", Index: 0, Text: "b zero"}, []float32{1, 0}, "hb0"},
		{models.Chunk{ID: "a0", DocumentID: "a.md", Index: 0, Text: "a zero"}, []float32{1, 1}, "ha0"},
		{models.Chunk{ID: "a1", DocumentID: "a.md", Index: 1, Text: "no vector"}, nil, "ha1"},
	}
	for _, tc := range chunks {
		if err := m.UpsertChunk(ctx, tc.c, tc.vec, tc.hash); err != nil {
			t.Fatalf("UpsertChunk: %v", err)
		}
	}

	got, err := m.LoadChunks(ctx)
	if err != nil {
		t.Fatalf("LoadChunks: %v", err)
	}
	want := []string{"a0", "b0", "b1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].Chunk.ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].Chunk.ID)
		}
	}

	meta, ok, err := m.GetChunkMeta(ctx, "b.md", 1)
	if err != nil || !ok {
		t.Fatalf("GetChunkMeta: ok=%v err=%v", ok, err)
	}
	if meta.ContentHash != "hb1" || !meta.HasEmbedding {
		t.Errorf("unexpected meta %+v", meta)
	}
	if _, ok, _ := m.GetChunkMeta(ctx, "missing.md", 0); ok {
		t.Error("expected missing chunk")
	}

	// nil vector keeps the stored embedding
	if err := m.UpsertChunk(ctx, models.Chunk{ID: "b1", DocumentID: "b.md", Index: 1, Text: "b one v2"}, nil, "hb1v2"); err != nil {
		t.Fatal(err)
	}
	meta, _, _ = m.GetChunkMeta(ctx, "b.md", 1)
	if !meta.HasEmbedding || meta.ContentHash != "hb1v2" {
		t.Errorf("embedding should survive nil update: %+v", meta)
	}

	n, err := m.DeleteChunksFrom(ctx, "b.md", 1)
	if err != nil || n != 1 {
		t.Errorf("DeleteChunksFrom: n=%d err=%v", n, err)
	}
}

func TestMemoryStore_Documents(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	for _, id := range []string{"z.md", "a.md"} {
		doc := models.Document{ID: id, Text: "body", Metadata: models.DocumentMetadata{Path: "/notes/" + id, Tags: []string{"go"}}}
		if err := m.UpsertDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := m.GetDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID != "a.md" || docs[1].ID != "z.md" {
		t.Fatalf("unexpected documents %+v", docs)
	}
	if docs[0].Text != "" {
		t.Error("document text should not be retained")
	}
}

func TestMemoryStore_CacheEntries(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	entries := []models.CacheEntry{
		{Key: "query:a", Value: json.RawMessage(`[]`), CreatedAt: now.Add(-time.Hour), TTL: 24 * time.Hour},
		{Key: "synthesis:b", Value: json.RawMessage(`{}`), CreatedAt: now.Add(-2 * time.Hour), TTL: time.Hour},
	}
	if err := m.SaveCacheEntries(ctx, entries); err != nil {
		t.Fatal(err)
	}
	got, err := m.LoadCacheEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != "query:a" {
		t.Errorf("expected only unexpired entry, got %+v", got)
	}
}
