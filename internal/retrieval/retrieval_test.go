package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/notesearch/internal/ai"
	"github.com/seanblong/notesearch/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}
func (failingEmbedder) Dim() int { return 4 }

func embedAll(t *testing.T, e ai.Embedder, texts ...string) []models.IndexedChunk {
	t.Helper()
	out := make([]models.IndexedChunk, len(texts))
	for i, txt := range texts {
		v, err := e.Embed(context.Background(), txt)
		require.NoError(t, err)
		out[i] = models.IndexedChunk{
			Chunk:     models.Chunk{ID: fmt.Sprintf("c%d", i), DocumentID: "doc.md", Index: i, Text: txt},
			Embedding: v,
		}
	}
	return out
}

func TestSearch_Errors(t *testing.T) {
	e := NewEngine(ai.NewStubClient(64))
	_, err := e.Search(context.Background(), "q", nil, 3)
	assert.ErrorIs(t, err, ErrEmptyCorpus)

	chunks := embedAll(t, ai.NewStubClient(64), "one")
	_, err = e.Search(context.Background(), "q", chunks, 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = NewEngine(failingEmbedder{}).Search(context.Background(), "q", chunks, 1)
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.Contains(t, err.Error(), "provider down")
}

type slowEmbedder struct{ failingEmbedder }

func (slowEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embed request: %w", context.DeadlineExceeded)
}

func TestSearch_EmbeddingFailureKeepsCause(t *testing.T) {
	chunks := embedAll(t, ai.NewStubClient(4), "one")
	_, err := NewEngine(slowEmbedder{}).Search(context.Background(), "q", chunks, 1)
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_OrderingAndMembership(t *testing.T) {
	stub := ai.NewStubClient(1024)
	chunks := embedAll(t, stub,
		"Quarterly revenue grew with the new pricing plan.",
		"Profile the hot loop to improve performance and reduce latency.",
		"Gardening notes about tomatoes.",
		"Performance tuning: cache results and measure latency.",
	)
	res, err := NewEngine(stub).Search(context.Background(), "improve performance latency", chunks, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.True(t, sort.SliceIsSorted(res, func(i, j int) bool {
		return res[i].SimilarityScore > res[j].SimilarityScore
	}))
	assert.Equal(t, "c1", res[0].ChunkID)

	ids := map[string]bool{}
	for _, c := range chunks {
		ids[c.Chunk.ID] = true
	}
	for _, r := range res {
		assert.True(t, ids[r.ChunkID])
		assert.Equal(t, r.SimilarityScore, r.FinalScore)
		assert.Nil(t, r.RerankScore)
	}
}

func TestSearch_TopKLargerThanCorpus(t *testing.T) {
	stub := ai.NewStubClient(32)
	chunks := embedAll(t, stub, "alpha", "beta")
	res, err := NewEngine(stub).Search(context.Background(), "alpha", chunks, 10)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestRank_TiesKeepCorpusOrder(t *testing.T) {
	vec := []float32{1, 0}
	chunks := []models.IndexedChunk{
		{Chunk: models.Chunk{ID: "a"}, Embedding: []float32{0, 1}},
		{Chunk: models.Chunk{ID: "b"}, Embedding: []float32{1, 0}},
		{Chunk: models.Chunk{ID: "c"}, Embedding: []float32{2, 0}},
		{Chunk: models.Chunk{ID: "d"}, Embedding: []float32{0, 3}},
	}
	res, err := Rank(vec, chunks, 4)
	require.NoError(t, err)
	got := make([]string, len(res))
	for i, r := range res {
		got[i] = r.ChunkID
	}
	assert.Equal(t, []string{"b", "c", "a", "d"}, got)
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	chunks := []models.IndexedChunk{
		{Chunk: models.Chunk{ID: "a"}, Embedding: []float32{0, 1}},
		{Chunk: models.Chunk{ID: "b"}, Embedding: []float32{1, 0}},
	}
	_, err := Rank([]float32{1, 0}, chunks, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", chunks[0].Chunk.ID)
	assert.Equal(t, []float32{0, 1}, chunks[0].Embedding)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func BenchmarkRank(b *testing.B) {
	stub := ai.NewStubClient(256)
	chunks := make([]models.IndexedChunk, 5000)
	for i := range chunks {
		v, _ := stub.Embed(context.Background(), fmt.Sprintf("note %d about topic %d", i, i%37))
		chunks[i] = models.IndexedChunk{Chunk: models.Chunk{ID: fmt.Sprint(i)}, Embedding: v}
	}
	q, _ := stub.Embed(context.Background(), "topic 12")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Rank(q, chunks, 10)
	}
}
