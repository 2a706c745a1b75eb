// Package retrieval ranks embedded chunks by cosine similarity to a query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/notesearch/internal/ai"
	"github.com/seanblong/notesearch/pkg/models"
)

var (
	ErrEmptyCorpus      = errors.New("corpus is empty")
	ErrEmbeddingFailure = errors.New("query embedding failed")
	ErrInvalidTopK      = errors.New("top_k must be at least 1")
)

// Engine holds no per-query state and may be shared.
type Engine struct {
	embedder ai.Embedder
}

func NewEngine(e ai.Embedder) *Engine {
	return &Engine{embedder: e}
}

// Search embeds query and returns the topK most similar chunks. Inputs are
// never modified.
func (e *Engine) Search(ctx context.Context, query string, chunks []models.IndexedChunk, topK int) ([]models.SearchResult, error) {
	if topK < 1 {
		return nil, ErrInvalidTopK
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		log.Error().Err(err).Msg("embed query")
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}
	return Rank(vec, chunks, topK)
}

// Rank scores chunks against an existing query vector. Ties keep corpus
// order.
func Rank(vec []float32, chunks []models.IndexedChunk, topK int) ([]models.SearchResult, error) {
	if topK < 1 {
		return nil, ErrInvalidTopK
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}

	type scored struct {
		pos   int
		score float64
	}
	all := make([]scored, len(chunks))
	for i := range chunks {
		all[i] = scored{pos: i, score: Cosine(vec, chunks[i].Embedding)}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	if topK > len(all) {
		topK = len(all)
	}
	out := make([]models.SearchResult, topK)
	for i := 0; i < topK; i++ {
		c := chunks[all[i].pos].Chunk
		out[i] = models.SearchResult{
			ChunkID:         c.ID,
			Chunk:           c,
			SimilarityScore: all[i].score,
			FinalScore:      all[i].score,
		}
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b. Mismatched lengths and
// zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
