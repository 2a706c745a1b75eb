// Package rerank blends similarity scores with a second relevance pass.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/seanblong/notesearch/internal/ai"
	"github.com/seanblong/notesearch/pkg/models"
)

// ErrScoring marks a candidate the scorer could not grade. It is logged,
// never returned from Rerank.
var ErrScoring = errors.New("relevance scoring failed")

const defaultConcurrency = 4

// Calibration is a fixed raw-score range used instead of per-batch min/max.
type Calibration struct {
	Min, Max float64
}

type Options struct {
	Concurrency int
	// Calibration, when set with Max > Min, replaces batch normalization.
	Calibration *Calibration
}

type Reranker struct {
	scorer      ai.Scorer
	concurrency int
	calib       *Calibration
}

func New(scorer ai.Scorer, opts Options) *Reranker {
	n := opts.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	c := opts.Calibration
	if c != nil && c.Max <= c.Min {
		log.Warn().Float64("min", c.Min).Float64("max", c.Max).Msg("ignoring degenerate calibration range")
		c = nil
	}
	return &Reranker{scorer: scorer, concurrency: n, calib: c}
}

// Rerank scores every candidate and returns the topK by blended score. A
// candidate whose scoring fails keeps its similarity score as final score.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []models.SearchResult, topK int) []models.SearchResult {
	if len(candidates) == 0 || topK < 1 {
		return []models.SearchResult{}
	}

	raw := make([]float64, len(candidates))
	ok := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			s, err := r.scorer.Score(gctx, query, candidates[i].Chunk.Text)
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrScoring, err)
				log.Warn().Err(err).Str("chunk_id", candidates[i].ChunkID).Msg("rerank fallback to similarity")
				return nil
			}
			raw[i], ok[i] = s, true
			return nil
		})
	}
	_ = g.Wait()

	lo, hi := r.bounds(raw, ok)
	out := make([]models.SearchResult, len(candidates))
	for i, c := range candidates {
		out[i] = c
		if !ok[i] {
			out[i].RerankScore = nil
			out[i].FinalScore = c.SimilarityScore
			continue
		}
		score := raw[i]
		out[i].RerankScore = &score
		out[i].FinalScore = (c.SimilarityScore + normalize(score, lo, hi)) / 2
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })
	if topK < len(out) {
		out = out[:topK]
	}
	return out
}

func (r *Reranker) bounds(raw []float64, ok []bool) (float64, float64) {
	if r.calib != nil {
		return r.calib.Min, r.calib.Max
	}
	lo, hi := 0.0, 0.0
	first := true
	for i, s := range raw {
		if !ok[i] {
			continue
		}
		if first {
			lo, hi, first = s, s, false
			continue
		}
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	return lo, hi
}

// normalize maps s into [0,1] over [lo,hi]; a degenerate range yields 0.5.
func normalize(s, lo, hi float64) float64 {
	if hi <= lo {
		return 0.5
	}
	n := (s - lo) / (hi - lo)
	switch {
	case n < 0:
		return 0
	case n > 1:
		return 1
	}
	return n
}
