package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/notesearch/internal/ai"
	"github.com/seanblong/notesearch/internal/cache"
	"github.com/seanblong/notesearch/internal/conversation"
	"github.com/seanblong/notesearch/internal/insight"
	"github.com/seanblong/notesearch/internal/rerank"
	"github.com/seanblong/notesearch/internal/retrieval"
	"github.com/seanblong/notesearch/internal/synthesis"
	"github.com/seanblong/notesearch/internal/textutil"
	"github.com/seanblong/notesearch/internal/topic"
	"github.com/seanblong/notesearch/pkg/models"
)

var ErrEmptyQuery = errors.New("query is empty")

const (
	DefaultTopK            = 5
	DefaultCandidateFactor = 2
	maxInterestKeywords    = 5
)

// Corpus supplies the embedded chunks to search.
type Corpus interface {
	Snapshot() []models.IndexedChunk
}

type Request struct {
	Query     string
	SessionID string
	// TopK of zero selects the service default.
	TopK int
}

// Config tunes the pipeline. Zero values select defaults.
type Config struct {
	TopK            int
	CandidateFactor int

	RerankEnabled     bool
	RerankConcurrency int
	Calibration       *rerank.Calibration

	TopicThreshold float64
	Cache          cache.Options
	MaxSessions    int
	Conversation   conversation.Options
}

type Service struct {
	Corpus     Corpus
	Engine     *retrieval.Engine
	Reranker   *rerank.Reranker
	Classifier *topic.Classifier
	Extractor  *insight.Extractor
	Generator  *synthesis.Generator
	Cache      *cache.Layer
	Sessions   *conversation.Manager

	TopK            int
	CandidateFactor int
}

// answer is the session independent part of a response, stored in the
// synthesis cache.
type answer struct {
	ResponseText string                `json:"response_text"`
	Sources      []models.Source       `json:"sources"`
	Topic        topic.Topic           `json:"topic"`
	Results      []models.SearchResult `json:"results"`
	Degraded     bool                  `json:"degraded,omitempty"`
}

// NewService wires the pipeline around a single AI client. Query
// embeddings are memoized so search and classification share one call.
func NewService(ctx context.Context, client ai.Client, corpus Corpus, cfg Config) (*Service, error) {
	if client == nil {
		return nil, errors.New("ai client is required")
	}
	if corpus == nil {
		return nil, errors.New("corpus is required")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.CandidateFactor <= 0 {
		cfg.CandidateFactor = DefaultCandidateFactor
	}

	embedder, err := ai.NewCachedEmbedder(client, 0)
	if err != nil {
		return nil, fmt.Errorf("embedding memo: %w", err)
	}
	classifier, err := topic.NewClassifier(ctx, embedder, nil, cfg.TopicThreshold)
	if err != nil {
		return nil, fmt.Errorf("topic classifier: %w", err)
	}
	layer, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}
	sessions, err := conversation.NewManager(cfg.MaxSessions, cfg.Conversation)
	if err != nil {
		return nil, err
	}
	extractor := insight.NewExtractor(nil, nil)
	generator, err := synthesis.New(extractor.Categories(), nil)
	if err != nil {
		return nil, err
	}

	s := &Service{
		Corpus:          corpus,
		Engine:          retrieval.NewEngine(embedder),
		Classifier:      classifier,
		Extractor:       extractor,
		Generator:       generator,
		Cache:           layer,
		Sessions:        sessions,
		TopK:            cfg.TopK,
		CandidateFactor: cfg.CandidateFactor,
	}
	if cfg.RerankEnabled {
		s.Reranker = rerank.New(client, rerank.Options{
			Concurrency: cfg.RerankConcurrency,
			Calibration: cfg.Calibration,
		})
	}
	return s, nil
}

// Ask answers a query within a conversation session, creating the session
// when SessionID is empty or unknown.
func (s *Service) Ask(ctx context.Context, req Request) (models.SynthesisResult, error) {
	start := time.Now()
	query := textutil.CollapseSpace(req.Query)
	if query == "" {
		return models.SynthesisResult{}, ErrEmptyQuery
	}
	topK, err := s.topK(req.TopK)
	if err != nil {
		return models.SynthesisResult{}, err
	}

	sess, created := s.Sessions.GetOrCreate(req.SessionID)
	resolved, selected := sess.Resolve(query)
	if selected {
		log.Debug().Str("session", sess.ID).Str("selection", query).Str("query", resolved).Msg("resolved follow-up selection")
	}

	key := cache.KeyFor(cache.NamespaceSynthesis, s.cacheContent(resolved, topK))
	ans, hit, err := cache.GetOrComputeIf(ctx, s.Cache, key, 0, func(ctx context.Context) (answer, error) {
		return s.compute(ctx, resolved, topK)
	}, func(a answer) bool { return !a.Degraded })
	if err != nil {
		return models.SynthesisResult{SessionID: sess.ID}, err
	}

	flow := sess.Observe(conversation.Observation{
		Query:    query,
		Resolved: resolved,
		Topic:    ans.Topic,
		Results:  ans.Results,
		Keywords: keywords(resolved),
	})
	followUps := s.Generator.FollowUps(ans.Topic, sess.Interests())
	sess.SetSuggestions(followUps)

	log.Info().
		Str("session", sess.ID).
		Bool("new_session", created).
		Str("topic", string(ans.Topic)).
		Str("flow", string(flow)).
		Bool("cache_hit", hit).
		Int("sources", len(ans.Sources)).
		Dur("took", time.Since(start)).
		Msg("ask")

	return models.SynthesisResult{
		SessionID:       sess.ID,
		ResponseText:    ans.ResponseText,
		Sources:         ans.Sources,
		Topic:           string(ans.Topic),
		FollowUps:       followUps,
		Flow:            string(flow),
		ServedFromCache: hit,
		Degraded:        ans.Degraded,
	}, nil
}

// Search returns ranked results without synthesis or session tracking.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	query = textutil.CollapseSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	k, err := s.topK(topK)
	if err != nil {
		return nil, err
	}
	results, _, err := s.retrieve(ctx, query, k)
	return results, err
}

// Reset clears a session's conversation state. Caches and the corpus are
// shared and stay intact.
func (s *Service) Reset(sessionID string) bool {
	return s.Sessions.Reset(sessionID)
}

func (s *Service) compute(ctx context.Context, query string, topK int) (answer, error) {
	results, _, err := s.retrieve(ctx, query, topK)
	if err != nil {
		return answer{}, err
	}

	t := s.Classifier.Classify(ctx, query)
	if t == topic.General && len(results) > 0 {
		t = s.Classifier.Classify(ctx, results[0].Chunk.Text)
	}
	insights := s.Extractor.Extract(results, t)
	text := s.Generator.Synthesize(query, t, insights, results)

	return answer{
		ResponseText: text,
		Sources:      synthesis.Sources(results),
		Topic:        t,
		Results:      results,
		Degraded:     s.Reranker != nil && degraded(results),
	}, nil
}

// retrieve runs search and re-ranking through the query cache.
func (s *Service) retrieve(ctx context.Context, query string, topK int) ([]models.SearchResult, bool, error) {
	chunks := s.Corpus.Snapshot()
	if len(chunks) == 0 {
		return nil, false, retrieval.ErrEmptyCorpus
	}
	key := cache.KeyFor(cache.NamespaceQuery, s.cacheContent(query, topK))
	// Results that fell back to similarity order are served but not cached,
	// so the next ask gets another chance at a full re-rank.
	keep := func(results []models.SearchResult) bool {
		return s.Reranker == nil || !degraded(results)
	}
	return cache.GetOrComputeIf(ctx, s.Cache, key, 0, func(ctx context.Context) ([]models.SearchResult, error) {
		candidates, err := s.Engine.Search(ctx, query, chunks, topK*s.CandidateFactor)
		if err != nil {
			return nil, err
		}
		if s.Reranker == nil {
			if len(candidates) > topK {
				candidates = candidates[:topK]
			}
			return candidates, nil
		}
		return s.Reranker.Rerank(ctx, query, candidates, topK), nil
	}, keep)
}

func (s *Service) topK(k int) (int, error) {
	switch {
	case k == 0:
		return s.TopK, nil
	case k < 0:
		return 0, retrieval.ErrInvalidTopK
	}
	return k, nil
}

// cacheContent is the text a cache key is derived from. A non-default
// result count is part of the key.
func (s *Service) cacheContent(query string, topK int) string {
	if topK == s.TopK {
		return query
	}
	return fmt.Sprintf("%s top %d", query, topK)
}

func degraded(results []models.SearchResult) bool {
	for _, r := range results {
		if r.RerankScore == nil {
			return true
		}
	}
	return false
}

// keywords picks the distinct content words of a query worth remembering
// as interests.
func keywords(query string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range textutil.Tokenize(query) {
		if len(tok) < 3 || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, strings.ToLower(tok))
		if len(out) == maxInterestKeywords {
			break
		}
	}
	return out
}
