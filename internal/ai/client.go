package ai

import (
	"context"
	"errors"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/seanblong/notesearch/internal/textutil"
)

// Embedder maps text to a fixed-length vector. Implementations must be
// deterministic for identical input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// Scorer returns a raw relevance score for a query/passage pair. The scale is
// provider specific and may be unbounded.
type Scorer interface {
	Score(ctx context.Context, query, passage string) (float64, error)
}

// Client provides both embedding and relevance scoring capabilities
type Client interface {
	Embedder
	Scorer
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	ScoreModel string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
	// RateLimit caps provider requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	var (
		c   Client
		err error
	)
	switch config.Provider {
	case ProviderOpenAI:
		c = NewOpenAIClient(config)
	case ProviderVertexAI:
		c, err = NewVertexAIClient(ctx, config)
	case ProviderStub:
		c = NewStubClient(config.Dim)
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
	if err != nil {
		return nil, err
	}
	if config.RateLimit > 0 {
		c = NewRateLimited(c, config.RateLimit, config.Burst)
	}
	return c, nil
}

const defaultStubDim = 256

// StubClient is an offline Client. Embeddings are feature-hashed bags of
// content words, L2 normalized; scores are query term overlap in [0,1].
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = defaultStubDim
	}
	return &StubClient{dim: dim}
}

// Embed implements the embedding functionality
func (s *StubClient) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dim)
	for _, tok := range textutil.Tokenize(text) {
		vec[xxhash.Sum64String(tok)%uint64(s.dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

// Score returns the fraction of distinct query terms present in passage.
func (s *StubClient) Score(_ context.Context, query, passage string) (float64, error) {
	qt := textutil.Tokenize(query)
	if len(qt) == 0 {
		return 0, nil
	}
	present := make(map[string]struct{})
	for _, t := range textutil.Tokenize(passage) {
		present[t] = struct{}{}
	}
	seen := make(map[string]struct{}, len(qt))
	match := 0
	for _, t := range qt {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := present[t]; ok {
			match++
		}
	}
	return float64(match) / float64(len(seen)), nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
