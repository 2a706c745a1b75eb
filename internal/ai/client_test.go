package ai

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

// Test Provider constants
func TestProviderConstants(t *testing.T) {
	tests := []struct {
		provider Provider
		expected string
	}{
		{ProviderOpenAI, "openai"},
		{ProviderVertexAI, "vertexai"},
		{ProviderStub, "stub"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			if string(tt.provider) != tt.expected {
				t.Errorf("Provider constant mismatch. Expected: %s, Got: %s", tt.expected, string(tt.provider))
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		config      *ClientConfig
		expectError bool
		errorMsg    string
		clientType  string
	}{
		{
			name:        "nil config",
			config:      nil,
			expectError: true,
			errorMsg:    "client config is required",
		},
		{
			name: "openai provider",
			config: &ClientConfig{
				Provider: ProviderOpenAI,
				APIKey:   "test-key",
				Dim:      512,
			},
			clientType: "*ai.OpenAIClient",
		},
		{
			name: "stub provider",
			config: &ClientConfig{
				Provider: ProviderStub,
				Dim:      256,
			},
			clientType: "*ai.StubClient",
		},
		{
			name: "stub provider with rate limit",
			config: &ClientConfig{
				Provider:  ProviderStub,
				Dim:       64,
				RateLimit: 10,
			},
			clientType: "*ai.RateLimited",
		},
		{
			name: "unsupported provider",
			config: &ClientConfig{
				Provider: Provider("unsupported"),
			},
			expectError: true,
			errorMsg:    "unsupported provider: unsupported",
		},
		{
			name: "empty provider",
			config: &ClientConfig{
				Provider: Provider(""),
			},
			expectError: true,
			errorMsg:    "unsupported provider: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
				if client != nil {
					t.Errorf("Expected nil client when error occurs, got %v", client)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			clientTypeName := "unknown"
			switch client.(type) {
			case *OpenAIClient:
				clientTypeName = "*ai.OpenAIClient"
			case *VertexAIClient:
				clientTypeName = "*ai.VertexAIClient"
			case *StubClient:
				clientTypeName = "*ai.StubClient"
			case *RateLimited:
				clientTypeName = "*ai.RateLimited"
			}
			if clientTypeName != tt.clientType {
				t.Errorf("Expected client type '%s', got '%s'", tt.clientType, clientTypeName)
			}
		})
	}
}

func TestNewStubClient(t *testing.T) {
	tests := []struct {
		name     string
		dim      int
		expected int
	}{
		{"explicit dimension", 512, 512},
		{"small dimension", 16, 16},
		{"zero dimension uses default", 0, defaultStubDim},
		{"negative dimension uses default", -1, defaultStubDim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewStubClient(tt.dim)
			if client.Dim() != tt.expected {
				t.Errorf("Expected Dim() to return %d, got %d", tt.expected, client.Dim())
			}
		})
	}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestStubClient_Embed(t *testing.T) {
	client := NewStubClient(512)
	ctx := context.Background()

	t.Run("unit length", func(t *testing.T) {
		v, err := client.Embed(ctx, "Improve database performance with indexes")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(v) != 512 {
			t.Fatalf("Expected embedding length 512, got %d", len(v))
		}
		if math.Abs(norm(v)-1) > 1e-5 {
			t.Errorf("Expected unit vector, got norm %f", norm(v))
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a, _ := client.Embed(ctx, "caching strategies")
		b, _ := client.Embed(ctx, "caching strategies")
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("Expected identical embeddings, differ at %d", i)
			}
		}
	})

	t.Run("stopwords only yields zero vector", func(t *testing.T) {
		v, err := client.Embed(ctx, "how to do it")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if norm(v) != 0 {
			t.Errorf("Expected zero vector, got norm %f", norm(v))
		}
	})

	t.Run("shared words raise similarity", func(t *testing.T) {
		q, _ := client.Embed(ctx, "how to improve performance")
		near, _ := client.Embed(ctx, "improve performance")
		far, _ := client.Embed(ctx, "quarterly revenue forecast")
		if dot(q, near) <= dot(q, far) {
			t.Errorf("Expected related text to score higher: near=%f far=%f", dot(q, near), dot(q, far))
		}
	})
}

func TestStubClient_Score(t *testing.T) {
	client := NewStubClient(0)
	ctx := context.Background()

	tests := []struct {
		name     string
		query    string
		passage  string
		expected float64
	}{
		{"full overlap", "cache invalidation", "Cache invalidation is hard.", 1},
		{"half overlap", "cache invalidation", "A cache in front of the database.", 0.5},
		{"no overlap", "cache invalidation", "Quarterly revenue grew.", 0},
		{"empty query", "the of", "anything", 0},
		{"duplicate query terms", "cache cache", "cache", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Score(ctx, tt.query, tt.passage)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Score(%q, %q) = %f; expected %f", tt.query, tt.passage, got, tt.expected)
			}
		})
	}
}

// countingEmbedder records calls so memoization can be observed.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text))}, nil
}

func (c *countingEmbedder) Dim() int { return 1 }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 2)
	if err != nil {
		t.Fatalf("NewCachedEmbedder failed: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cached.Embed(ctx, "same text"); err != nil {
			t.Fatalf("Embed failed: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("Expected 1 provider call, got %d", inner.calls)
	}
	if cached.Dim() != 1 {
		t.Errorf("Expected Dim 1, got %d", cached.Dim())
	}

	failing := &countingEmbedder{err: errors.New("provider down")}
	cachedFailing, _ := NewCachedEmbedder(failing, 2)
	for i := 0; i < 2; i++ {
		if _, err := cachedFailing.Embed(ctx, "x"); err == nil {
			t.Fatal("Expected error from failing provider")
		}
	}
	if failing.calls != 2 {
		t.Errorf("Expected errors not to be memoized, got %d calls", failing.calls)
	}
}

func TestRateLimited(t *testing.T) {
	limited := NewRateLimited(NewStubClient(8), 1000, 1)
	ctx := context.Background()

	if _, err := limited.Embed(ctx, "hello world"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if _, err := limited.Score(ctx, "hello", "hello world"); err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if limited.Dim() != 8 {
		t.Errorf("Expected Dim 8, got %d", limited.Dim())
	}

	// A cancelled context must not wait for a token.
	slow := NewRateLimited(NewStubClient(8), 0.001, 1)
	_, _ = slow.Embed(ctx, "drain the burst")
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := slow.Embed(cctx, "blocked"); err == nil {
		t.Error("Expected rate limit error for expiring context")
	}
}

func TestClientInterfaceCompliance(t *testing.T) {
	var _ Client = &StubClient{}
	var _ Client = &OpenAIClient{}
	var _ Client = &VertexAIClient{}
	var _ Client = &RateLimited{}
	var _ Embedder = &CachedEmbedder{}
}

func BenchmarkStubClient_Embed(b *testing.B) {
	client := NewStubClient(512)
	ctx := context.Background()
	text := "This is a test text for embedding benchmark with several content words"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = client.Embed(ctx, text)
	}
}
