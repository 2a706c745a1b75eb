package ai

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func TestNewVertexAIClient_NilConfig(t *testing.T) {
	_, err := NewVertexAIClient(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected error for nil config")
	}
	if !strings.Contains(err.Error(), "config cannot be nil") {
		t.Errorf("Expected 'config cannot be nil', got %q", err.Error())
	}
}

func TestVertexAIClient_Dim(t *testing.T) {
	tests := []struct {
		name string
		dim  int
	}{
		{"standard dimension", 768},
		{"custom dimension", 1024},
		{"zero dimension", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &VertexAIClient{config: &ClientConfig{Dim: tt.dim}}
			if client.Dim() != tt.dim {
				t.Errorf("Expected Dim() to return %d, got %d", tt.dim, client.Dim())
			}
		})
	}
}

func TestVertexAIClient_EmbedWithNilClient(t *testing.T) {
	client := &VertexAIClient{
		config: &ClientConfig{EmbedModel: "text-embedding-005", Dim: 768},
	}

	_, err := client.Embed(context.Background(), "test text")
	if err == nil {
		t.Fatal("Expected error when calling Embed() with nil client")
	}
	if !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("Expected 'not initialized' error, got %q", err.Error())
	}
}

func TestVertexAIClient_ScoreWithNilClient(t *testing.T) {
	client := &VertexAIClient{
		config: &ClientConfig{ScoreModel: "gemini-2.0-flash", Dim: 768},
	}

	_, err := client.Score(context.Background(), "query", "passage")
	if err == nil {
		t.Fatal("Expected error when calling Score() with nil client")
	}
}

func TestVertexAIClient_ConcurrentConfigAccess(t *testing.T) {
	client := &VertexAIClient{config: &ClientConfig{Dim: 512}}

	const numGoroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if client.Dim() != 512 {
				t.Errorf("Expected Dim 512, got %d", client.Dim())
			}
		}()
	}
	wg.Wait()
}
