package topic

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/notesearch/internal/ai"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockEmbedder embeds through EmbedFunc.
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.EmbedFunc(ctx, text)
}
func (m *MockEmbedder) Dim() int { return 2 }

func newDefault(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(context.Background(), ai.NewStubClient(1024), nil, 0)
	require.NoError(t, err)
	return c
}

func TestClassify_DefaultTable(t *testing.T) {
	c := newDefault(t)
	tests := []struct {
		text string
		want Topic
	}{
		{"how to improve performance", Performance},
		{"training a neural network", MachineLearning},
		{"python generics and types", ProgrammingLanguage},
		{"pricing strategy for revenue", Business},
		{"deploy with docker on kubernetes", GeneralTechnology},
		{"a recipe for banana bread", General},
		{"", General},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(context.Background(), tt.text))
		})
	}
}

func TestClassify_Stable(t *testing.T) {
	c := newDefault(t)
	first := c.Classify(context.Background(), "reduce latency with caching")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Classify(context.Background(), "reduce latency with caching"))
	}
}

func TestClassify_TiesUseRegistrationOrder(t *testing.T) {
	e := &MockEmbedder{EmbedFunc: func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}}
	table := []Entry{{Business, []string{"x"}}, {Performance, []string{"y"}}}
	c, err := NewClassifier(context.Background(), e, table, 0.5)
	require.NoError(t, err)
	assert.Equal(t, Business, c.Classify(context.Background(), "anything"))
}

func TestClassify_BelowThresholdIsGeneral(t *testing.T) {
	vecs := map[string][]float32{
		"exemplar": {1, 0},
		"query":    {0.6, 0.8},
	}
	e := &MockEmbedder{EmbedFunc: func(_ context.Context, s string) ([]float32, error) { return vecs[s], nil }}
	table := []Entry{{Performance, []string{"exemplar"}}}

	c, err := NewClassifier(context.Background(), e, table, 0.7)
	require.NoError(t, err)
	assert.Equal(t, General, c.Classify(context.Background(), "query"))

	c, err = NewClassifier(context.Background(), e, table, 0.5)
	require.NoError(t, err)
	assert.Equal(t, Performance, c.Classify(context.Background(), "query"))
}

func TestClassify_EmbeddingFailureIsGeneral(t *testing.T) {
	fail := false
	e := &MockEmbedder{EmbedFunc: func(context.Context, string) ([]float32, error) {
		if fail {
			return nil, errors.New("down")
		}
		return []float32{1, 0}, nil
	}}
	c, err := NewClassifier(context.Background(), e, []Entry{{Business, []string{"x"}}}, 0.1)
	require.NoError(t, err)
	fail = true
	assert.Equal(t, General, c.Classify(context.Background(), "q"))
	assert.Empty(t, c.ClassifyMulti(context.Background(), "q"))
}

func TestNewClassifier_ExemplarError(t *testing.T) {
	e := &MockEmbedder{EmbedFunc: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("down")
	}}
	_, err := NewClassifier(context.Background(), e, nil, 0)
	assert.Error(t, err)
}

func TestClassifyMulti_Ranked(t *testing.T) {
	vecs := map[string][]float32{
		"a":     {1, 0},
		"b":     {0, 1},
		"query": {0.6, 0.8},
	}
	e := &MockEmbedder{EmbedFunc: func(_ context.Context, s string) ([]float32, error) { return vecs[s], nil }}
	c, err := NewClassifier(context.Background(), e, []Entry{{Business, []string{"a"}}, {Performance, []string{"b"}}}, 0.5)
	require.NoError(t, err)

	got := c.ClassifyMulti(context.Background(), "query")
	require.Len(t, got, 2)
	assert.Equal(t, Performance, got[0].Topic)
	assert.InDelta(t, 0.8, got[0].Score, 1e-6)
	assert.Equal(t, Business, got[1].Topic)
}

func TestTopics(t *testing.T) {
	c := newDefault(t)
	assert.Equal(t, []Topic{Performance, MachineLearning, ProgrammingLanguage, Business, GeneralTechnology, General}, c.Topics())
}
