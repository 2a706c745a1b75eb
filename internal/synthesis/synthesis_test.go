package synthesis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/notesearch/internal/insight"
	"github.com/seanblong/notesearch/internal/topic"
	"github.com/seanblong/notesearch/pkg/models"
)

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := New(insight.NewExtractor(nil, nil).Categories(), nil)
	require.NoError(t, err)
	return g
}

func sampleResults() []models.SearchResult {
	return []models.SearchResult{
		{Chunk: models.Chunk{DocumentID: "perf.md", Heading: "Caching"}, FinalScore: 0.91},
		{Chunk: models.Chunk{DocumentID: "misc.md"}, FinalScore: 0.2},
	}
}

func TestSynthesize_PerformanceTemplate(t *testing.T) {
	g := newGenerator(t)
	set := insight.Set{
		insight.Strategies:    {"Cache hot paths.", "Batch writes.", "Profile first.", "Use pools."},
		insight.BestPractices: {"Always measure."},
	}
	out := g.Synthesize("how to improve  performance", topic.Performance, set, sampleResults())

	assert.True(t, strings.HasPrefix(out, `Here is what your notes say about performance for "how to improve performance".`))
	assert.Contains(t, out, "I found 5 insights across 2 categories: 4 strategies, 1 best practices.")
	assert.Contains(t, out, "Strategies:\n- Cache hot paths.\n- Batch writes.\n- Profile first.\n")
	assert.NotContains(t, out, "Use pools.")
	assert.Contains(t, out, "Best practices:\n- Always measure.")
	assert.Contains(t, out, "1. perf.md § Caching (0.91)")
	assert.Contains(t, out, "2. misc.md (0.20)")
	assert.True(t, strings.HasSuffix(out, "Measure before and after each change so you know which one paid off."))
	assert.Less(t, strings.Index(out, "Strategies:"), strings.Index(out, "Best practices:"))
}

func TestSynthesize_Deterministic(t *testing.T) {
	g := newGenerator(t)
	set := insight.Set{
		insight.Warnings:      {"Avoid locks."},
		insight.Tools:         {"pprof"},
		insight.Category("x"): {"custom"},
	}
	a := g.Synthesize("q", topic.Business, set, sampleResults())
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, g.Synthesize("q", topic.Business, set, sampleResults()))
	}
	assert.Less(t, strings.Index(a, "Tools:"), strings.Index(a, "Warnings:"))
	assert.Less(t, strings.Index(a, "Warnings:"), strings.Index(a, "X:"))
}

func TestSynthesize_NoInsights(t *testing.T) {
	g := newGenerator(t)
	out := g.Synthesize("banana bread", topic.General, insight.Set{}, sampleResults())
	assert.Contains(t, out, `Here is what I found in your notes for "banana bread".`)
	assert.Contains(t, out, "No specific insights stood out.")
	assert.Contains(t, out, "Sources:")
	assert.NotContains(t, out, "I found")
}

func TestSynthesize_UnknownTopicFallsBack(t *testing.T) {
	g := newGenerator(t)
	out := g.Synthesize("q", topic.Topic("astronomy"), insight.Set{}, nil)
	assert.True(t, strings.HasPrefix(out, `Here is what I found in your notes for "q".`))
	assert.NotContains(t, out, "Sources:")
}

func TestSynthesize_SingularWording(t *testing.T) {
	g := newGenerator(t)
	out := g.Synthesize("q", topic.General, insight.Set{insight.Tools: {"pgx"}}, nil)
	assert.Contains(t, out, "I found 1 insight across 1 category: 1 tools.")
}

func TestNew_RequiresGeneral(t *testing.T) {
	_, err := New(nil, map[topic.Topic]TemplateSet{topic.Business: {Intro: "x"}})
	assert.Error(t, err)

	_, err = New(nil, map[topic.Topic]TemplateSet{topic.General: {Intro: "{{.Nope"}})
	assert.Error(t, err)
}

func TestFollowUps(t *testing.T) {
	g := newGenerator(t)
	tests := []struct {
		name      string
		topic     topic.Topic
		interests []string
		want      []string
	}{
		{
			name:  "canned only",
			topic: topic.Performance,
			want:  DefaultTemplates[topic.Performance].FollowUps,
		},
		{
			name:      "canned first then one personalized",
			topic:     topic.Performance,
			interests: []string{"kubernetes", "postgres"},
			want: append(append([]string{}, DefaultTemplates[topic.Performance].FollowUps...),
				"How does postgres relate to performance?"),
		},
		{
			name:      "skips current topic",
			topic:     topic.Business,
			interests: []string{"pricing", "business"},
			want: append(append([]string{}, DefaultTemplates[topic.Business].FollowUps...),
				"How does pricing relate to business?"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.FollowUps(tt.topic, tt.interests)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), MaxFollowUps)
		})
	}
}

func TestFollowUps_PersonalizedCapAndDedupe(t *testing.T) {
	g, err := New(nil, map[topic.Topic]TemplateSet{
		topic.General: {Intro: "x", FollowUps: []string{"Where else?", "What else do my notes say about Rust?"}},
	})
	require.NoError(t, err)

	got := g.FollowUps(topic.General, []string{"a", "b", "go", "rust", " "})
	assert.Equal(t, []string{
		"Where else?",
		"What else do my notes say about Rust?",
		"What else do my notes say about go?",
		"What else do my notes say about b?",
	}, got)
}

func TestSources(t *testing.T) {
	got := Sources(sampleResults())
	assert.Equal(t, []models.Source{
		{DocumentID: "perf.md", Heading: "Caching", Score: 0.91},
		{DocumentID: "misc.md", Score: 0.2},
	}, got)
}
