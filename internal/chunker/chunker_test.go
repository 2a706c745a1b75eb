package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/notesearch/pkg/models"
)

func doc(text string) models.Document {
	return models.Document{ID: "notes/perf.md", Text: text}
}

func TestChunk_SplitsOnHeadings(t *testing.T) {
	text := `Intro line before any heading.

# Performance
Cache hot paths. Measure first.

## Indexing
Add an index on foreign keys.

# Empty

# Closing ##
Done.`

	chunks := Chunk(doc(text), 100)
	require.Len(t, chunks, 4)

	assert.Equal(t, "", chunks[0].Heading)
	assert.Equal(t, "Intro line before any heading.", chunks[0].Text)
	assert.Equal(t, "Performance", chunks[1].Heading)
	assert.Equal(t, "Cache hot paths. Measure first.", chunks[1].Text)
	assert.Equal(t, "Indexing", chunks[2].Heading)
	assert.Equal(t, "Closing", chunks[3].Heading)
	assert.Equal(t, "Done.", chunks[3].Text)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "notes/perf.md", c.DocumentID)
		assert.Equal(t, ID("notes/perf.md", i), c.ID)
		assert.Equal(t, len(strings.Fields(c.Text)), c.TokenCount)
	}
}

func TestChunk_RespectsTokenCap(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Big section\n")
	for i := 0; i < 40; i++ {
		b.WriteString("This sentence has exactly seven words here. ")
	}
	b.WriteString("\n# Tail\nshort")

	chunks := Chunk(doc(b.String()), 20)
	require.NotEmpty(t, chunks)

	var big []models.Chunk
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 20, "chunk %d exceeds cap", c.Index)
		if c.Heading == "Big section" {
			big = append(big, c)
		}
	}
	// 40 sentences of 7 words, two per chunk.
	assert.Len(t, big, 20)
	assert.Equal(t, "Tail", chunks[len(chunks)-1].Heading)

	var rebuilt []string
	for _, c := range big {
		rebuilt = append(rebuilt, c.Text)
	}
	assert.Equal(t, strings.TrimSpace(strings.Repeat("This sentence has exactly seven words here. ", 40)),
		strings.Join(rebuilt, " "))
}

func TestChunk_OversizedSentenceIsWindowed(t *testing.T) {
	words := make([]string, 25)
	for i := range words {
		words[i] = "word"
	}
	text := "# Run-on\n" + strings.Join(words, " ") + "."

	chunks := Chunk(doc(text), 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, 10, chunks[0].TokenCount)
	assert.Equal(t, 10, chunks[1].TokenCount)
	assert.Equal(t, 5, chunks[2].TokenCount)
}

func TestChunk_IgnoresHeadingsInsideCodeFences(t *testing.T) {
	text := "# Shell\n```bash\n# not a heading\necho hi\n```\n"
	chunks := Chunk(doc(text), 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Shell", chunks[0].Heading)
	assert.Contains(t, chunks[0].Text, "# not a heading")
}

func TestChunk_SplitKeepsTextVerbatim(t *testing.T) {
	body := "Latency dropped from 3.14 ms to 2.5 ms after the change.\n" +
		"- Set GOGC=200 before the benchmark run.\n" +
		"...\n" +
		"- Profile with pprof... then compare allocations!\n" +
		"```go\n" +
		"func hot() { cache.Warm() }\n" +
		"```\n" +
		"> Measure twice, cut once."

	chunks := Chunk(doc("# Tuning\n"+body+"\n"), 8)
	require.Greater(t, len(chunks), 1)

	// Chunks are consecutive slices of the section with only whitespace
	// between them.
	cursor := 0
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, 8, "chunk %d exceeds cap", c.Index)
		at := strings.Index(body[cursor:], c.Text)
		require.GreaterOrEqual(t, at, 0, "chunk %d not found verbatim: %q", c.Index, c.Text)
		assert.Empty(t, strings.TrimSpace(body[cursor:cursor+at]), "text dropped before chunk %d", c.Index)
		cursor += at + len(c.Text)
	}
	assert.Equal(t, len(body), cursor)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	assert.Contains(t, texts[0], "3.14 ms")
	assert.Contains(t, texts, "- Set GOGC=200 before the benchmark run.\n...")
	assert.Contains(t, strings.Join(texts, "\n"), "pprof... then compare")
	assert.Contains(t, strings.Join(texts, "\n"), "```go\nfunc hot()")
}

func TestChunk_EmptyAndWhitespace(t *testing.T) {
	assert.Empty(t, Chunk(doc(""), 10))
	assert.Empty(t, Chunk(doc("  \n\t\n"), 10))
	assert.Empty(t, Chunk(doc("# Only\n\n# Headings\n"), 10))
}

func TestChunk_Deterministic(t *testing.T) {
	text := "# A\nOne. Two. Three.\n# B\nFour five six seven."
	first := Chunk(doc(text), 2)
	second := Chunk(doc(text), 2)
	assert.Equal(t, first, second)
}

func TestChunk_DefaultCap(t *testing.T) {
	text := strings.Repeat("alpha beta. ", DefaultMaxTokens)
	chunks := Chunk(doc(text), 0)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, DefaultMaxTokens)
	}
	assert.Greater(t, len(chunks), 1)
}

func BenchmarkChunk(b *testing.B) {
	text := strings.Repeat("# Heading\n"+strings.Repeat("Some sentence with words. ", 50)+"\n", 20)
	d := doc(text)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Chunk(d, 64)
	}
}
