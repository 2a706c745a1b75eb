// Package topic assigns a coarse subject label to text by comparing its
// embedding with a fixed set of exemplar phrases per topic.
package topic

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/notesearch/internal/ai"
	"github.com/seanblong/notesearch/internal/retrieval"
)

type Topic string

const (
	Performance         Topic = "performance"
	MachineLearning     Topic = "machine-learning"
	ProgrammingLanguage Topic = "programming-language"
	Business            Topic = "business"
	GeneralTechnology   Topic = "general-technology"
	General             Topic = "general"
)

const DefaultThreshold = 0.3

// Entry is one row of the exemplar table. Rows are evaluated in order and
// earlier rows win ties.
type Entry struct {
	Topic     Topic
	Exemplars []string
}

// DefaultTable is the built-in exemplar table.
var DefaultTable = []Entry{
	{Performance, []string{
		"improve performance",
		"optimize speed and latency",
		"reduce memory usage",
		"profiling and benchmarking",
		"scalability and throughput",
		"caching to speed up responses",
	}},
	{MachineLearning, []string{
		"machine learning model training",
		"neural network deep learning",
		"embeddings and vector similarity",
		"classification and regression",
		"large language model prompts",
	}},
	{ProgrammingLanguage, []string{
		"programming language syntax",
		"golang python rust javascript",
		"functions types and generics",
		"compiler and interpreter",
		"code refactoring patterns",
	}},
	{Business, []string{
		"business strategy and revenue",
		"customers market and pricing",
		"product roadmap planning",
		"startup growth and sales",
		"budget cost and profit",
	}},
	{GeneralTechnology, []string{
		"software tools and technology",
		"cloud infrastructure and servers",
		"databases and storage systems",
		"networking and security",
		"deploy kubernetes docker",
	}},
}

// Score is a topic with its best exemplar similarity.
type Score struct {
	Topic Topic   `json:"topic"`
	Score float64 `json:"score"`
}

type exemplarSet struct {
	topic   Topic
	vectors [][]float32
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	embedder  ai.Embedder
	threshold float64
	sets      []exemplarSet
}

// NewClassifier embeds every exemplar once. A nil table selects
// DefaultTable; a non-positive threshold selects DefaultThreshold.
func NewClassifier(ctx context.Context, e ai.Embedder, table []Entry, threshold float64) (*Classifier, error) {
	if table == nil {
		table = DefaultTable
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	c := &Classifier{embedder: e, threshold: threshold}
	for _, row := range table {
		set := exemplarSet{topic: row.Topic}
		for _, ex := range row.Exemplars {
			v, err := e.Embed(ctx, ex)
			if err != nil {
				return nil, fmt.Errorf("embed exemplar %q for %s: %w", ex, row.Topic, err)
			}
			set.vectors = append(set.vectors, v)
		}
		c.sets = append(c.sets, set)
	}
	log.Debug().Int("topics", len(c.sets)).Float64("threshold", threshold).Msg("topic classifier ready")
	return c, nil
}

// Classify returns the best topic above the threshold, or General.
func (c *Classifier) Classify(ctx context.Context, text string) Topic {
	scores := c.ClassifyMulti(ctx, text)
	if len(scores) == 0 {
		return General
	}
	return scores[0].Topic
}

// ClassifyMulti returns every topic clearing the threshold, best first.
// Embedding failures are logged and yield no topics.
func (c *Classifier) ClassifyMulti(ctx context.Context, text string) []Score {
	v, err := c.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("classify: embedding failed, using general topic")
		return nil
	}
	var out []Score
	for _, set := range c.sets {
		best := -1.0
		for _, ev := range set.vectors {
			if s := retrieval.Cosine(v, ev); s > best {
				best = s
			}
		}
		if best > c.threshold {
			out = append(out, Score{Topic: set.topic, Score: best})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Topics lists the registered topics in table order, followed by General.
func (c *Classifier) Topics() []Topic {
	out := make([]Topic, 0, len(c.sets)+1)
	for _, s := range c.sets {
		out = append(out, s.topic)
	}
	return append(out, General)
}
