// Package insight pulls categorized sentences out of ranked passages.
package insight

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/seanblong/notesearch/internal/textutil"
	"github.com/seanblong/notesearch/internal/topic"
	"github.com/seanblong/notesearch/pkg/models"
)

type Category string

const (
	Strategies    Category = "strategies"
	Tools         Category = "tools"
	BestPractices Category = "best_practices"
	Warnings      Category = "warnings"
	Definitions   Category = "definitions"
	UseCases      Category = "use_cases"
	Comparisons   Category = "comparisons"
	CodeExamples  Category = "code_examples"
)

// Rule maps a category to the phrases that mark a sentence as belonging
// to it. Matching is case-insensitive on word boundaries.
type Rule struct {
	Category Category
	Keywords []string
}

// DefaultRules also fixes the category order of extracted sets.
var DefaultRules = []Rule{
	{Strategies, []string{"strategy", "approach", "technique", "method", "improve", "optimize", "reduce", "increase", "use", "try", "consider"}},
	{Tools, []string{"tool", "library", "framework", "package", "cli", "command", "plugin", "service", "database"}},
	{BestPractices, []string{"best practice", "should", "always", "recommended", "recommend", "prefer", "make sure", "ensure", "guideline"}},
	{Warnings, []string{"avoid", "never", "don't", "do not", "warning", "caution", "beware", "pitfall", "careful", "risk"}},
	{Definitions, []string{"is defined as", "refers to", "means", "definition", "is a", "is an", "known as"}},
	{UseCases, []string{"use case", "useful for", "used for", "when you need", "for example", "scenario", "ideal for"}},
	{Comparisons, []string{"versus", "vs", "compared to", "better than", "faster than", "slower than", "instead of", "whereas", "unlike", "trade-off", "tradeoff"}},
	{CodeExamples, []string{"example", "snippet", "e.g.", "`", "func", "import", "$ "}},
}

// TopicRules adds keywords to categories when the detected topic matches.
var TopicRules = map[topic.Topic][]Rule{
	topic.Performance: {
		{Strategies, []string{"cache", "caching", "profile", "profiling", "benchmark", "parallelize", "batch", "index"}},
		{Warnings, []string{"bottleneck", "contention", "leak", "regression"}},
	},
	topic.MachineLearning: {
		{Strategies, []string{"fine-tune", "regularize", "augment", "train"}},
		{Tools, []string{"pytorch", "tensorflow", "scikit-learn", "model"}},
		{Warnings, []string{"overfitting", "leakage", "bias"}},
	},
	topic.ProgrammingLanguage: {
		{CodeExamples, []string{"function", "syntax", "interface"}},
		{BestPractices, []string{"idiomatic", "readable"}},
	},
	topic.Business: {
		{Strategies, []string{"pricing", "retention", "growth", "positioning"}},
		{UseCases, []string{"customer", "customers"}},
	},
	topic.GeneralTechnology: {
		{Tools, []string{"docker", "kubernetes", "postgres", "terraform", "git"}},
	},
}

// Set maps categories to extracted fragments in source order.
type Set map[Category][]string

// Count returns the total number of fragments.
func (s Set) Count() int {
	n := 0
	for _, items := range s {
		n += len(items)
	}
	return n
}

type matcher struct {
	category Category
	re       *regexp.Regexp
}

// Extractor is immutable and safe for concurrent use.
type Extractor struct {
	order   []Category
	base    []matcher
	byTopic map[topic.Topic][]matcher
}

// NewExtractor compiles the rule tables. Nil arguments select the defaults.
func NewExtractor(rules []Rule, topicRules map[topic.Topic][]Rule) *Extractor {
	if rules == nil {
		rules = DefaultRules
	}
	if topicRules == nil {
		topicRules = TopicRules
	}
	x := &Extractor{byTopic: make(map[topic.Topic][]matcher)}
	seen := map[Category]bool{}
	for _, r := range rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			x.order = append(x.order, r.Category)
		}
		x.base = append(x.base, compile(r))
	}
	topics := make([]topic.Topic, 0, len(topicRules))
	for t := range topicRules {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	for _, t := range topics {
		for _, r := range topicRules[t] {
			if !seen[r.Category] {
				seen[r.Category] = true
				x.order = append(x.order, r.Category)
			}
			x.byTopic[t] = append(x.byTopic[t], compile(r))
		}
	}
	return x
}

// Categories returns categories in presentation order.
func (x *Extractor) Categories() []Category {
	out := make([]Category, len(x.order))
	copy(out, x.order)
	return out
}

// Extract scans every sentence of every result. A sentence may land in
// several categories; duplicates within a category are dropped.
func (x *Extractor) Extract(results []models.SearchResult, t topic.Topic) Set {
	ms := append(append([]matcher{}, x.base...), x.byTopic[t]...)
	out := Set{}
	seen := map[Category]map[string]bool{}

	for _, r := range results {
		for _, sentence := range textutil.Sentences(r.Chunk.Text) {
			norm := textutil.Normalize(sentence)
			if norm == "" {
				continue
			}
			hit := map[Category]bool{}
			for _, m := range ms {
				if hit[m.category] || !m.re.MatchString(sentence) {
					continue
				}
				hit[m.category] = true
				if seen[m.category] == nil {
					seen[m.category] = map[string]bool{}
				}
				if seen[m.category][norm] {
					continue
				}
				seen[m.category][norm] = true
				out[m.category] = append(out[m.category], textutil.CollapseSpace(sentence))
			}
		}
	}
	return out
}

// Ordered lists the non-empty categories of s in extractor order.
func (x *Extractor) Ordered(s Set) []Category {
	var out []Category
	for _, c := range x.order {
		if len(s[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func compile(r Rule) matcher {
	alts := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		alts = append(alts, keywordPattern(strings.ToLower(kw)))
	}
	return matcher{category: r.Category, re: regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)}
}

// keywordPattern anchors kw on word boundaries where its ends are word
// characters.
func keywordPattern(kw string) string {
	p := regexp.QuoteMeta(kw)
	rs := []rune(kw)
	if len(rs) == 0 {
		return p
	}
	if isWord(rs[0]) {
		p = `\b` + p
	}
	if isWord(rs[len(rs)-1]) {
		p += `\b`
	}
	return p
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
