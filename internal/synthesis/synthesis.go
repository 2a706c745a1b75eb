// Package synthesis renders extracted insights into a response and
// suggests follow-up questions.
package synthesis

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/notesearch/internal/insight"
	"github.com/seanblong/notesearch/internal/textutil"
	"github.com/seanblong/notesearch/internal/topic"
	"github.com/seanblong/notesearch/pkg/models"
)

const (
	// MaxItemsPerCategory caps the fragments quoted per category.
	MaxItemsPerCategory = 3
	MaxFollowUps        = 4
	maxPersonalized     = 2
)

// TemplateSet is the topic-specific wording around the shared body.
type TemplateSet struct {
	Intro string
	Outro string
	// FollowUps are the canned questions offered first for the topic.
	FollowUps []string
}

// DefaultTemplates must contain topic.General.
var DefaultTemplates = map[topic.Topic]TemplateSet{
	topic.Performance: {
		Intro: `Here is what your notes say about performance for "{{.Query}}".`,
		Outro: "Measure before and after each change so you know which one paid off.",
		FollowUps: []string{
			"How do I profile this to find the bottleneck?",
			"What caching strategies do my notes recommend?",
			"Which of these changes has the biggest impact?",
		},
	},
	topic.MachineLearning: {
		Intro: `Your machine learning notes have this on "{{.Query}}".`,
		Outro: "Validate on held-out data before trusting any of these.",
		FollowUps: []string{
			"How should I evaluate the model?",
			"What data preparation steps do my notes mention?",
			"Which models or libraries did I use before?",
		},
	},
	topic.ProgrammingLanguage: {
		Intro: `From your programming notes on "{{.Query}}":`,
		Outro: "",
		FollowUps: []string{
			"Can you show a code example?",
			"What are the idiomatic patterns here?",
			"Which pitfalls do my notes warn about?",
		},
	},
	topic.Business: {
		Intro: `Your business notes cover "{{.Query}}" like this.`,
		Outro: "Check these against current numbers before deciding.",
		FollowUps: []string{
			"What metrics should I track for this?",
			"How did this play out with customers before?",
			"What are the risks of this approach?",
		},
	},
	topic.GeneralTechnology: {
		Intro: `Here is what your notes say about "{{.Query}}".`,
		Outro: "",
		FollowUps: []string{
			"Which tools do my notes recommend for this?",
			"How do I set this up?",
			"What are the alternatives?",
		},
	},
	topic.General: {
		Intro: `Here is what I found in your notes for "{{.Query}}".`,
		Outro: "",
		FollowUps: []string{
			"Can you tell me more about this?",
			"What are the key takeaways?",
			"Where else do my notes mention this?",
		},
	},
}

const body = `{{template "intro" .}}

{{if .Total -}}
I found {{.Total}} {{plural .Total "insight" "insights"}} across {{len .Sections}} {{plural (len .Sections) "category" "categories"}}: {{.Summary}}.
{{range .Sections}}
{{.Label}}:
{{range .Items}}- {{.}}
{{end}}{{end}}
{{- else -}}
No specific insights stood out. The most relevant passages are listed below.
{{end}}
{{- if .Sources}}
Sources:
{{range $i, $s := .Sources}}{{inc $i}}. {{$s.DocumentID}}{{if $s.Heading}} § {{$s.Heading}}{{end}} ({{printf "%.2f" $s.Score}})
{{end}}{{end}}
{{- with .Outro}}
{{.}}
{{end}}`

var labels = map[insight.Category]string{
	insight.Strategies:    "strategies",
	insight.Tools:         "tools",
	insight.BestPractices: "best practices",
	insight.Warnings:      "warnings",
	insight.Definitions:   "definitions",
	insight.UseCases:      "use cases",
	insight.Comparisons:   "comparisons",
	insight.CodeExamples:  "code examples",
}

type section struct {
	Label string
	Items []string
}

type view struct {
	Query    string
	Total    int
	Summary  string
	Sections []section
	Sources  []models.Source
	Outro    string
}

// Generator is immutable and safe for concurrent use.
type Generator struct {
	categories []insight.Category
	sets       map[topic.Topic]TemplateSet
	tmpl       map[topic.Topic]*template.Template
}

// New parses a template per topic. categories fixes section order; nil
// templates selects DefaultTemplates.
func New(categories []insight.Category, templates map[topic.Topic]TemplateSet) (*Generator, error) {
	if templates == nil {
		templates = DefaultTemplates
	}
	if _, ok := templates[topic.General]; !ok {
		return nil, fmt.Errorf("template set for %q is required", topic.General)
	}
	funcs := template.FuncMap{
		"inc": func(i int) int { return i + 1 },
		"plural": func(n int, one, many string) string {
			if n == 1 {
				return one
			}
			return many
		},
	}
	g := &Generator{categories: categories, sets: templates, tmpl: make(map[topic.Topic]*template.Template)}
	for t, set := range templates {
		tp, err := template.New(string(t)).Funcs(funcs).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("parse body: %w", err)
		}
		if _, err := tp.New("intro").Parse(set.Intro); err != nil {
			return nil, fmt.Errorf("parse intro for %s: %w", t, err)
		}
		g.tmpl[t] = tp
	}
	return g, nil
}

func (g *Generator) set(t topic.Topic) (TemplateSet, *template.Template) {
	if tp, ok := g.tmpl[t]; ok {
		return g.sets[t], tp
	}
	return g.sets[topic.General], g.tmpl[topic.General]
}

// Synthesize renders a response. Output depends only on its arguments.
func (g *Generator) Synthesize(query string, t topic.Topic, insights insight.Set, results []models.SearchResult) string {
	set, tp := g.set(t)
	v := view{Query: textutil.CollapseSpace(query), Outro: set.Outro, Sources: Sources(results)}

	var summary []string
	for _, c := range g.order(insights) {
		items := insights[c]
		label := labels[c]
		if label == "" {
			label = strings.ReplaceAll(string(c), "_", " ")
		}
		v.Total += len(items)
		summary = append(summary, fmt.Sprintf("%d %s", len(items), label))
		if len(items) > MaxItemsPerCategory {
			items = items[:MaxItemsPerCategory]
		}
		v.Sections = append(v.Sections, section{Label: capitalize(label), Items: items})
	}
	v.Summary = strings.Join(summary, ", ")

	var b strings.Builder
	if err := tp.Execute(&b, v); err != nil {
		log.Error().Err(err).Str("topic", string(t)).Msg("render synthesis")
		return v.Query
	}
	return strings.TrimSpace(b.String())
}

// order lists non-empty categories: known ones first in configured order,
// then any others sorted by name.
func (g *Generator) order(s insight.Set) []insight.Category {
	var out []insight.Category
	known := map[insight.Category]bool{}
	for _, c := range g.categories {
		known[c] = true
		if len(s[c]) > 0 {
			out = append(out, c)
		}
	}
	var extra []insight.Category
	for c, items := range s {
		if !known[c] && len(items) > 0 {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Sources converts ranked results into source references.
func Sources(results []models.SearchResult) []models.Source {
	out := make([]models.Source, len(results))
	for i, r := range results {
		out[i] = models.Source{DocumentID: r.Chunk.DocumentID, Heading: r.Chunk.Heading, Score: r.FinalScore}
	}
	return out
}

// FollowUps returns the topic's canned questions followed by up to two
// questions built from the most recent interests.
func (g *Generator) FollowUps(t topic.Topic, interests []string) []string {
	set, _ := g.set(t)
	out := make([]string, 0, MaxFollowUps)
	seen := map[string]bool{}
	add := func(q string) {
		n := textutil.Normalize(q)
		if n == "" || seen[n] || len(out) >= MaxFollowUps {
			return
		}
		seen[n] = true
		out = append(out, q)
	}
	for _, q := range set.FollowUps {
		add(q)
	}

	personalized := 0
	for i := len(interests) - 1; i >= 0 && personalized < maxPersonalized; i-- {
		in := strings.TrimSpace(interests[i])
		if in == "" || topic.Topic(in) == t {
			continue
		}
		before := len(out)
		if t == topic.General {
			add(fmt.Sprintf("What else do my notes say about %s?", in))
		} else {
			add(fmt.Sprintf("How does %s relate to %s?", in, strings.ReplaceAll(string(t), "-", " ")))
		}
		if len(out) > before {
			personalized++
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
