// Package chunker splits notes into retrieval-sized chunks. Markdown headings
// delimit sections; sections above the token cap are re-split on sentence
// boundaries.
package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/seanblong/notesearch/internal/textutil"
	"github.com/seanblong/notesearch/pkg/models"
)

// DefaultMaxTokens is used when the caller passes a non-positive cap.
const DefaultMaxTokens = 256

var headingPattern = regexp.MustCompile(`^\s{0,3}(#{1,6})\s+(.*?)\s*#*\s*$`)

type section struct {
	heading string
	lines   []string
}

// Chunk splits doc into ordered chunks of at most maxTokens words each.
func Chunk(doc models.Document, maxTokens int) []models.Chunk {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	var out []models.Chunk
	emit := func(heading, text string) {
		out = append(out, models.Chunk{
			ID:         ID(doc.ID, len(out)),
			DocumentID: doc.ID,
			Index:      len(out),
			Text:       text,
			Heading:    heading,
			TokenCount: textutil.CountTokens(text),
		})
	}

	for _, sec := range sections(doc.Text) {
		body := strings.TrimSpace(strings.Join(sec.lines, "\n"))
		if body == "" {
			continue
		}
		if textutil.CountTokens(body) <= maxTokens {
			emit(sec.heading, body)
			continue
		}
		for _, piece := range splitSentences(body, maxTokens) {
			emit(sec.heading, piece)
		}
	}
	return out
}

// ID derives a stable chunk identifier from the document id and position.
func ID(documentID string, index int) string {
	h := sha1.Sum([]byte(documentID + "#" + strconv.Itoa(index)))
	return hex.EncodeToString(h[:])
}

// sections groups lines under their nearest preceding ATX heading. Lines
// inside fenced code blocks are never treated as headings.
func sections(text string) []section {
	var (
		out     []section
		cur     section
		inFence bool
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				out = append(out, cur)
				cur = section{heading: m[2]}
				continue
			}
		}
		cur.lines = append(cur.lines, line)
	}
	return append(out, cur)
}

// splitSentences groups consecutive sentences into pieces of at most
// maxTokens words. Each piece is a contiguous slice of body, so markers,
// punctuation and line breaks are kept as written. A sentence that alone
// exceeds the cap is cut into word windows.
func splitSentences(body string, maxTokens int) []string {
	var (
		out            []string
		start, end, nb int
		open           bool
	)
	flush := func() {
		if open {
			out = append(out, body[start:end])
			open, nb = false, 0
		}
	}

	for _, sp := range textutil.SentenceSpans(body) {
		s := body[sp[0]:sp[1]]
		n := textutil.CountTokens(s)
		if n > maxTokens {
			flush()
			out = append(out, wordWindows(s, maxTokens)...)
			continue
		}
		if nb+n > maxTokens {
			flush()
		}
		if !open {
			start, open = sp[0], true
		}
		end = sp[1]
		nb += n
	}
	flush()
	return out
}

// wordWindows cuts s into slices of at most limit whitespace separated
// words, keeping the original spacing inside each slice.
func wordWindows(s string, limit int) []string {
	var (
		out    []string
		from   = -1
		words  int
		inWord bool
	)
	for i, r := range s {
		if unicode.IsSpace(r) {
			if inWord {
				inWord = false
				if words == limit {
					out = append(out, s[from:i])
					from, words = -1, 0
				}
			}
			continue
		}
		if !inWord {
			inWord = true
			words++
			if from < 0 {
				from = i
			}
		}
	}
	if from >= 0 {
		out = append(out, strings.TrimRightFunc(s[from:], unicode.IsSpace))
	}
	return out
}
