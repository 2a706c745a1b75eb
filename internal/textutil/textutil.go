// Package textutil holds the tokenization and sentence helpers shared by the
// embedding stub, classifier, extractor and conversation tracker.
package textutil

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var spacePattern = regexp.MustCompile(`\s+`)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "from": {}, "as": {},
	"is": {}, "was": {}, "are": {}, "be": {}, "been": {}, "being": {}, "have": {},
	"has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"could": {}, "should": {}, "may": {}, "might": {}, "can": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {},
	"they": {}, "what": {}, "which": {}, "who": {}, "when": {}, "where": {}, "why": {},
	"how": {}, "me": {}, "my": {}, "about": {}, "into": {}, "its": {}, "our": {},
	"your": {}, "there": {}, "their": {}, "then": {}, "than": {}, "so": {}, "if": {},
	"not": {}, "no": {}, "some": {}, "any": {}, "more": {}, "most": {}, "tell": {},
}

// IsStopword reports whether token is a common English stopword.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// Words splits text into lowercase alphanumeric words, keeping stopwords.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '+' && r != '#'
	})
}

// Tokenize returns the content words of text: lowercase, stopwords and
// single-character tokens removed.
func Tokenize(text string) []string {
	words := Words(text)
	out := words[:0]
	for _, w := range words {
		w = strings.TrimLeft(w, "#")
		if len(w) < 2 || IsStopword(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// CountTokens counts whitespace separated words.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// Sentences splits text into trimmed sentences with list and quote markers
// removed. Newlines also terminate a sentence so list items stay separate.
func Sentences(text string) []string {
	spans := SentenceSpans(text)
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		s := strings.TrimSpace(strings.TrimLeft(text[sp[0]:sp[1]], "-*+> \t"))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SentenceSpans returns the byte ranges of the sentences in text, in order.
// A sentence ends at a newline or at a run of terminal punctuation followed
// by whitespace, so decimals and ellipses inside a sentence survive. Ranges
// never include leading or trailing whitespace, and only whitespace lies
// between consecutive ranges.
func SentenceSpans(text string) [][2]int {
	var spans [][2]int
	start, end := -1, -1
	closeSpan := func() {
		if start >= 0 {
			spans = append(spans, [2]int{start, end})
			start = -1
		}
	}
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == '\n':
			closeSpan()
		case unicode.IsSpace(r):
		default:
			if start < 0 {
				start = i
			}
			end = i + size
			if isTerminal(r) {
				for end < len(text) {
					next, n := utf8.DecodeRuneInString(text[end:])
					if !isTerminal(next) && !strings.ContainsRune(`"')]`, next) {
						break
					}
					end += n
				}
				if next, _ := utf8.DecodeRuneInString(text[end:]); end == len(text) || unicode.IsSpace(next) {
					closeSpan()
				}
				i = end
				continue
			}
		}
		i += size
	}
	closeSpan()
	return spans
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Normalize lowercases text, strips punctuation and collapses whitespace.
// Two strings with equal Normalize output are treated as the same text.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(spacePattern.ReplaceAllString(b.String(), " "))
}

// QueryKey is the canonical form of a query for cache lookups: lowercase,
// whitespace collapsed and trailing sentence punctuation dropped. Symbols are
// kept, so "c++" and "c#" stay distinct queries.
func QueryKey(text string) string {
	return strings.TrimRight(CollapseSpace(strings.ToLower(text)), "?!. ")
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// CollapseSpace trims text and collapses internal whitespace runs.
func CollapseSpace(text string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}
