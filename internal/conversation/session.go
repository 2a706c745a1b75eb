// Package conversation tracks per-session dialogue state: bounded history,
// current topic, user interests and the flow of the conversation.
package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/notesearch/internal/textutil"
	"github.com/seanblong/notesearch/internal/topic"
	"github.com/seanblong/notesearch/pkg/models"
)

type Flow string

const (
	Exploration Flow = "exploration"
	FollowUp    Flow = "follow_up"
	TopicSwitch Flow = "topic_switch"
)

const (
	DefaultHistorySize  = 50
	DefaultInterestSize = 20
)

var (
	selectionPattern = regexp.MustCompile(`^\s*#?(\d{1,2})[.)]?\s*$`)
	backReference    = regexp.MustCompile(`(?i)\b(tell me more|more about (that|this|it)|that one|the (first|second|third|fourth|last) one|you mentioned|previous (answer|suggestion)|go deeper|expand on|elaborate|follow[- ]up)\b`)
)

// Turn is one answered query.
type Turn struct {
	Query     string                `json:"query"`
	Results   []models.SearchResult `json:"results"`
	Topic     topic.Topic           `json:"topic"`
	Flow      Flow                  `json:"flow"`
	Timestamp time.Time             `json:"timestamp"`
}

// Context is a point-in-time copy of a session's state.
type Context struct {
	CurrentTopic    topic.Topic           `json:"current_topic,omitempty"`
	LastResults     []models.SearchResult `json:"last_results,omitempty"`
	Interests       []string              `json:"user_interests"`
	Flow            Flow                  `json:"flow_state"`
	LastSuggestions []string              `json:"last_suggestions,omitempty"`
	Turns           int                   `json:"turns"`
}

// Observation is what the pipeline learned from one query.
type Observation struct {
	// Query is the text as typed; Resolved is the text actually answered
	// after numeric selection, empty when the same.
	Query    string
	Resolved string
	Topic    topic.Topic
	Results  []models.SearchResult
	Keywords []string
}

type Options struct {
	HistorySize  int
	InterestSize int
	Now          func() time.Time
}

func (o *Options) defaults() {
	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}
	if o.InterestSize <= 0 {
		o.InterestSize = DefaultInterestSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Session is safe for concurrent use, though a session normally handles
// one query at a time.
type Session struct {
	ID string

	mu              sync.Mutex
	opts            Options
	history         *Ring[Turn]
	interests       *simplelru.LRU[string, struct{}]
	currentTopic    topic.Topic
	lastResults     []models.SearchResult
	flow            Flow
	lastSuggestions []string
	lastSeen        time.Time
}

func NewSession(id string, opts Options) *Session {
	opts.defaults()
	s := &Session{ID: id, opts: opts}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.history = NewRing[Turn](s.opts.HistorySize)
	// size is always positive here so the constructor cannot fail
	s.interests, _ = simplelru.NewLRU[string, struct{}](s.opts.InterestSize, nil)
	s.currentTopic = ""
	s.lastResults = nil
	s.flow = Exploration
	s.lastSuggestions = nil
	s.lastSeen = s.opts.Now()
}

// Reset clears the session state. Shared caches and the corpus are not
// touched.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// Resolve maps a bare numeric selection such as "2" to the matching
// suggestion from the previous answer.
func (s *Session) Resolve(query string) (string, bool) {
	m := selectionPattern.FindStringSubmatch(query)
	if m == nil {
		return query, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return query, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.lastSuggestions) {
		return query, false
	}
	return s.lastSuggestions[n-1], true
}

// Observe advances the flow state machine and records the turn.
func (s *Session) Observe(o Observation) Flow {
	s.mu.Lock()
	defer s.mu.Unlock()

	answered := o.Resolved
	if answered == "" {
		answered = o.Query
	}

	prev := s.currentTopic
	switch {
	case prev != "" && o.Topic != prev:
		s.flow = TopicSwitch
		log.Info().Str("session", s.ID).Str("from", string(prev)).Str("to", string(o.Topic)).Msg("topic switch")
	case s.referencesPrior(o.Query):
		s.flow = FollowUp
	default:
		s.flow = Exploration
	}

	now := s.opts.Now()
	s.currentTopic = o.Topic
	s.lastResults = append([]models.SearchResult(nil), o.Results...)
	s.lastSeen = now
	s.history.Push(Turn{
		Query:     answered,
		Results:   s.lastResults,
		Topic:     o.Topic,
		Flow:      s.flow,
		Timestamp: now,
	})

	if o.Topic != "" && o.Topic != topic.General {
		s.interests.Add(string(o.Topic), struct{}{})
	}
	for _, kw := range o.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			s.interests.Add(kw, struct{}{})
		}
	}
	return s.flow
}

// referencesPrior must be called with mu held.
func (s *Session) referencesPrior(query string) bool {
	if s.history.Len() == 0 {
		return false
	}
	if selectionPattern.MatchString(query) || backReference.MatchString(query) {
		return true
	}
	q := textutil.Normalize(query)
	if q == "" {
		return false
	}
	for _, sug := range s.lastSuggestions {
		if textutil.Normalize(sug) == q {
			return true
		}
	}
	return false
}

// SetSuggestions remembers the follow-ups offered with the last answer.
func (s *Session) SetSuggestions(sugs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSuggestions = append([]string(nil), sugs...)
}

// Interests returns interests oldest first.
func (s *Session) Interests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interests.Keys()
}

// History returns the recorded turns oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Items()
}

func (s *Session) Flow() Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow
}

func (s *Session) Snapshot() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Context{
		CurrentTopic:    s.currentTopic,
		LastResults:     append([]models.SearchResult(nil), s.lastResults...),
		Interests:       s.interests.Keys(),
		Flow:            s.flow,
		LastSuggestions: append([]string(nil), s.lastSuggestions...),
		Turns:           s.history.Len(),
	}
}

// LastSeen reports when the session was last updated or reset.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
