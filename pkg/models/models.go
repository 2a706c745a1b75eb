package models

import (
	"encoding/json"
	"time"
)

// Document is a single note as supplied by the document source.
type Document struct {
	ID       string           `json:"id"`
	Text     string           `json:"text"`
	Metadata DocumentMetadata `json:"metadata"`
}

type DocumentMetadata struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_at"`
	Tags    []string  `json:"tags,omitempty"`
}

// Chunk is a retrieval unit of a document. Heading is empty for content
// that precedes the first heading.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
	Heading    string `json:"heading,omitempty"`
	TokenCount int    `json:"token_count"`
}

type IndexedChunk struct {
	Chunk     Chunk     `json:"chunk"`
	Embedding []float32 `json:"-"`
}

// SearchResult is a ranked chunk. RerankScore is nil when re-ranking did not
// run or failed for this candidate.
type SearchResult struct {
	ChunkID         string   `json:"chunk_id"`
	Chunk           Chunk    `json:"chunk"`
	SimilarityScore float64  `json:"similarity_score"`
	RerankScore     *float64 `json:"rerank_score,omitempty"`
	FinalScore      float64  `json:"final_score"`
}

type Source struct {
	DocumentID string  `json:"document_id"`
	Heading    string  `json:"heading,omitempty"`
	Score      float64 `json:"score"`
}

type SynthesisResult struct {
	SessionID       string   `json:"session_id,omitempty"`
	ResponseText    string   `json:"response_text"`
	Sources         []Source `json:"ranked_sources"`
	Topic           string   `json:"detected_topic"`
	FollowUps       []string `json:"follow_up_suggestions"`
	Flow            string   `json:"flow_state,omitempty"`
	ServedFromCache bool     `json:"served_from_cache"`
	Degraded        bool     `json:"degraded,omitempty"`
}

// CacheEntry is the persisted form of a cache record.
type CacheEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
}

// Expired reports whether the entry is no longer valid at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}
