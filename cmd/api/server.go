package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/notesearch/internal/auth"
	"github.com/seanblong/notesearch/internal/corpus"
	"github.com/seanblong/notesearch/internal/indexer"
	"github.com/seanblong/notesearch/internal/retrieval"
	"github.com/seanblong/notesearch/internal/search"
	"github.com/seanblong/notesearch/internal/store"
	"github.com/seanblong/notesearch/internal/textutil"
	"github.com/seanblong/notesearch/pkg/models"
)

// Simple is the compact result shape returned by /search.
type Simple struct {
	DocumentID string   `json:"document_id"`
	Heading    string   `json:"heading,omitempty"`
	ChunkIndex int      `json:"chunk_index"`
	Similarity float64  `json:"similarity"`
	Rerank     *float64 `json:"rerank,omitempty"`
	Score      float64  `json:"score"`
	Preview    string   `json:"preview"`
}

const previewLen = 400

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func output(res []models.SearchResult) (out []Simple) {
	out = make([]Simple, 0, len(res))
	for _, r := range res {
		preview := r.Chunk.Text
		if len(preview) > previewLen {
			preview = textutil.Truncate(preview, previewLen) + "…"
		}
		out = append(out, Simple{
			DocumentID: r.Chunk.DocumentID,
			Heading:    r.Chunk.Heading,
			ChunkIndex: r.Chunk.Index,
			Similarity: finite(r.SimilarityScore),
			Rerank:     r.RerankScore,
			Score:      finite(r.FinalScore),
			Preview:    preview,
		})
	}
	return out
}

type askRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type server struct {
	svc     *search.Service
	issuer  *auth.Issuer
	store   store.ChunkStore
	corpus  *corpus.Index
	indexer *indexer.Indexer // nil when an external indexer owns the store

	reindexMu    sync.Mutex
	allowReindex bool
	timeout      time.Duration
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ask", s.issuer.SessionMiddleware(s.handleAsk))
	mux.HandleFunc("/search", s.issuer.SessionMiddleware(s.handleSearch))
	mux.HandleFunc("/sessions/reset", s.issuer.SessionMiddleware(s.handleReset))
	mux.HandleFunc("/sessions/context", s.issuer.SessionMiddleware(s.handleContext))
	mux.HandleFunc("/documents", s.issuer.SessionMiddleware(s.handleDocuments))
	mux.HandleFunc("/reindex", s.issuer.RequireSession(s.handleReindex))
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"chunks":   s.corpus.Len(),
		"sessions": s.svc.Sessions.Len(),
		"cache":    s.svc.Cache.Len(),
	})
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	switch r.Method {
	case http.MethodGet:
		req.Query = r.URL.Query().Get("q")
		if v := r.URL.Query().Get("k"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "invalid k", http.StatusBadRequest)
				return
			}
			req.TopK = n
		}
	case http.MethodPost:
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	sid := auth.SessionFromContext(r)
	res, err := s.svc.Ask(ctx, search.Request{Query: req.Query, SessionID: sid, TopK: req.TopK})
	if res.SessionID != "" && res.SessionID != sid {
		if terr := s.issuer.SetToken(w, res.SessionID); terr != nil {
			log.Error().Err(terr).Msg("failed to issue session token")
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range res.Sources {
		res.Sources[i].Score = finite(res.Sources[i].Score)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query().Get("q")
	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid k", http.StatusBadRequest)
			return
		}
		k = n
	}
	if q == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.svc.Search(ctx, q, k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, output(res))

	hlog.FromRequest(r).Info().Str("path", "/search").Str("q", q).Int("k", k).Dur("dur", time.Since(start)).Msg("served")
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sid := auth.SessionFromContext(r)
	if sid == "" || !s.svc.Reset(sid) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleContext(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.svc.Sessions.Get(auth.SessionFromContext(r))
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	docs, err := s.store.GetDocuments(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowReindex {
		http.Error(w, "reindex disabled", http.StatusForbidden)
		return
	}
	if !s.reindexMu.TryLock() {
		http.Error(w, "reindex already running", http.StatusConflict)
		return
	}
	defer s.reindexMu.Unlock()

	if s.indexer != nil {
		if err := s.indexer.Run(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	n, err := indexer.LoadCorpus(r.Context(), s.store, s.corpus)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"chunks": n, "documents": len(s.corpus.Documents())}
	if s.indexer != nil {
		resp["stats"] = s.indexer.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps pipeline errors onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, search.ErrEmptyQuery), errors.Is(err, retrieval.ErrInvalidTopK):
		status = http.StatusBadRequest
	case errors.Is(err, retrieval.ErrEmptyCorpus):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, retrieval.ErrEmbeddingFailure):
		status = http.StatusBadGateway
	}
	hlog.FromRequest(r).Warn().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
