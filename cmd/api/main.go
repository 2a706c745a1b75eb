package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/notesearch/internal/ai"
	"github.com/seanblong/notesearch/internal/auth"
	"github.com/seanblong/notesearch/internal/cache"
	"github.com/seanblong/notesearch/internal/config"
	"github.com/seanblong/notesearch/internal/conversation"
	"github.com/seanblong/notesearch/internal/corpus"
	"github.com/seanblong/notesearch/internal/indexer"
	"github.com/seanblong/notesearch/internal/rerank"
	"github.com/seanblong/notesearch/internal/search"
	"github.com/seanblong/notesearch/internal/store"
	"github.com/spf13/pflag"
)

// backend is what the API needs from a store: chunks for the corpus and a
// place to persist the cache.
type backend interface {
	store.ChunkStore
	store.CacheStore
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("notesearch-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("persistent", cfg.Database != "").Msg("starting notesearch api")

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid provider")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create AI client")
	}

	// Use the AI client's dimension for database migration
	dim := c.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	var (
		st backend
		ix *indexer.Indexer
	)
	if cfg.Database != "" {
		pg, err := store.New(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pg.Close()
		if err := pg.Migrate(ctx, dim); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		st = pg
	} else {
		// Without a database the API indexes the vault itself.
		mem := store.NewMemoryStore()
		ix = indexer.NewWithDependencies(mem, cfg.VaultRoot, c, &indexer.DefaultFileSystemWalker{}, &indexer.DefaultFileReader{})
		ix.MaxTokens = cfg.MaxTokens
		ix.Workers = cfg.Workers
		if err := ix.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to index vault")
		}
		st = mem
	}

	idx := corpus.New()
	n, err := indexer.LoadCorpus(ctx, st, idx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load corpus")
	}
	logger.Info().Int("chunks", n).Int("documents", len(idx.Documents())).Msg("corpus loaded")
	if n == 0 {
		logger.Warn().Str("vault", cfg.VaultRoot).Msg("corpus is empty, queries will fail until notes are indexed")
	}

	svc, err := search.NewService(ctx, c, idx, serviceConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build search service")
	}

	if cfg.Cache.Persist && cfg.Database != "" {
		entries, err := st.LoadCacheEntries(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load persisted cache")
		} else {
			logger.Info().Int("restored", svc.Cache.Restore(entries)).Int("persisted", len(entries)).Msg("cache restored")
		}
	}

	issuer := auth.NewIssuer(cfg.Session.Secret, cfg.Session.TTL)
	issuer.Required = cfg.Session.RequireToken
	issuer.Secure = cfg.Session.SecureCookie

	srv := &server{
		svc:     svc,
		issuer:  issuer,
		store:   st,
		corpus:  idx,
		indexer: ix,

		allowReindex: cfg.Session.AllowReindex,
		timeout:      30 * time.Second,
	}

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(srv.routes()),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info().Str("addr", s.Addr).Msg("api server listening")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if cfg.Cache.Persist && cfg.Database != "" {
		entries := svc.Cache.Snapshot()
		if err := st.SaveCacheEntries(shutdownCtx, entries); err != nil {
			logger.Error().Err(err).Msg("failed to persist cache")
		} else {
			logger.Info().Int("entries", len(entries)).Msg("cache persisted")
		}
	}
}

func serviceConfig(cfg config.Specification) search.Config {
	sc := search.Config{
		TopK:              cfg.Search.TopK,
		CandidateFactor:   cfg.Search.CandidateFactor,
		RerankEnabled:     cfg.Rerank.Enabled,
		RerankConcurrency: cfg.Rerank.Concurrency,
		TopicThreshold:    cfg.Topic.Threshold,
		Cache: cache.Options{
			MaxEntries:   cfg.Cache.MaxEntries,
			QueryTTL:     cfg.Cache.QueryTTL,
			SynthesisTTL: cfg.Cache.SynthesisTTL,
		},
		MaxSessions: cfg.Conversation.MaxSessions,
		Conversation: conversation.Options{
			HistorySize:  cfg.Conversation.History,
			InterestSize: cfg.Conversation.Interests,
		},
	}
	if cfg.Rerank.CalibrationMax > cfg.Rerank.CalibrationMin {
		sc.Calibration = &rerank.Calibration{Min: cfg.Rerank.CalibrationMin, Max: cfg.Rerank.CalibrationMax}
	}
	return sc
}
