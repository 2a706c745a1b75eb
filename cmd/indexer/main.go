package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/notesearch/internal/config"
	"github.com/seanblong/notesearch/internal/indexer"
	"github.com/seanblong/notesearch/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("notesearch-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	log.Logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	if cfg.Database == "" {
		log.Fatal().Msg("NOTESEARCH_DB_URL is required for the standalone indexer")
	}

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid provider")
	}
	log.Info().Str("provider", string(clientConfig.Provider)).Str("vault", cfg.VaultRoot).Msg("starting notesearch indexer")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()

	ix, err := indexer.New(st, cfg.VaultRoot, clientConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create indexer")
	}
	ix.MaxTokens = cfg.MaxTokens
	ix.Workers = cfg.Workers

	if ix.Client.Dim() == 0 {
		log.Fatal().Msg("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, ix.Client.Dim()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	if err := ix.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("indexing failed")
	}
}
