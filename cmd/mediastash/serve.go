package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mediastash-io/mediastash/internal/api"
	"github.com/mediastash-io/mediastash/internal/config"
	"github.com/mediastash-io/mediastash/internal/dedup"
	"github.com/mediastash-io/mediastash/internal/manager"
	"github.com/mediastash-io/mediastash/internal/objectstore"
	"github.com/mediastash-io/mediastash/internal/observability"
	"github.com/mediastash-io/mediastash/internal/session"
	"github.com/mediastash-io/mediastash/internal/staging"
	"github.com/mediastash-io/mediastash/internal/sweeper"
	"github.com/mediastash-io/mediastash/internal/validator"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload ingest server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Msg("Starting Mediastash")

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create database directory")
	}

	store, err := session.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer store.Close()

	stagingArea, err := staging.NewArea(cfg.Storage.StagingRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize staging area")
	}

	objects, err := objectstore.New(cfg.Storage.StorageRoot)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize object store")
	}

	index := dedup.NewFileIndex(
		filepath.Join(cfg.Storage.StorageRoot, objectstore.IndexFilename),
		objects.Exists,
	)

	metrics := observability.NewMetrics()
	metadata := validator.NewMetadata(cfg.Upload.MaxFileSize, cfg.Upload.AllowedTypes)
	mgr := manager.New(store, stagingArea, objects, index, metadata, metrics, cfg.Upload.ChunkSize)

	sw := sweeper.New(stagingArea, objects, metrics, cfg.Storage.ChunkTimeout, cfg.Storage.RetentionDays)
	if err := sw.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start sweeper")
	}
	defer sw.Stop()

	server := api.NewServer(cfg, mgr, objects, metrics)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
	return nil
}
