package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mediastash-io/mediastash/internal/config"
	"github.com/mediastash-io/mediastash/internal/objectstore"
	"github.com/mediastash-io/mediastash/internal/staging"
	"github.com/mediastash-io/mediastash/internal/sweeper"
)

func newSweepCmd() *cobra.Command {
	var (
		sweepStaging bool
		sweepObjects bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run lifecycle sweeps once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !sweepStaging && !sweepObjects {
				sweepStaging = true
				sweepObjects = true
			}
			return runSweep(sweepStaging, sweepObjects)
		},
	}

	cmd.Flags().BoolVar(&sweepStaging, "staging", false, "sweep expired staging directories")
	cmd.Flags().BoolVar(&sweepObjects, "objects", false, "sweep expired stored objects")

	return cmd
}

func runSweep(stagingPass, objectsPass bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	stagingArea, err := staging.NewArea(cfg.Storage.StagingRoot)
	if err != nil {
		return err
	}

	objects, err := objectstore.New(cfg.Storage.StorageRoot)
	if err != nil {
		return err
	}

	sw := sweeper.New(stagingArea, objects, nil, cfg.Storage.ChunkTimeout, cfg.Storage.RetentionDays)
	now := time.Now()

	if stagingPass {
		deleted, err := sw.PurgeExpiredStaging(now)
		if err != nil {
			return err
		}
		log.Info().Int("deleted", deleted).Msg("Staging sweep finished")
	}

	if objectsPass {
		result, err := sw.PurgeExpiredObjects(now)
		if err != nil {
			return err
		}
		log.Info().
			Int("scanned", result.Scanned).
			Int("deleted", result.Deleted).
			Int("errors", result.Errors).
			Int64("freed_bytes", result.FreedBytes).
			Msg("Object sweep finished")
	}

	return nil
}
