package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cordmetrics/pkg/config"
	"cordmetrics/pkg/external"
	"cordmetrics/pkg/logging"
	"cordmetrics/pkg/pipeline"
	"cordmetrics/pkg/segmentation"
	"cordmetrics/pkg/segmentation/gcsstore"
)

func runPipeline(ctx context.Context, cfg *config.Config, subject, session string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	layout := pipeline.Layout{Log: cfg.Paths.Log}
	log, logCloser, err := logging.New(logging.Options{
		Level: cfg.Output.LogLevel,
		File:  layout.RunLog(subject, session),
		RunID: runID,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logCloser.Close()

	store, storeCloser, err := openStore(ctx, cfg, runID, logging.Component(log, "store"))
	if err != nil {
		return err
	}
	defer storeCloser.Close()

	runner := external.NewExecRunner(logging.Component(log, "external"))
	toolkit := &external.Toolkit{
		Runner:   runner,
		Contrast: cfg.Contrast,
		QCDir:    cfg.Paths.QC,
		Tools: external.Tools{
			Cord:           cfg.Segmentation.Tools.Cord,
			GrayMatter:     cfg.Segmentation.Tools.GrayMatter,
			Maths:          cfg.Segmentation.Tools.Maths,
			QC:             cfg.Segmentation.Tools.QC,
			LabelVertebrae: cfg.Segmentation.Tools.LabelVertebrae,
		},
	}

	collab := pipeline.Collaborators{
		Store:      store,
		Segmenters: toolkit.Segmenters(),
		Labeler:    toolkit,
		Ghosting: &external.GhostingMask{
			Runner: runner,
			Script: cfg.Ghosting.Script,
			Smooth: cfg.Ghosting.Smooth,
			Bins:   cfg.Ghosting.Bins,
		},
	}
	if cfg.QC.Enabled {
		collab.QC = toolkit
	}

	processor, err := pipeline.NewProcessor(
		&pipeline.Params{Subject: subject, Session: session, Config: cfg},
		collab,
		logging.Component(log, "pipeline"),
	)
	if err != nil {
		return err
	}

	runErr := processor.Process(ctx)
	if err := processor.WriteTelemetry(cfg.Output.MetricsFile); err != nil {
		log.Warn().Err(err).Msg("failed to write metrics textfile")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("run failed")
		return runErr
	}
	return nil
}

// openStore builds the configured segmentation store. The closer releases
// backend resources.
func openStore(ctx context.Context, cfg *config.Config, runID string, log zerolog.Logger) (segmentation.Store, io.Closer, error) {
	fs := segmentation.NewFSStore(cfg.Paths.Data, cfg.Paths.Processed, cfg.Contrast)

	switch cfg.Segmentation.Store {
	case "badger":
		store, err := segmentation.OpenBadgerStore(cfg.Segmentation.BadgerDir, fs, runID, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil

	case "gcs":
		bucket, err := gcsstore.NewGCSBucket(ctx, cfg.Segmentation.Bucket, cfg.Segmentation.Credentials)
		if err != nil {
			return nil, nil, err
		}
		store := gcsstore.New(bucket, cfg.Segmentation.Prefix, cfg.Segmentation.CacheDir, cfg.Contrast)
		return store, bucket, nil

	default:
		return fs, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
