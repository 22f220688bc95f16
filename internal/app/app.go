// Package app wires configuration into a smoke run: ledger client,
// artifact locator, optional Cloud Storage and the BigQuery run history.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/ledgerx-smoke/internal/artifact"
	"github.com/dvloznov/ledgerx-smoke/internal/config"
	"github.com/dvloznov/ledgerx-smoke/internal/ledgerclient"
	"github.com/dvloznov/ledgerx-smoke/internal/logger"
	"github.com/dvloznov/ledgerx-smoke/internal/runstore"
	"github.com/dvloznov/ledgerx-smoke/internal/smoke"
)

const recordTimeout = 30 * time.Second

// Options override collaborators. Nil fields are built from the config.
type Options struct {
	RunID    string
	Store    artifact.ObjectStore
	Recorder runstore.Recorder
	Out      io.Writer
}

// Run performs one smoke run. The error is non-nil only when the run could
// not be set up; scenario failures are reported through the report.
func Run(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*smoke.Report, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log = logger.WithRun(log, runID)
	ctx = logger.WithContext(ctx, log)

	store := opts.Store
	if store == nil && (cfg.ArchiveBucket != "" || cfg.StorageEndpoint != "") {
		gcs, err := artifact.NewGCSStore(ctx, cfg.StorageEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		defer gcs.Close()
		store = gcs
	}

	recorder := opts.Recorder
	if recorder == nil {
		rec, closeFn, err := newRecorder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		recorder = rec
	}

	deps := smoke.Deps{
		API:     ledgerclient.NewClient(cfg.BaseURL, cfg.RequestTimeout, runID, log),
		Locator: artifact.NewLocator(cfg.ResolveFallbackDir(), store, log),
		Out:     opts.Out,
	}
	if store != nil {
		deps.Uploader = store
	}

	report := smoke.NewRunner(cfg, deps, runID, log).Run(ctx)

	// The run context may already be canceled; the outcome is still recorded.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := recorder.Record(recordCtx, runstore.RowFromReport(report)); err != nil {
		log.Warn().Err(err).Msg("Failed to record smoke run")
	}

	return report, nil
}

func newRecorder(ctx context.Context, cfg *config.Config) (runstore.Recorder, func(), error) {
	if cfg.RunsProject == "" {
		return runstore.NopRecorder{}, func() {}, nil
	}
	bq, err := runstore.NewBigQueryStore(ctx, cfg.RunsProject, cfg.RunsDataset, cfg.RunsTable)
	if err != nil {
		return nil, nil, err
	}
	return bq, func() { _ = bq.Close() }, nil
}

// History opens the configured run history.
func History(ctx context.Context, cfg *config.Config) (*runstore.BigQueryStore, error) {
	if cfg.RunsProject == "" {
		return nil, fmt.Errorf("runs_project is not configured (set %sRUNS_PROJECT)", config.EnvPrefix)
	}
	return runstore.NewBigQueryStore(ctx, cfg.RunsProject, cfg.RunsDataset, cfg.RunsTable)
}
