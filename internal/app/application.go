// Package app assembles the Fx application and drives one sync run from
// startup to shutdown.
package app

import (
	"context"

	"go.uber.org/fx"

	"github.com/varilab/regsync/internal/client/interp"
	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/export"
	"github.com/varilab/regsync/internal/metrics"
	"github.com/varilab/regsync/internal/pipeline"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/resolver"
	"github.com/varilab/regsync/internal/storage"
	"github.com/varilab/regsync/internal/support/logger"
	"github.com/varilab/regsync/internal/syncer"
	"github.com/varilab/regsync/internal/telemetry"
	"github.com/varilab/regsync/internal/telemetry/archive"
	"github.com/varilab/regsync/internal/tracing"
	"github.com/varilab/regsync/internal/traverse"
	"github.com/varilab/regsync/internal/vocab"
)

// RunApplication sets up and runs the sync application using uber-fx. It
// blocks until the run finishes or the context is cancelled. A fatal run
// error exits the process non-zero; a run that completed with item-level
// failures exits zero, because those failures are recorded on the
// synchronized records themselves.
func RunApplication(
	appCtx context.Context,
	envFilePath string,
	embeddedConfig config.EmbeddedConfig,
	embeddedVocabularies vocab.EmbeddedVocabularies,
	migrations archive.MigrationsFS,
) {
	app := fx.New(
		fx.Supply(
			config.ConfigParams{EmbeddedConfig: embeddedConfig, EnvFilePath: envFilePath},
			embeddedVocabularies,
			migrations,
			fx.Annotate(
				appCtx,
				fx.As(new(context.Context)),
				fx.ResultTags(`name:"appCtx"`),
			),
		),
		fx.Provide(config.NewConfigProvider),

		metrics.Module,
		interp.Module,
		registry.Module,
		resolver.Module,
		traverse.Module,
		vocab.Module,
		syncer.Module,
		storage.Module,
		export.Module,
		telemetry.Module,
		tracing.Module,
		pipeline.Module,

		fx.Invoke(fx.Annotate(startSyncRun, fx.ParamTags(
			"",              // lc fx.Lifecycle
			"",              // shutdowner fx.Shutdowner
			"",              // pipe *pipeline.Pipeline
			"",              // tracer *tracing.Tracer
			"",              // stores *storage.Resolver
			"",              // arch *archive.Archive
			`name:"appCtx"`, // appCtx context.Context
		))),
	)

	app.Run()

	if app.Err() != nil {
		logger.Fatalf("Application run failed: %v", app.Err())
	}
}

// startSyncRun launches the pipeline when the Fx application starts and
// requests shutdown when the run finishes.
func startSyncRun(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	pipe *pipeline.Pipeline,
	tracer *tracing.Tracer,
	stores *storage.Resolver,
	arch *archive.Archive,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				exitCode := 0
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered during sync run: %v", r)
						exitCode = 1
					}
					if err := shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()

				if err := pipe.Run(appCtx); err != nil {
					logger.Errorf("Sync run failed: %v", err)
					exitCode = 1
					return
				}
				logger.Infof("Sync run completed.")
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := tracer.Shutdown(ctx); err != nil {
				logger.Warnf("Trace exporter shutdown failed: %v", err)
			}
			if arch != nil {
				if err := arch.Close(); err != nil {
					logger.Warnf("Run archive close failed: %v", err)
				}
			}
			if err := stores.CloseAll(); err != nil {
				logger.Warnf("Storage connection close failed: %v", err)
			}
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}
