package main

import (
	"context"
	"embed"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"github.com/varilab/regsync/internal/app"
	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/support/logger"
	"github.com/varilab/regsync/internal/telemetry/archive"
	"github.com/varilab/regsync/internal/vocab"

	// Dialectors for the run archive and the local storage adapter register
	// themselves on import.
	_ "github.com/varilab/regsync/internal/storage/local"
	_ "github.com/varilab/regsync/internal/telemetry/archive/mysql"
	_ "github.com/varilab/regsync/internal/telemetry/archive/postgres"
	_ "github.com/varilab/regsync/internal/telemetry/archive/sqlite"
)

// embeddedConfig embeds the application's YAML configuration file.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// embeddedVocabularies embeds the controlled-vocabulary dictionaries used to
// translate vendor terms on flattened records.
//
//go:embed resources/vocabularies.yaml
var embeddedVocabularies []byte

// migrationsFS embeds the schema migrations for the run archive.
//
//go:embed all:resources/migrations
var migrationsFS embed.FS

// main is the entry point of the application. It installs signal handling
// for graceful shutdown and hands control to the Fx application.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the run...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	app.RunApplication(
		ctx,
		envFilePath,
		config.EmbeddedConfig(embeddedConfig),
		vocab.EmbeddedVocabularies(embeddedVocabularies),
		archive.MigrationsFS{FS: migrationsFS, Path: "resources/migrations"},
	)
}
