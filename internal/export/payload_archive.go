package export

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/storage"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

// PayloadArchiver stores the raw leaf payloads exactly as received, so a
// flattening bug can be diagnosed and replayed without calling the vendor
// again.
type PayloadArchiver struct {
	cfg      config.ArchiveConfig
	resolver *storage.Resolver
}

// NewPayloadArchiver creates a PayloadArchiver from the application
// configuration.
func NewPayloadArchiver(cfg *config.Config, resolver *storage.Resolver) *PayloadArchiver {
	return &PayloadArchiver{cfg: cfg.Regsync.Pipeline.PayloadArchive, resolver: resolver}
}

// Enabled reports whether payload archiving is configured.
func (p *PayloadArchiver) Enabled() bool {
	return p.cfg.Enabled
}

// Archive writes each record's payload under
// payloads/dt=YYYY-MM-DD/<accession>/<analysis>_<export>_<ordinal>.json.
// Failures are aggregated and returned; archiving never aborts the run.
func (p *PayloadArchiver) Archive(ctx context.Context, records []model.ExportRecord) error {
	if len(records) == 0 {
		return nil
	}
	if p.cfg.StorageRef == "" {
		return exception.NewPipelineError(moduleName, "payload_archive.storage_ref is not configured", nil, false, false)
	}

	conn, err := p.resolver.Resolve(p.cfg.StorageRef)
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to resolve storage connection", err, false, true)
	}

	datePart := "dt=" + time.Now().Format("2006-01-02")
	var errs *multierror.Error
	for ordinal, record := range records {
		objectName := filepath.Join("payloads", datePart, record.Key.Accession(),
			fmt.Sprintf("%s_%s_%d.json", record.AnalysisID, record.ExportID, ordinal))
		if err := conn.Upload(ctx, "", objectName, bytes.NewReader(record.Payload), "application/json"); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to archive payload '%s': %w", objectName, err))
		}
	}
	if errs.ErrorOrNil() != nil {
		return errs.ErrorOrNil()
	}
	logger.Infof("Archived %d raw payloads.", len(records))
	return nil
}
