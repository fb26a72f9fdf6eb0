// Package export writes the synchronized rows out as parquet files for
// downstream analysis, partitioned by run date. The export is best-effort:
// a failed partition is reported but never fails the run that produced the
// data.
package export

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/flatten"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/storage"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

const moduleName = "export"

// parquetRow is the parquet schema of one exported record. The stable
// ancestry and change-tracking columns are first-class; everything else is
// carried as a JSON document.
type parquetRow struct {
	Id               string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	BelongsToFamily  string `parquet:"name=belongs_to_family, type=BYTE_ARRAY, convertedtype=UTF8"`
	BelongsToSubject string `parquet:"name=belongs_to_subject, type=BYTE_ARRAY, convertedtype=UTF8"`
	AnalysisId       string `parquet:"name=analysis_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExportId         string `parquet:"name=export_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	DateFirstRun     string `parquet:"name=date_first_run, type=BYTE_ARRAY, convertedtype=UTF8"`
	DateLastUpdated  string `parquet:"name=date_last_updated, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes       string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Exporter writes row batches as parquet files through a storage
// connection.
type Exporter struct {
	cfg      config.ExportConfig
	resolver *storage.Resolver
}

// NewExporter creates an Exporter from the application configuration.
func NewExporter(cfg *config.Config, resolver *storage.Resolver) *Exporter {
	return &Exporter{cfg: cfg.Regsync.Pipeline.Export, resolver: resolver}
}

// Enabled reports whether the export step is configured to run.
func (e *Exporter) Enabled() bool {
	return e.cfg.Enabled
}

// Export writes one entity's rows as a parquet file under
// output_base_dir/entity/dt=YYYY-MM-DD/. Partition failures are aggregated;
// the caller logs them as a step comment.
func (e *Exporter) Export(ctx context.Context, entity string, rows []registry.Row) error {
	if len(rows) == 0 {
		logger.Infof("Export of %s skipped: no rows.", entity)
		return nil
	}
	if e.cfg.StorageRef == "" {
		return exception.NewPipelineError(moduleName, "export.storage_ref is not configured", nil, false, false)
	}

	conn, err := e.resolver.Resolve(e.cfg.StorageRef)
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to resolve storage connection", err, false, true)
	}

	codec, err := compressionCodec(e.cfg.CompressionType)
	if err != nil {
		return exception.NewPipelineError(moduleName, "invalid compression type", err, false, false)
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(parquetRow), int64(len(rows)))
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to create parquet writer", err, false, false)
	}
	pw.CompressionType = codec

	var errs *multierror.Error
	for _, row := range rows {
		if err := pw.Write(toParquetRow(row)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to write row %s: %w", row[flatten.ColumnID], err))
		}
	}
	if err := writeStop(pw); err != nil {
		errs = multierror.Append(errs, err)
		return exception.NewPipelineError(moduleName, "failed to finalize parquet file for "+entity, errs.ErrorOrNil(), false, false)
	}

	fileName := fmt.Sprintf("data_%s_%s.parquet", time.Now().Format("20060102150405"), randomSuffix())
	objectName := filepath.Join(e.cfg.OutputBaseDir, entity,
		"dt="+time.Now().Format("2006-01-02"), fileName)

	if err := conn.Upload(ctx, "", objectName, buf, "application/octet-stream"); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to upload parquet file '%s': %w", objectName, err))
		return exception.NewPipelineError(moduleName, "export upload failed for "+entity, errs.ErrorOrNil(), false, true)
	}

	logger.Infof("Exported %d rows of %s to %s.", len(rows), entity, objectName)
	return errs.ErrorOrNil()
}

// writeStop finalizes the parquet file, converting library panics into
// errors.
func writeStop(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	if stopErr := pw.WriteStop(); stopErr != nil {
		return fmt.Errorf("failed to stop parquet writer: %w", stopErr)
	}
	return nil
}

// toParquetRow splits a registry row into the fixed parquet columns and a
// JSON attributes document for everything else.
func toParquetRow(row registry.Row) parquetRow {
	fixed := map[string]struct{}{
		flatten.ColumnID:       {},
		flatten.ColumnFamily:   {},
		flatten.ColumnSubject:  {},
		flatten.ColumnAnalysis: {},
		flatten.ColumnExport:   {},
		"dateFirstRun":         {},
		"dateLastUpdated":      {},
	}
	attributes := make(map[string]string, len(row))
	for column, value := range row {
		if _, ok := fixed[column]; ok {
			continue
		}
		attributes[column] = value
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		encoded = []byte("{}")
	}
	return parquetRow{
		Id:               row[flatten.ColumnID],
		BelongsToFamily:  row[flatten.ColumnFamily],
		BelongsToSubject: row[flatten.ColumnSubject],
		AnalysisId:       row[flatten.ColumnAnalysis],
		ExportId:         row[flatten.ColumnExport],
		DateFirstRun:     row["dateFirstRun"],
		DateLastUpdated:  row["dateLastUpdated"],
		Attributes:       string(encoded),
	}
}

// compressionCodec maps the configured compression name to its parquet
// codec.
func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return parquet.CompressionCodec_UNCOMPRESSED, fmt.Errorf("unsupported compression type: %s", name)
	}
}

func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
