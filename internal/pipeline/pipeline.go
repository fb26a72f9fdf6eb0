// Package pipeline orchestrates one sync run: resolve vendor identifiers,
// traverse the vendor's nested resources, flatten the leaf payloads, and
// upsert the result into the registry, with every stage wrapped in
// telemetry. Item-level failures are recorded and skipped; run-level
// failures stop the run after the telemetry has been flushed.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/varilab/regsync/internal/client/interp"
	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/export"
	"github.com/varilab/regsync/internal/flatten"
	"github.com/varilab/regsync/internal/metrics"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/resolver"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
	"github.com/varilab/regsync/internal/syncer"
	"github.com/varilab/regsync/internal/telemetry"
	"github.com/varilab/regsync/internal/tracing"
	"github.com/varilab/regsync/internal/traverse"
	"github.com/varilab/regsync/internal/vocab"
)

const moduleName = "pipeline"

// Pipeline wires the sync stages together.
type Pipeline struct {
	cfg       *config.Config
	interp    *interp.Client
	registry  *registry.Client
	resolver  *resolver.Resolver
	engine    *traverse.Engine
	upserter  *syncer.Upserter
	mapper    *vocab.Mapper
	exporter  *export.Exporter
	payloads  *export.PayloadArchiver
	telemetry *telemetry.Service
	tracer    *tracing.Tracer
	recorder  metrics.Recorder
}

// New creates a Pipeline.
func New(
	cfg *config.Config,
	interpClient *interp.Client,
	registryClient *registry.Client,
	idResolver *resolver.Resolver,
	engine *traverse.Engine,
	upserter *syncer.Upserter,
	mapper *vocab.Mapper,
	exporter *export.Exporter,
	payloads *export.PayloadArchiver,
	telemetryService *telemetry.Service,
	tracer *tracing.Tracer,
	recorder metrics.Recorder,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		interp:    interpClient,
		registry:  registryClient,
		resolver:  idResolver,
		engine:    engine,
		upserter:  upserter,
		mapper:    mapper,
		exporter:  exporter,
		payloads:  payloads,
		telemetry: telemetryService,
		tracer:    tracer,
		recorder:  recorder,
	}
}

// runData carries state between stages of one run.
type runData struct {
	mappings      []*model.SubjectMapping
	knownSubjects map[string]struct{}
	priorMappings map[string]registry.Row
}

// Run executes one sync run end to end. The returned error is nil when the
// run completed, even if individual items were skipped with classified
// errors; those are recorded on the synchronized entities themselves.
func (p *Pipeline) Run(ctx context.Context) error {
	if timeout := p.cfg.Regsync.Pipeline.RunTimeoutSeconds; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	if err := p.telemetry.StartRun(ctx); err != nil {
		return err
	}
	ctx, finishRun := p.tracer.StartRunSpan(ctx, p.telemetry.Run())
	defer finishRun()

	data, err := p.resolveStage(ctx)
	if err != nil {
		return err
	}

	records, err := p.traverseStage(ctx, data)
	if err != nil {
		return err
	}

	rows, err := p.flattenStage(ctx, records)
	if err != nil {
		return err
	}

	if err := p.writeStage(ctx, data, rows); err != nil {
		return err
	}

	p.exportStage(ctx, rows)

	return p.telemetry.StopRun(ctx)
}

// resolveStage loads the source subjects, merges them with the prior
// mapping rows, and resolves vendor identifiers for every unresolved key.
func (p *Pipeline) resolveStage(ctx context.Context) (*runData, error) {
	entities := p.cfg.Regsync.Entities
	step, err := p.telemetry.StartStep(ctx, "resolve", "identifier-resolution", entities.Mappings)
	if err != nil {
		return nil, p.telemetry.Abort(ctx, nil, err)
	}
	ctx, finishSpan := p.tracer.StartStepSpan(ctx, step)
	defer finishSpan()

	subjects, err := p.registry.GetRows(ctx, entities.Subjects, nil)
	if err != nil {
		return nil, p.telemetry.Abort(ctx, step, err)
	}
	if len(subjects) == 0 {
		cause := fmt.Errorf("%w: entity %s has no rows", exception.ErrSourceDataNotAvailable, entities.Subjects)
		return nil, p.telemetry.Abort(ctx, step, cause)
	}

	priorRows, err := p.registry.GetRows(ctx, entities.Mappings, nil)
	if err != nil {
		return nil, p.telemetry.Abort(ctx, step, err)
	}
	priorMappings := make(map[string]registry.Row, len(priorRows))
	for _, row := range priorRows {
		priorMappings[row[mappingColumnID]] = row
	}

	data := &runData{
		knownSubjects: make(map[string]struct{}, len(subjects)),
		priorMappings: priorMappings,
	}
	for _, subject := range subjects {
		key := model.LocalKey{
			FamilyID:  subject[flatten.ColumnFamily],
			SubjectID: subject[mappingColumnID],
		}
		data.knownSubjects[key.SubjectID] = struct{}{}
		if prior, ok := priorMappings[key.Accession()]; ok {
			data.mappings = append(data.mappings, mappingFromRow(prior))
		} else {
			data.mappings = append(data.mappings, &model.SubjectMapping{Key: key})
		}
	}

	if err := p.interp.Authenticate(ctx); err != nil {
		return nil, p.telemetry.Abort(ctx, step, err)
	}

	summary, err := p.resolver.Resolve(ctx, data.mappings)
	if err != nil {
		return nil, p.telemetry.Abort(ctx, step, err)
	}
	for _, mapping := range data.mappings {
		if mapping.HasError {
			p.recorder.RecordItemError(ctx, "resolve", string(mapping.ErrorKind))
		}
	}

	// Only new or changed mappings are written back, so an unchanged row's
	// update date never toggles.
	var outgoing []registry.Row
	for _, mapping := range data.mappings {
		prior, existed := p.priorMapping(data, mapping)
		if existed && !mappingChanged(mapping, prior) {
			continue
		}
		outgoing = append(outgoing, mappingToRow(mapping))
	}
	prior := syncer.PriorStates(mappingRowValues(data.priorMappings))
	p.upserter.Annotate(outgoing, prior)

	if err := p.importChunks(ctx, entities.Mappings, mappingColumns, outgoing); err != nil {
		return nil, p.telemetry.Abort(ctx, step, err)
	}
	p.recorder.RecordItemsWritten(ctx, entities.Mappings, len(outgoing))

	comment := fmt.Sprintf("%d subjects; %d resolved, %d failed, %d unchanged",
		len(data.mappings), summary.Resolved, summary.Failed, summary.Skipped)
	p.telemetry.StopStep(ctx, step, model.StepStatusSuccess, comment)
	return data, nil
}

// traverseStage walks patient, analysis, export request and export payload
// for every resolved mapping.
func (p *Pipeline) traverseStage(ctx context.Context, data *runData) ([]model.ExportRecord, error) {
	entities := p.cfg.Regsync.Entities
	step, err := p.telemetry.StartStep(ctx, "traverse", "vendor-traversal", entities.Variants)
	if err != nil {
		return nil, p.telemetry.Abort(ctx, nil, err)
	}
	ctx, finishSpan := p.tracer.StartStepSpan(ctx, step)
	defer finishSpan()

	records, stats, err := p.engine.Traverse(ctx, data.mappings)
	if err != nil {
		return nil, p.telemetry.Abort(ctx, step, exception.ClassifyTransport(err))
	}

	if p.payloads.Enabled() {
		if err := p.payloads.Archive(ctx, records); err != nil {
			logger.Warnf("Raw payload archiving failed: %v", err)
			p.telemetry.Run().AppendComment("payload archive incomplete")
		}
	}

	comment := fmt.Sprintf("%d subjects, %d analyses (%d completed), %d exports, %d records, %d failures",
		stats.Subjects, stats.Analyses, stats.Completed, stats.Exports, stats.Records, stats.Failures)
	p.telemetry.StopStep(ctx, step, model.StepStatusSuccess, comment)
	return records, nil
}

// flattenStage reduces the leaf payloads to registry rows and applies the
// vocabulary dictionaries. Records that fail flattening become error rows.
func (p *Pipeline) flattenStage(ctx context.Context, records []model.ExportRecord) ([]registry.Row, error) {
	entities := p.cfg.Regsync.Entities
	step, err := p.telemetry.StartStep(ctx, "flatten", "record-flattening", entities.Variants)
	if err != nil {
		return nil, p.telemetry.Abort(ctx, nil, err)
	}
	ctx, finishSpan := p.tracer.StartStepSpan(ctx, step)
	defer finishSpan()

	flattened, failed := flatten.Flatten(records)
	for _, record := range flattened {
		for _, column := range p.mapper.Columns() {
			if value, ok := record.Static[column]; ok {
				mapped, _ := p.mapper.Map(column, value)
				record.Static[column] = mapped
			}
		}
	}
	for _, unmapped := range p.mapper.Report() {
		logger.Warnf("No vocabulary translation for %s=%q (%d occurrences).",
			unmapped.Column, unmapped.Term, unmapped.Count)
	}

	rows := make([]registry.Row, 0, len(flattened)+len(failed))
	for _, record := range flattened {
		rows = append(rows, record.Row())
	}
	for _, record := range failed {
		rows = append(rows, record.Row())
		p.recorder.RecordItemError(ctx, "flatten", string(record.Err.Kind))
	}

	comment := fmt.Sprintf("%d records flattened, %d failed", len(flattened), len(failed))
	p.telemetry.StopStep(ctx, step, model.StepStatusSuccess, comment)
	return rows, nil
}

// writeStage upserts the rows into the variants entity, auto-registering
// dangling subject references first and keeping the per-subject analysis
// reference sets monotone.
func (p *Pipeline) writeStage(ctx context.Context, data *runData, rows []registry.Row) error {
	entities := p.cfg.Regsync.Entities
	step, err := p.telemetry.StartStep(ctx, "write", "change-detection-upsert", entities.Variants)
	if err != nil {
		return p.telemetry.Abort(ctx, nil, err)
	}
	ctx, finishSpan := p.tracer.StartStepSpan(ctx, step)
	defer finishSpan()

	existing, err := p.registry.GetRows(ctx, entities.Variants, nil)
	if err != nil {
		return p.telemetry.Abort(ctx, step, err)
	}
	p.upserter.Annotate(rows, syncer.PriorStates(existing))

	stubs := syncer.ScanReferences(rows, []string{flatten.ColumnSubject}, data.knownSubjects)
	if len(stubs) > 0 {
		if err := p.importChunks(ctx, entities.Subjects, syncer.StubColumns, syncer.StubRows(stubs)); err != nil {
			return p.telemetry.Abort(ctx, step, err)
		}
	}

	columns := registry.ColumnSet(append([]string{
		flatten.ColumnID, flatten.ColumnFamily, flatten.ColumnSubject,
		flatten.ColumnAnalysis, flatten.ColumnExport,
		flatten.ColumnHasError, flatten.ColumnErrorKind, flatten.ColumnErrorMsg,
	}, syncer.ColumnDateFirstRun, syncer.ColumnDateLastUpdated, syncer.ColumnComments), rows)
	if err := p.importChunks(ctx, entities.Variants, columns, rows); err != nil {
		return p.telemetry.Abort(ctx, step, err)
	}
	p.recorder.RecordItemsWritten(ctx, entities.Variants, len(rows))

	if err := p.mergeAnalysisReferences(ctx, data, rows); err != nil {
		return p.telemetry.Abort(ctx, step, err)
	}

	comment := fmt.Sprintf("%d rows written, %d stubs auto-registered", len(rows), len(stubs))
	p.telemetry.StopStep(ctx, step, model.StepStatusSuccess, comment)
	return nil
}

// exportStage writes the parquet export when enabled. It is best-effort:
// an export failure marks its step but never fails the run.
func (p *Pipeline) exportStage(ctx context.Context, rows []registry.Row) {
	if !p.exporter.Enabled() {
		return
	}
	entities := p.cfg.Regsync.Entities
	step, err := p.telemetry.StartStep(ctx, "export", "parquet-export", entities.Variants)
	if err != nil {
		logger.Warnf("Could not start export step: %v", err)
		return
	}
	ctx, finishSpan := p.tracer.StartStepSpan(ctx, step)
	defer finishSpan()

	if err := p.exporter.Export(ctx, entities.Variants, rows); err != nil {
		p.telemetry.StopStep(ctx, step, model.StepStatusError, exception.ExtractErrorMessage(err))
		return
	}
	p.telemetry.StopStep(ctx, step, model.StepStatusSuccess, fmt.Sprintf("%d rows exported", len(rows)))
}

// mergeAnalysisReferences unions each subject's newly seen analysis ids
// into its mapping row, never dropping a previously known reference.
func (p *Pipeline) mergeAnalysisReferences(ctx context.Context, data *runData, rows []registry.Row) error {
	produced := make(map[string]map[string]struct{})
	for _, row := range rows {
		analysisID := row[flatten.ColumnAnalysis]
		if analysisID == "" {
			continue
		}
		key := model.LocalKey{
			FamilyID:  row[flatten.ColumnFamily],
			SubjectID: row[flatten.ColumnSubject],
		}
		accession := key.Accession()
		if produced[accession] == nil {
			produced[accession] = make(map[string]struct{})
		}
		produced[accession][analysisID] = struct{}{}
	}

	accessions := make([]string, 0, len(produced))
	for accession := range produced {
		accessions = append(accessions, accession)
	}
	sort.Strings(accessions)

	for _, accession := range accessions {
		ids := make([]string, 0, len(produced[accession]))
		for id := range produced[accession] {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		existing := ""
		if prior, ok := data.priorMappings[accession]; ok {
			existing = prior[mappingColumnAnalyses]
		}
		merged := syncer.MergeReferences(existing, strings.Join(ids, ","))
		if merged == existing {
			continue
		}
		if err := p.registry.UpdateColumn(ctx, p.cfg.Regsync.Entities.Mappings, accession, mappingColumnAnalyses, merged); err != nil {
			return err
		}
	}
	return nil
}

// importChunks writes rows in chunks of the configured size, each an
// independent import. A failed chunk is reported with the entity name and
// chunk offset so it can be retried alone.
func (p *Pipeline) importChunks(ctx context.Context, entity string, columns []string, rows []registry.Row) error {
	chunkSize := p.cfg.Regsync.Pipeline.ChunkSize
	if chunkSize < 1 {
		chunkSize = len(rows)
	}
	for offset := 0; offset < len(rows); offset += chunkSize {
		end := offset + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := p.registry.ImportRows(ctx, entity, columns, rows[offset:end]); err != nil {
			return exception.NewPipelineError(moduleName,
				fmt.Sprintf("import of entity %s failed at chunk offset %d", entity, offset), err, false, true)
		}
		logger.Debugf("Imported chunk of %d rows into %s (offset %d).", end-offset, entity, offset)
	}
	return nil
}

// priorMapping looks up a mapping's stored row.
func (p *Pipeline) priorMapping(data *runData, mapping *model.SubjectMapping) (registry.Row, bool) {
	row, ok := data.priorMappings[mapping.Key.Accession()]
	return row, ok
}

// mappingRowValues flattens the prior-mapping index back to a slice.
func mappingRowValues(index map[string]registry.Row) []registry.Row {
	rows := make([]registry.Row, 0, len(index))
	for _, row := range index {
		rows = append(rows, row)
	}
	return rows
}
