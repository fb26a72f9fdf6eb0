// Package traverse walks the vendor's nested resources: patient to analyses,
// analysis to export request, export request to variant payload. Every
// output item carries its full ancestor key chain so a leaf record can be
// traced back without a join. Failures are logged per item and the item is
// dropped; a failing analysis never hides its siblings.
package traverse

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/varilab/regsync/internal/client/interp"
	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/support/logger"
)

// analysisCompleted is the only analysis status that can produce a variant
// export.
const analysisCompleted = "COMPLETED"

// Engine drives the chained traversal.
type Engine struct {
	client  *interp.Client
	workers int
}

// New creates an Engine with the configured stage concurrency.
func New(client *interp.Client, cfg *config.Config) *Engine {
	workers := cfg.Regsync.Interp.MaxConcurrency
	if workers < 1 {
		workers = 1
	}
	return &Engine{client: client, workers: workers}
}

// Stats counts what each stage produced and dropped.
type Stats struct {
	Subjects  int
	Analyses  int
	Completed int
	Exports   int
	Records   int
	Failures  int
}

// Traverse runs all three stages over the resolved mappings and returns the
// leaf records. Output order is fixed by sorting the input on the accession
// key, so identical inputs produce identical output regardless of worker
// scheduling.
func (e *Engine) Traverse(ctx context.Context, mappings []*model.SubjectMapping) ([]model.ExportRecord, Stats, error) {
	var stats Stats
	var failures atomic.Int64

	resolved := make([]*model.SubjectMapping, 0, len(mappings))
	for _, mapping := range mappings {
		if mapping.Resolved() {
			resolved = append(resolved, mapping)
		}
	}
	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].Key.Accession() < resolved[j].Key.Accession()
	})
	stats.Subjects = len(resolved)

	analyses := e.analyses(ctx, resolved, &failures)
	stats.Analyses = len(analyses)

	completed := analyses[:0:0]
	for _, analysis := range analyses {
		if analysis.Status == analysisCompleted {
			completed = append(completed, analysis)
		}
	}
	stats.Completed = len(completed)

	exports := e.exportRequests(ctx, completed, &failures)
	stats.Exports = len(exports)

	records := e.exportPayloads(ctx, exports, &failures)
	stats.Records = len(records)
	stats.Failures = int(failures.Load())

	if err := ctx.Err(); err != nil {
		return records, stats, err
	}
	logger.Infof("Traversal finished: %d subjects, %d analyses (%d completed), %d exports, %d records, %d failures.",
		stats.Subjects, stats.Analyses, stats.Completed, stats.Exports, stats.Records, stats.Failures)
	return records, stats, nil
}

// analyses lists the analyses of every resolved subject.
func (e *Engine) analyses(ctx context.Context, mappings []*model.SubjectMapping, failures *atomic.Int64) []model.AnalysisRef {
	results := runStage(ctx, e.workers, mappings, func(ctx context.Context, mapping *model.SubjectMapping) []model.AnalysisRef {
		found, err := e.client.PatientAnalyses(ctx, mapping.InterpID)
		if err != nil {
			logger.Warnf("Analyses of subject %s (vendor id %s) could not be listed: %v",
				mapping.Key, mapping.InterpID, err)
			failures.Add(1)
			return nil
		}
		refs := make([]model.AnalysisRef, 0, len(found))
		for _, analysis := range found {
			refs = append(refs, model.AnalysisRef{
				Key:        mapping.Key,
				InterpID:   mapping.InterpID,
				AnalysisID: analysis.ID.String(),
				Status:     analysis.Status,
				Reference:  analysis.Reference,
			})
		}
		return refs
	})
	return flatten(results)
}

// exportRequests creates an export request per completed analysis. An empty
// export identifier means the vendor has no exportable data for the
// analysis; the analysis is dropped silently.
func (e *Engine) exportRequests(ctx context.Context, analyses []model.AnalysisRef, failures *atomic.Int64) []model.ExportRef {
	results := runStage(ctx, e.workers, analyses, func(ctx context.Context, analysis model.AnalysisRef) []model.ExportRef {
		exportID, err := e.client.CreateVariantExport(ctx, analysis.AnalysisID)
		if err != nil {
			logger.Warnf("Export request for analysis %s (subject %s) failed: %v",
				analysis.AnalysisID, analysis.Key, err)
			failures.Add(1)
			return nil
		}
		if exportID == "" {
			return nil
		}
		return []model.ExportRef{{
			Key:        analysis.Key,
			InterpID:   analysis.InterpID,
			AnalysisID: analysis.AnalysisID,
			ExportID:   exportID,
		}}
	})
	return flatten(results)
}

// exportPayloads retrieves each export and fans its variants out as leaf
// records.
func (e *Engine) exportPayloads(ctx context.Context, exports []model.ExportRef, failures *atomic.Int64) []model.ExportRecord {
	results := runStage(ctx, e.workers, exports, func(ctx context.Context, export model.ExportRef) []model.ExportRecord {
		variants, err := e.client.VariantExport(ctx, export.AnalysisID, export.ExportID)
		if err != nil {
			logger.Warnf("Export %s of analysis %s (subject %s) could not be retrieved: %v",
				export.ExportID, export.AnalysisID, export.Key, err)
			failures.Add(1)
			return nil
		}
		records := make([]model.ExportRecord, 0, len(variants))
		for _, variant := range variants {
			records = append(records, model.ExportRecord{
				Key:        export.Key,
				InterpID:   export.InterpID,
				AnalysisID: export.AnalysisID,
				ExportID:   export.ExportID,
				Payload:    []byte(variant),
			})
		}
		return records
	})
	return flatten(results)
}

// runStage fans items out over a bounded worker pool and collects results
// indexed by input position, so the caller sees input order regardless of
// completion order. Item call pacing is the client's concern.
func runStage[I, O any](ctx context.Context, workers int, items []I, fn func(context.Context, I) []O) [][]O {
	results := make([][]O, len(items))
	if len(items) == 0 {
		return results
	}
	if workers > len(items) {
		workers = len(items)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = fn(ctx, items[i])
			}
		}()
	}

	for i := range items {
		select {
		case <-ctx.Done():
			close(indexes)
			wg.Wait()
			return results
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()
	return results
}

func flatten[O any](results [][]O) []O {
	var out []O
	for _, batch := range results {
		out = append(out, batch...)
	}
	return out
}
