// Package resolver maps local subject keys to vendor internal identifiers.
// The vendor's accession search is contains-matching, so every response is
// re-filtered for string equality before a match is accepted. Failures are
// recorded per key and never abort the batch; an errored mapping is retried
// in place on the next run.
package resolver

import (
	"context"

	"github.com/varilab/regsync/internal/client/interp"
	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

// ambiguousMatchComment flags a lookup that returned more than one exact
// match. The first match is used; the comment routes the key to manual
// review.
const ambiguousMatchComment = "more than one record returned"

// Resolver resolves local subject keys against the interpretation service.
type Resolver struct {
	client *interp.Client
}

// New creates a Resolver.
func New(client *interp.Client) *Resolver {
	return &Resolver{client: client}
}

// Summary counts the outcomes of one resolve pass.
type Summary struct {
	Attempted int
	Resolved  int
	Failed    int
	Skipped   int
}

// Resolve looks up a vendor identifier for every mapping that does not
// already carry one. Mappings left in an error state by a previous run are
// retried; resolved mappings are skipped. Each key succeeds or fails on its
// own, and a context cancellation stops the pass between keys.
func (r *Resolver) Resolve(ctx context.Context, mappings []*model.SubjectMapping) (Summary, error) {
	var summary Summary
	for _, mapping := range mappings {
		if err := ctx.Err(); err != nil {
			return summary, exception.NewPipelineError("resolver", "resolve pass interrupted", err, false, false)
		}
		if mapping.Resolved() {
			summary.Skipped++
			continue
		}
		summary.Attempted++
		if r.resolveOne(ctx, mapping) {
			summary.Resolved++
		} else {
			summary.Failed++
		}
	}
	logger.Infof("Resolver pass finished: %d attempted, %d resolved, %d failed, %d already resolved.",
		summary.Attempted, summary.Resolved, summary.Failed, summary.Skipped)
	return summary, nil
}

// resolveOne performs one lookup and records the outcome on the mapping.
func (r *Resolver) resolveOne(ctx context.Context, mapping *model.SubjectMapping) bool {
	accession := mapping.Key.Accession()

	patients, err := r.client.PatientsByAccession(ctx, accession)
	if err != nil {
		classified, ok := exception.AsClassified(err)
		if !ok {
			classified = exception.NewClassified(exception.KindHTTPError, "%v", err)
		}
		mapping.MarkFailed(classified)
		logger.Warnf("Lookup for %s failed: %v", accession, classified)
		return false
	}

	if len(patients) == 0 {
		mapping.MarkFailed(exception.NewClassified(exception.KindEmptyResponse,
			"no records returned for accession %s", accession))
		return false
	}

	var matches []interp.Patient
	for _, patient := range patients {
		if patient.AccessionNumber == accession {
			matches = append(matches, patient)
		}
	}
	if len(matches) == 0 {
		mapping.MarkFailed(exception.NewClassified(exception.KindNoMatch,
			"%d records returned for accession %s but none matched exactly", len(patients), accession))
		return false
	}

	mapping.MarkResolved(matches[0].ID.String())
	if len(matches) > 1 {
		mapping.Comments = ambiguousMatchComment
		logger.Warnf("Accession %s matched %d records exactly; using the first.", accession, len(matches))
	}
	return true
}
