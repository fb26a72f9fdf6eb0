package pipeline

import (
	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/syncer"
)

// Mapping entity columns. The id is the accession string, so at most one
// mapping row can exist per local key.
const (
	mappingColumnID        = "id"
	mappingColumnFamily    = "belongsToFamily"
	mappingColumnSubject   = "belongsToSubject"
	mappingColumnVendorID  = "vendorInternalId"
	mappingColumnHasError  = "hasError"
	mappingColumnErrorKind = "errorType"
	mappingColumnErrorMsg  = "errorMessage"
	mappingColumnComments  = "comments"
	mappingColumnAnalyses  = "analyses"
)

var mappingColumns = []string{
	mappingColumnID, mappingColumnFamily, mappingColumnSubject,
	mappingColumnVendorID, mappingColumnHasError, mappingColumnErrorKind,
	mappingColumnErrorMsg, mappingColumnComments,
	syncer.ColumnDateFirstRun, syncer.ColumnDateLastUpdated,
}

// mappingFromRow rebuilds a SubjectMapping from its stored row.
func mappingFromRow(row registry.Row) *model.SubjectMapping {
	return &model.SubjectMapping{
		Key: model.LocalKey{
			FamilyID:  row[mappingColumnFamily],
			SubjectID: row[mappingColumnSubject],
		},
		InterpID:     row[mappingColumnVendorID],
		HasError:     row[mappingColumnHasError] == "true",
		ErrorKind:    exception.Kind(row[mappingColumnErrorKind]),
		ErrorMessage: row[mappingColumnErrorMsg],
		Comments:     row[mappingColumnComments],
	}
}

// mappingToRow renders a SubjectMapping without its change-tracking
// columns; those are stamped by the upserter.
func mappingToRow(m *model.SubjectMapping) registry.Row {
	hasError := "false"
	if m.HasError {
		hasError = "true"
	}
	return registry.Row{
		mappingColumnID:        m.Key.Accession(),
		mappingColumnFamily:    m.Key.FamilyID,
		mappingColumnSubject:   m.Key.SubjectID,
		mappingColumnVendorID:  m.InterpID,
		mappingColumnHasError:  hasError,
		mappingColumnErrorKind: string(m.ErrorKind),
		mappingColumnErrorMsg:  m.ErrorMessage,
		mappingColumnComments:  m.Comments,
	}
}

// mappingChanged reports whether a freshly resolved mapping differs from
// its stored row. Unchanged mappings are not re-imported, so their
// dateLastUpdated never toggles on a run that learned nothing new.
func mappingChanged(m *model.SubjectMapping, prior registry.Row) bool {
	fresh := mappingToRow(m)
	for _, column := range []string{
		mappingColumnVendorID, mappingColumnHasError,
		mappingColumnErrorKind, mappingColumnErrorMsg, mappingColumnComments,
	} {
		if fresh[column] != prior[column] {
			return true
		}
	}
	return false
}
