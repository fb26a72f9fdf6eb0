package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/support/exception"
)

func resolvedMapping() *model.SubjectMapping {
	return &model.SubjectMapping{
		Key:      model.LocalKey{FamilyID: "F001", SubjectID: "S01"},
		InterpID: "pat-42",
	}
}

func TestMappingRowRoundTrip(t *testing.T) {
	mapping := resolvedMapping()
	mapping.Comments = "more than one record returned"

	row := mappingToRow(mapping)
	assert.Equal(t, "F001_S01", row[mappingColumnID])
	assert.Equal(t, "F001", row[mappingColumnFamily])
	assert.Equal(t, "S01", row[mappingColumnSubject])
	assert.Equal(t, "pat-42", row[mappingColumnVendorID])
	assert.Equal(t, "false", row[mappingColumnHasError])

	rebuilt := mappingFromRow(row)
	assert.Equal(t, mapping.Key, rebuilt.Key)
	assert.Equal(t, mapping.InterpID, rebuilt.InterpID)
	assert.Equal(t, mapping.Comments, rebuilt.Comments)
	assert.False(t, rebuilt.HasError)
}

func TestMappingRowCarriesErrorState(t *testing.T) {
	mapping := &model.SubjectMapping{Key: model.LocalKey{FamilyID: "F001", SubjectID: "S02"}}
	mapping.MarkFailed(exception.NewClassified(exception.KindNoMatch, "no exact accession match"))

	row := mappingToRow(mapping)
	assert.Equal(t, "true", row[mappingColumnHasError])
	assert.Equal(t, string(exception.KindNoMatch), row[mappingColumnErrorKind])
	assert.Equal(t, "no exact accession match", row[mappingColumnErrorMsg])
	assert.Empty(t, row[mappingColumnVendorID])

	rebuilt := mappingFromRow(row)
	require.True(t, rebuilt.HasError)
	assert.Equal(t, exception.KindNoMatch, rebuilt.ErrorKind)
}

func TestMappingChangedDetectsNewResolution(t *testing.T) {
	prior := registry.Row{
		mappingColumnID:        "F001_S01",
		mappingColumnFamily:    "F001",
		mappingColumnSubject:   "S01",
		mappingColumnVendorID:  "",
		mappingColumnHasError:  "true",
		mappingColumnErrorKind: string(exception.KindEmptyResponse),
		mappingColumnErrorMsg:  "nothing returned",
	}

	mapping := resolvedMapping()
	assert.True(t, mappingChanged(mapping, prior), "a cleared error and fresh vendor id must re-import")
}

func TestMappingChangedIgnoresUnchangedMapping(t *testing.T) {
	mapping := resolvedMapping()
	prior := mappingToRow(mapping)

	assert.False(t, mappingChanged(mapping, prior))
}

func TestMappingChangedIgnoresReferenceColumns(t *testing.T) {
	mapping := resolvedMapping()
	prior := mappingToRow(mapping)
	prior[mappingColumnAnalyses] = "A100;A101"
	prior["dateLastUpdated"] = "2026-08-01"

	// The analyses list and the timestamps are maintained by other stages;
	// they must not force a mapping re-import on their own.
	assert.False(t, mappingChanged(mapping, prior))
}
