package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varilab/regsync/internal/flatten"
	"github.com/varilab/regsync/internal/registry"
)

func TestScanReferencesFindsUnknownKeys(t *testing.T) {
	rows := []registry.Row{
		{flatten.ColumnID: "R1", flatten.ColumnFamily: "F001", flatten.ColumnSubject: "S01"},
		{flatten.ColumnID: "R2", flatten.ColumnFamily: "F002", flatten.ColumnSubject: "S99"},
	}
	known := map[string]struct{}{"S01": {}}

	stubs := ScanReferences(rows, []string{flatten.ColumnSubject}, known)

	require.Len(t, stubs, 1)
	assert.Equal(t, "S99", stubs[0].Key)
	assert.Equal(t, "F002", stubs[0].FamilyKey)
	assert.Equal(t, "auto-registered", stubs[0].Comment)
}

func TestScanReferencesSplitsMemberLists(t *testing.T) {
	rows := []registry.Row{
		{flatten.ColumnID: "R1", flatten.ColumnFamily: "F001", "relatedSubjects": "S01, S02 ,S03"},
	}
	known := map[string]struct{}{"S02": {}}

	stubs := ScanReferences(rows, []string{"relatedSubjects"}, known)

	require.Len(t, stubs, 2)
	assert.Equal(t, "S01", stubs[0].Key)
	assert.Equal(t, "S03", stubs[1].Key)
}

func TestScanReferencesDeduplicatesAcrossRows(t *testing.T) {
	rows := []registry.Row{
		{flatten.ColumnID: "R1", flatten.ColumnFamily: "F001", flatten.ColumnSubject: "S77"},
		{flatten.ColumnID: "R2", flatten.ColumnFamily: "F001", flatten.ColumnSubject: "S77"},
	}
	known := map[string]struct{}{}

	stubs := ScanReferences(rows, []string{flatten.ColumnSubject}, known)

	require.Len(t, stubs, 1)
	_, nowKnown := known["S77"]
	assert.True(t, nowKnown)
}

func TestScanReferencesIgnoresEmptyValues(t *testing.T) {
	rows := []registry.Row{
		{flatten.ColumnID: "R1", flatten.ColumnSubject: ""},
		{flatten.ColumnID: "R2"},
		{flatten.ColumnID: "R3", flatten.ColumnSubject: " , "},
	}

	stubs := ScanReferences(rows, []string{flatten.ColumnSubject}, map[string]struct{}{})
	assert.Empty(t, stubs)
}

func TestStubRows(t *testing.T) {
	rows := []registry.Row{
		{flatten.ColumnID: "R1", flatten.ColumnFamily: "F009", flatten.ColumnSubject: "S09"},
	}
	stubs := ScanReferences(rows, []string{flatten.ColumnSubject}, map[string]struct{}{})

	stubRows := StubRows(stubs)
	require.Len(t, stubRows, 1)
	assert.Equal(t, "S09", stubRows[0][flatten.ColumnID])
	assert.Equal(t, "F009", stubRows[0][flatten.ColumnFamily])
	assert.Equal(t, "auto-registered", stubRows[0][ColumnComments])
}
