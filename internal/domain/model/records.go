package model

import (
	"fmt"

	"github.com/varilab/regsync/internal/support/exception"
)

// DateFormat is the calendar-date format used for change-tracking fields in
// registry rows.
const DateFormat = "2006-01-02"

// LocalKey is the composite key identifying a subject in the local
// laboratory system: family number plus subject number.
type LocalKey struct {
	FamilyID  string
	SubjectID string
}

// Accession returns the vendor accession string for this key. The vendor
// indexes patients by this composite, so it is the only way to obtain a
// vendor internal identifier.
func (k LocalKey) Accession() string {
	return fmt.Sprintf("%s_%s", k.FamilyID, k.SubjectID)
}

// String returns the accession representation.
func (k LocalKey) String() string {
	return k.Accession()
}

// SubjectMapping maps a local subject key to the vendor internal
// identifier, or records the classified reason the lookup failed.
// At most one mapping exists per local key; HasError and a populated
// InterpID are mutually exclusive.
type SubjectMapping struct {
	Key          LocalKey
	InterpID     string
	HasError     bool
	ErrorKind    exception.Kind
	ErrorMessage string
	// Comments flags conditions accepted for manual review, e.g. an
	// accession lookup that returned more than one exact match.
	Comments string
}

// Resolved reports whether this mapping carries a usable vendor identifier.
func (m *SubjectMapping) Resolved() bool {
	return !m.HasError && m.InterpID != ""
}

// MarkResolved records a successful lookup, clearing any error state left
// from a previous run so errored rows can be retried in place.
func (m *SubjectMapping) MarkResolved(interpID string) {
	m.InterpID = interpID
	m.HasError = false
	m.ErrorKind = ""
	m.ErrorMessage = ""
}

// MarkFailed records a classified lookup failure. The vendor identifier is
// cleared so the error flag stays mutually exclusive with it.
func (m *SubjectMapping) MarkFailed(c *exception.Classified) {
	m.InterpID = ""
	m.HasError = true
	m.ErrorKind = c.Kind
	m.ErrorMessage = c.Message
}

// AnalysisRef is one analysis belonging to a resolved subject, annotated
// with every ancestor key.
type AnalysisRef struct {
	Key        LocalKey
	InterpID   string
	AnalysisID string
	Status     string
	Reference  string
}

// ExportRef is one export request created for an analysis, annotated with
// every ancestor key.
type ExportRef struct {
	Key        LocalKey
	InterpID   string
	AnalysisID string
	ExportID   string
}

// ExportRecord is one retrieved leaf payload, annotated with every ancestor
// key so it can be traced back to patient, analysis and export without a
// join.
type ExportRecord struct {
	Key        LocalKey
	InterpID   string
	AnalysisID string
	ExportID   string
	Payload    []byte
}

// SyncState carries the two-timestamp change-tracking convention for one
// synchronized record. DateFirstRun is immutable once set.
type SyncState struct {
	RecordID        string
	DateFirstRun    string
	DateLastUpdated string
	Comments        string
}

// StubEntity is a minimally-populated record inserted solely to satisfy a
// foreign-key reference before the full record is known.
type StubEntity struct {
	Key       string
	FamilyKey string
	Comment   string
}

// NewStubEntity creates a stub for the given key with the standard
// provenance comment.
func NewStubEntity(key, familyKey string) StubEntity {
	return StubEntity{
		Key:       key,
		FamilyKey: familyKey,
		Comment:   "auto-registered",
	}
}
