// Package syncer decides, for every outgoing row, whether it is first seen
// or an update of a known record, and keeps relationship sets monotone. It
// never talks to the store itself; the caller supplies the prior key set and
// writes the annotated rows.
package syncer

import (
	"sort"
	"strings"
	"time"

	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/flatten"
	"github.com/varilab/regsync/internal/registry"
)

// Change-tracking column names.
const (
	ColumnDateFirstRun    = "dateFirstRun"
	ColumnDateLastUpdated = "dateLastUpdated"
	ColumnComments        = "comments"
)

// updatedComment marks a row whose key was already present in the store.
const updatedComment = "record updated or refreshed"

// Upserter stamps rows with the two-timestamp change-tracking convention.
type Upserter struct {
	now func() time.Time
}

// NewUpserter creates an Upserter using the wall clock.
func NewUpserter() *Upserter {
	return &Upserter{now: time.Now}
}

// Decide computes the SyncState for one key. A key present in the prior set
// keeps its original first-run date and gets today as its update date; a new
// key gets today as its first-run date and no update date.
func (u *Upserter) Decide(id string, prior map[string]model.SyncState) model.SyncState {
	today := u.now().Format(model.DateFormat)
	if previous, ok := prior[id]; ok {
		firstRun := previous.DateFirstRun
		if firstRun == "" {
			firstRun = today
		}
		return model.SyncState{
			RecordID:        id,
			DateFirstRun:    firstRun,
			DateLastUpdated: today,
			Comments:        updatedComment,
		}
	}
	return model.SyncState{
		RecordID:     id,
		DateFirstRun: today,
	}
}

// Annotate stamps every row with its change-tracking columns, keyed on the
// row's id column. Rows are modified in place. A row that already carries a
// comment keeps it; the sync comment fills only empty ones, so a domain
// annotation such as an ambiguity flag survives into the store.
func (u *Upserter) Annotate(rows []registry.Row, prior map[string]model.SyncState) {
	for _, row := range rows {
		state := u.Decide(row[flatten.ColumnID], prior)
		row[ColumnDateFirstRun] = state.DateFirstRun
		row[ColumnDateLastUpdated] = state.DateLastUpdated
		if row[ColumnComments] == "" {
			row[ColumnComments] = state.Comments
		}
	}
}

// PriorStates reduces existing store rows to their SyncState, keyed by id.
func PriorStates(rows []registry.Row) map[string]model.SyncState {
	prior := make(map[string]model.SyncState, len(rows))
	for _, row := range rows {
		id := row[flatten.ColumnID]
		if id == "" {
			continue
		}
		prior[id] = model.SyncState{
			RecordID:        id,
			DateFirstRun:    row[ColumnDateFirstRun],
			DateLastUpdated: row[ColumnDateLastUpdated],
			Comments:        row[ColumnComments],
		}
	}
	return prior
}

// MergeReferences unions two comma-separated reference lists. Every member
// of existing stays, in order; new members follow sorted. A reference once
// known is never dropped by a later partial run.
func MergeReferences(existing, produced string) string {
	seen := make(map[string]struct{})
	var merged []string
	for _, member := range strings.Split(existing, ",") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}
		merged = append(merged, member)
	}

	var added []string
	for _, member := range strings.Split(produced, ",") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}
		added = append(added, member)
	}
	sort.Strings(added)
	return strings.Join(append(merged, added...), ",")
}
