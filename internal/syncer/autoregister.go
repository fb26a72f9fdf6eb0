package syncer

import (
	"sort"
	"strings"

	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/flatten"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/support/logger"
)

// ScanReferences finds every relationship value in rows that is absent from
// the referenced entity's known-key set and synthesizes a stub entity per
// missing key. Both single references and comma-separated member lists are
// scanned. The referencing rows are not modified; known gains the stub keys
// so one missing key yields one stub across the whole batch.
func ScanReferences(rows []registry.Row, referenceColumns []string, known map[string]struct{}) []model.StubEntity {
	var stubs []model.StubEntity
	for _, row := range rows {
		for _, column := range referenceColumns {
			value, ok := row[column]
			if !ok || value == "" {
				continue
			}
			for _, key := range strings.Split(value, ",") {
				key = strings.TrimSpace(key)
				if key == "" {
					continue
				}
				if _, exists := known[key]; exists {
					continue
				}
				known[key] = struct{}{}
				stubs = append(stubs, model.NewStubEntity(key, row[flatten.ColumnFamily]))
			}
		}
	}
	sort.Slice(stubs, func(i, j int) bool { return stubs[i].Key < stubs[j].Key })
	if len(stubs) > 0 {
		logger.Infof("Auto-registering %d stub entities for unknown references.", len(stubs))
	}
	return stubs
}

// StubColumns is the column order for stub entity imports.
var StubColumns = []string{flatten.ColumnID, flatten.ColumnFamily, ColumnComments}

// StubRows renders stubs as registry rows for the import ahead of the main
// batch.
func StubRows(stubs []model.StubEntity) []registry.Row {
	rows := make([]registry.Row, 0, len(stubs))
	for _, stub := range stubs {
		rows = append(rows, registry.Row{
			flatten.ColumnID:     stub.Key,
			flatten.ColumnFamily: stub.FamilyKey,
			ColumnComments:       stub.Comment,
		})
	}
	return rows
}
