package registry

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
)

// MarshalCSV renders rows as CSV with the given column order. Every row must
// draw its attributes from columns; a row carrying an unknown attribute is
// an error because it would silently drop data from the import.
func MarshalCSV(columns []string, rows []Row) ([]byte, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns given")
	}
	known := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		known[column] = struct{}{}
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(columns); err != nil {
		return nil, err
	}

	record := make([]string, len(columns))
	for i, row := range rows {
		for attribute := range row {
			if _, ok := known[attribute]; !ok {
				return nil, fmt.Errorf("row %d carries attribute %q not present in the column list", i, attribute)
			}
		}
		for j, column := range columns {
			record[j] = row[column]
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ColumnSet collects the union of attribute names across rows. Preferred
// columns come first in their given order; the remaining attributes follow
// sorted, so the import layout is stable across runs.
func ColumnSet(preferred []string, rows []Row) []string {
	seen := make(map[string]struct{}, len(preferred))
	columns := make([]string, 0, len(preferred))
	for _, column := range preferred {
		if _, ok := seen[column]; ok {
			continue
		}
		seen[column] = struct{}{}
		columns = append(columns, column)
	}
	var rest []string
	for _, row := range rows {
		for attribute := range row {
			if _, ok := seen[attribute]; ok {
				continue
			}
			seen[attribute] = struct{}{}
			rest = append(rest, attribute)
		}
	}
	sort.Strings(rest)
	return append(columns, rest...)
}
