// Package vocab translates vendor terms into the registry's controlled
// vocabulary codes. Dictionaries are loaded from a YAML resource keyed by
// column name; lookups are pure, and terms without a translation are
// collected for a per-run report instead of being silently passed through.
package vocab

import (
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

// Dictionary maps vendor terms to registry codes for one column.
type Dictionary map[string]string

// Mapper holds the loaded dictionaries and records unmapped terms.
type Mapper struct {
	dictionaries map[string]Dictionary

	mu       sync.Mutex
	unmapped map[string]map[string]int
}

// Load parses a YAML document of the form column -> term -> code.
func Load(data []byte) (*Mapper, error) {
	dictionaries := make(map[string]Dictionary)
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &dictionaries); err != nil {
			return nil, exception.NewPipelineError("vocab", "failed to parse vocabulary dictionaries", err, false, false)
		}
	}
	return &Mapper{
		dictionaries: dictionaries,
		unmapped:     make(map[string]map[string]int),
	}, nil
}

// Map translates one term for one column. When the column has no dictionary
// the term is returned unchanged with ok true; when the dictionary exists
// but lacks the term, the original is returned with ok false and the miss is
// recorded.
func (m *Mapper) Map(column, term string) (string, bool) {
	if term == "" {
		return "", true
	}
	dictionary, ok := m.dictionaries[column]
	if !ok {
		return term, true
	}
	if code, ok := dictionary[term]; ok {
		return code, true
	}

	m.mu.Lock()
	if m.unmapped[column] == nil {
		m.unmapped[column] = make(map[string]int)
	}
	m.unmapped[column][term]++
	m.mu.Unlock()
	return term, false
}

// Columns returns the set of columns with a dictionary, sorted.
func (m *Mapper) Columns() []string {
	columns := make([]string, 0, len(m.dictionaries))
	for column := range m.dictionaries {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// Unmapped is one term that had no translation, with its occurrence count.
type Unmapped struct {
	Column string
	Term   string
	Count  int
}

// Report returns every unmapped term seen since Load, sorted by column then
// term, and logs a summary line when the report is non-empty.
func (m *Mapper) Report() []Unmapped {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report []Unmapped
	for column, terms := range m.unmapped {
		for term, count := range terms {
			report = append(report, Unmapped{Column: column, Term: term, Count: count})
		}
	}
	sort.Slice(report, func(i, j int) bool {
		if report[i].Column != report[j].Column {
			return report[i].Column < report[j].Column
		}
		return report[i].Term < report[j].Term
	})
	if len(report) > 0 {
		logger.Warnf("%d vocabulary terms had no translation; the original terms were kept.", len(report))
	}
	return report
}
