// Package flatten converts one nested vendor payload into one flat record
// with deterministic column names. Static columns come from the payload's
// fixed top-level keys; vendor-defined extra fields are hoisted into
// underscore-prefixed dynamic columns so they can never shadow a static
// column. A payload whose keys would collide after sanitization fails
// loudly instead of silently overwriting a value.
package flatten

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/varilab/regsync/internal/domain/model"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

// Ancestry column names present on every flattened record.
const (
	ColumnID        = "id"
	ColumnFamily    = "belongsToFamily"
	ColumnSubject   = "belongsToSubject"
	ColumnAnalysis  = "analysisId"
	ColumnExport    = "exportId"
	ColumnHasError  = "hasError"
	ColumnErrorKind = "errorType"
	ColumnErrorMsg  = "errorMessage"
)

// FlattenedRecord is one leaf payload reduced to scalar columns. Static
// holds the payload's fixed columns; Extra holds the underscore-prefixed
// dynamic columns.
type FlattenedRecord struct {
	ID         string
	Key        model.LocalKey
	AnalysisID string
	ExportID   string
	Static     map[string]string
	Extra      map[string]string
}

// Row renders the record as a registry row including the ancestry columns.
func (r *FlattenedRecord) Row() registry.Row {
	row := make(registry.Row, len(r.Static)+len(r.Extra)+5)
	row[ColumnID] = r.ID
	row[ColumnFamily] = r.Key.FamilyID
	row[ColumnSubject] = r.Key.SubjectID
	row[ColumnAnalysis] = r.AnalysisID
	row[ColumnExport] = r.ExportID
	for column, value := range r.Static {
		row[column] = value
	}
	for column, value := range r.Extra {
		row[column] = value
	}
	return row
}

// ErrorRecord is a record that could not be flattened, reduced to its
// ancestry plus the classified failure. It is written to the store in place
// of the data row so the failure is queryable.
type ErrorRecord struct {
	ID         string
	Key        model.LocalKey
	AnalysisID string
	ExportID   string
	Err        *exception.Classified
}

// Row renders the error record as a registry row with the error columns set.
func (r *ErrorRecord) Row() registry.Row {
	return registry.Row{
		ColumnID:        r.ID,
		ColumnFamily:    r.Key.FamilyID,
		ColumnSubject:   r.Key.SubjectID,
		ColumnAnalysis:  r.AnalysisID,
		ColumnExport:    r.ExportID,
		ColumnHasError:  "true",
		ColumnErrorKind: string(r.Err.Kind),
		ColumnErrorMsg:  ScrubText(r.Err.Message),
	}
}

// Flatten reduces every export record to a flat row. Records that cannot be
// flattened become ErrorRecords; they never abort the batch.
func Flatten(records []model.ExportRecord) ([]*FlattenedRecord, []*ErrorRecord) {
	flattened := make([]*FlattenedRecord, 0, len(records))
	var failed []*ErrorRecord
	for ordinal, record := range records {
		flat, classified := FlattenOne(record, ordinal)
		if classified != nil {
			failed = append(failed, &ErrorRecord{
				ID:         recordID(record, ordinal),
				Key:        record.Key,
				AnalysisID: record.AnalysisID,
				ExportID:   record.ExportID,
				Err:        classified,
			})
			logger.Warnf("Record %s of export %s could not be flattened: %v",
				recordID(record, ordinal), record.ExportID, classified)
			continue
		}
		flattened = append(flattened, flat)
	}
	return flattened, failed
}

// FlattenOne reduces one export record to a flat row.
func FlattenOne(record model.ExportRecord, ordinal int) (*FlattenedRecord, *exception.Classified) {
	decoder := json.NewDecoder(bytes.NewReader(record.Payload))
	decoder.UseNumber()
	var payload map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return nil, exception.NewClassified(exception.KindVendorError, "payload is not a JSON object: %v", err)
	}

	// A vendor failure can arrive as a payload row.
	if code, ok := payload["errorCode"]; ok {
		message, _ := payload["errorMessage"].(string)
		return nil, exception.NewClassified(exception.KindVendorError, "%v: %s", code, message)
	}

	flat := &FlattenedRecord{
		ID:         recordID(record, ordinal),
		Key:        record.Key,
		AnalysisID: record.AnalysisID,
		ExportID:   record.ExportID,
		Static:     make(map[string]string),
		Extra:      make(map[string]string),
	}
	// The ancestry columns are reserved; a payload key that sanitizes onto
	// one of them is a collision as well.
	taken := map[string]string{
		ColumnID:       ColumnID,
		ColumnFamily:   ColumnFamily,
		ColumnSubject:  ColumnSubject,
		ColumnAnalysis: ColumnAnalysis,
		ColumnExport:   ColumnExport,
	}

	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := flattenField(flat, taken, key, payload[key]); err != nil {
			return nil, err
		}
	}
	return flat, nil
}

// flattenField places one top-level payload field into the record.
func flattenField(flat *FlattenedRecord, taken map[string]string, key string, value interface{}) *exception.Classified {
	column := Sanitize(key)

	switch v := value.(type) {
	case map[string]interface{}:
		if labels, score, ok := classificationShape(v); ok {
			if err := claim(taken, column, key); err != nil {
				return err
			}
			if err := claim(taken, column+"_score", key); err != nil {
				return err
			}
			flat.Static[column] = ScrubText(labels)
			flat.Static[column+"_score"] = score
			return nil
		}
		// A dynamic key set: each sub-key becomes its own prefixed column.
		subKeys := make([]string, 0, len(v))
		for subKey := range v {
			subKeys = append(subKeys, subKey)
		}
		sort.Strings(subKeys)
		for _, subKey := range subKeys {
			dynamic := "_" + Sanitize(subKey)
			if err := claim(taken, dynamic, key+"."+subKey); err != nil {
				return err
			}
			flat.Extra[dynamic] = dynamicValue(v[subKey])
		}
		return nil

	case []interface{}:
		if err := claim(taken, column, key); err != nil {
			return err
		}
		flat.Static[column] = listValue(v)
		return nil

	default:
		if err := claim(taken, column, key); err != nil {
			return err
		}
		flat.Static[column] = scalarValue(value)
		return nil
	}
}

// claim reserves a destination column, failing on a duplicate.
func claim(taken map[string]string, column, sourceKey string) *exception.Classified {
	if previous, ok := taken[column]; ok {
		return exception.NewClassified(exception.KindColumnCollision,
			"keys %q and %q both sanitize to column %q", previous, sourceKey, column)
	}
	taken[column] = sourceKey
	return nil
}

// classificationShape recognizes the fixed classification-tree sub-object:
// a label set plus a score. It returns the joined labels and the score.
func classificationShape(v map[string]interface{}) (labels, score string, ok bool) {
	scoreValue, hasScore := v["score"]
	if !hasScore {
		return "", "", false
	}
	labelValue, hasLabel := v["label"]
	if !hasLabel {
		labelValue, hasLabel = v["labels"]
	}
	if !hasLabel {
		return "", "", false
	}
	switch lv := labelValue.(type) {
	case string:
		labels = lv
	case []interface{}:
		parts := make([]string, 0, len(lv))
		for _, element := range lv {
			parts = append(parts, scalarValue(element))
		}
		labels = strings.Join(parts, ";")
	default:
		labels = scalarValue(labelValue)
	}
	return labels, scalarValue(scoreValue), true
}

// dynamicValue serializes a dynamic column's value: structured values are
// JSON-encoded, scalars copied as-is.
func dynamicValue(value interface{}) string {
	switch value.(type) {
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(encoded)
	default:
		return scalarValue(value)
	}
}

// listValue serializes an array value. Scalar elements are scrubbed and
// comma-joined into the transport's list form; an array of objects is
// JSON-encoded whole.
func listValue(v []interface{}) string {
	for _, element := range v {
		switch element.(type) {
		case map[string]interface{}, []interface{}:
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(encoded)
		}
	}
	parts := make([]string, 0, len(v))
	for _, element := range v {
		parts = append(parts, ScrubText(scalarValue(element)))
	}
	return strings.Join(parts, ",")
}

// scalarValue renders a scalar as its transport string.
func scalarValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return ScrubText(v)
	case json.Number:
		return v.String()
	case bool:
		return fmt.Sprintf("%t", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// recordID derives the primary key of a leaf record: the payload's own
// variant identifier when present, else the ancestor chain plus ordinal.
func recordID(record model.ExportRecord, ordinal int) string {
	var probe struct {
		VariantID string `json:"variantId"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(record.Payload, &probe); err == nil {
		if probe.VariantID != "" {
			return fmt.Sprintf("%s_%s_%s", record.Key.Accession(), record.AnalysisID, probe.VariantID)
		}
		if probe.ID != "" {
			return fmt.Sprintf("%s_%s_%s", record.Key.Accession(), record.AnalysisID, probe.ID)
		}
	}
	return fmt.Sprintf("%s_%s_%s_%d", record.Key.Accession(), record.AnalysisID, record.ExportID, ordinal)
}
