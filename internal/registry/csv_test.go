package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCSV(t *testing.T) {
	columns := []string{"id", "gene", "comments"}
	rows := []Row{
		{"id": "R1", "gene": "BRCA2", "comments": "record updated or refreshed"},
		{"id": "R2", "gene": "TP53"},
	}

	payload, err := MarshalCSV(columns, rows)
	require.NoError(t, err)

	expected := "id,gene,comments\n" +
		"R1,BRCA2,record updated or refreshed\n" +
		"R2,TP53,\n"
	assert.Equal(t, expected, string(payload))
}

func TestMarshalCSVQuotesEmbeddedDelimiters(t *testing.T) {
	payload, err := MarshalCSV([]string{"id", "note"}, []Row{
		{"id": "R1", "note": `says "hello", twice`},
	})
	require.NoError(t, err)
	assert.Equal(t, "id,note\nR1,\"says \"\"hello\"\", twice\"\n", string(payload))
}

func TestMarshalCSVRejectsUnknownAttribute(t *testing.T) {
	_, err := MarshalCSV([]string{"id"}, []Row{
		{"id": "R1", "stray": "value"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stray")
}

func TestMarshalCSVRejectsEmptyColumnList(t *testing.T) {
	_, err := MarshalCSV(nil, []Row{{"id": "R1"}})
	assert.Error(t, err)
}

func TestColumnSet(t *testing.T) {
	rows := []Row{
		{"id": "R1", "zeta": "z", "alpha": "a"},
		{"id": "R2", "mid": "m"},
	}

	columns := ColumnSet([]string{"id", "gene"}, rows)

	assert.Equal(t, []string{"id", "gene", "alpha", "mid", "zeta"}, columns)
}

func TestColumnSetDeduplicatesPreferred(t *testing.T) {
	columns := ColumnSet([]string{"id", "id", "gene"}, nil)
	assert.Equal(t, []string{"id", "gene"}, columns)
}
