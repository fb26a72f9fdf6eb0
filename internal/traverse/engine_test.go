package traverse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varilab/regsync/internal/client/interp"
	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/domain/model"
)

// vendorFixture is a canned interpretation service. Patients map to
// analyses, analyses to an export id, exports to variant payloads.
type vendorFixture struct {
	analyses map[string][]map[string]interface{}
	exports  map[string]string
	variants map[string][]map[string]interface{}
}

func (f *vendorFixture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case len(parts) == 3 && parts[0] == "patients" && parts[2] == "analyses":
			analyses, ok := f.analyses[parts[1]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(analyses)

		case len(parts) == 4 && parts[0] == "analyses" && r.Method == http.MethodPost:
			exportID, ok := f.exports[parts[1]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"exportId": exportID})

		case len(parts) == 5 && parts[0] == "analyses":
			variants, ok := f.variants[parts[4]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(variants)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newEngine(t *testing.T, baseURL string, workers int) *Engine {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Regsync.Interp.BaseURL = baseURL
	cfg.Regsync.Interp.PaceMillis = 0
	cfg.Regsync.Interp.MaxConcurrency = workers

	client, err := interp.NewClient(cfg)
	require.NoError(t, err)
	return New(client, cfg)
}

func resolvedMapping(family, subject, interpID string) *model.SubjectMapping {
	return &model.SubjectMapping{
		Key:      model.LocalKey{FamilyID: family, SubjectID: subject},
		InterpID: interpID,
	}
}

func TestTraverse(t *testing.T) {
	fixture := &vendorFixture{
		analyses: map[string][]map[string]interface{}{
			"10": {
				{"id": 100, "status": "COMPLETED"},
				{"id": 101, "status": "IN_PROGRESS"},
			},
			"20": {
				{"id": 200, "status": "COMPLETED"},
			},
		},
		exports: map[string]string{
			"100": "E100",
			"200": "E200",
		},
		variants: map[string][]map[string]interface{}{
			"E100": {{"variantId": "V1"}, {"variantId": "V2"}},
			"E200": {{"variantId": "V3"}},
		},
	}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	engine := newEngine(t, server.URL, 2)
	mappings := []*model.SubjectMapping{
		resolvedMapping("F002", "S01", "20"),
		resolvedMapping("F001", "S01", "10"),
	}

	records, stats, err := engine.Traverse(context.Background(), mappings)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Subjects)
	assert.Equal(t, 3, stats.Analyses)
	assert.Equal(t, 2, stats.Completed, "only COMPLETED analyses are exported")
	assert.Equal(t, 2, stats.Exports)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 0, stats.Failures)

	require.Len(t, records, 3)
	// Input is sorted on accession, so F001 comes first regardless of the
	// mapping order handed in.
	assert.Equal(t, "F001_S01", records[0].Key.Accession())
	assert.Equal(t, "100", records[0].AnalysisID)
	assert.Equal(t, "E100", records[0].ExportID)
	assert.JSONEq(t, `{"variantId": "V1"}`, string(records[0].Payload))
	assert.Equal(t, "F002_S01", records[2].Key.Accession())
}

func TestTraverseOutputIndependentOfInputOrder(t *testing.T) {
	fixture := &vendorFixture{
		analyses: map[string][]map[string]interface{}{
			"10": {{"id": 100, "status": "COMPLETED"}},
			"20": {{"id": 200, "status": "COMPLETED"}},
		},
		exports:  map[string]string{"100": "E100", "200": "E200"},
		variants: map[string][]map[string]interface{}{"E100": {{"variantId": "V1"}}, "E200": {{"variantId": "V2"}}},
	}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	engine := newEngine(t, server.URL, 4)

	forward := []*model.SubjectMapping{resolvedMapping("F001", "S01", "10"), resolvedMapping("F002", "S01", "20")}
	reversed := []*model.SubjectMapping{resolvedMapping("F002", "S01", "20"), resolvedMapping("F001", "S01", "10")}

	first, _, err := engine.Traverse(context.Background(), forward)
	require.NoError(t, err)
	second, _, err := engine.Traverse(context.Background(), reversed)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Key, second[i].Key)
		assert.Equal(t, first[i].AnalysisID, second[i].AnalysisID)
	}
}

func TestTraverseSkipsUnresolvedMappings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for an unresolved mapping: %s", r.URL.Path)
	}))
	defer server.Close()

	engine := newEngine(t, server.URL, 1)
	unresolved := &model.SubjectMapping{Key: model.LocalKey{FamilyID: "F001", SubjectID: "S01"}}

	records, stats, err := engine.Traverse(context.Background(), []*model.SubjectMapping{unresolved})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, stats.Subjects)
}

func TestTraverseMissingAnalysesDoNotHideSiblings(t *testing.T) {
	fixture := &vendorFixture{
		analyses: map[string][]map[string]interface{}{
			// Patient 10 has no analyses resource at all (404).
			"20": {{"id": 200, "status": "COMPLETED"}},
		},
		exports:  map[string]string{"200": "E200"},
		variants: map[string][]map[string]interface{}{"E200": {{"variantId": "V1"}}},
	}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	engine := newEngine(t, server.URL, 2)
	mappings := []*model.SubjectMapping{
		resolvedMapping("F001", "S01", "10"),
		resolvedMapping("F002", "S01", "20"),
	}

	records, stats, err := engine.Traverse(context.Background(), mappings)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Failures, "a 404 is no data, not a failure")
	require.Len(t, records, 1)
	assert.Equal(t, "F002_S01", records[0].Key.Accession())
}

func TestTraverseDropsAnalysesWithoutExportableData(t *testing.T) {
	fixture := &vendorFixture{
		analyses: map[string][]map[string]interface{}{
			"10": {{"id": 100, "status": "COMPLETED"}, {"id": 101, "status": "COMPLETED"}},
		},
		// Analysis 101 yields an empty export id: nothing to export.
		exports:  map[string]string{"100": "E100", "101": ""},
		variants: map[string][]map[string]interface{}{"E100": {{"variantId": "V1"}}},
	}
	server := httptest.NewServer(fixture.handler())
	defer server.Close()

	engine := newEngine(t, server.URL, 1)
	records, stats, err := engine.Traverse(context.Background(),
		[]*model.SubjectMapping{resolvedMapping("F001", "S01", "10")})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exports)
	require.Len(t, records, 1)
	assert.Equal(t, "100", records[0].AnalysisID)
}

func TestTraverseServerErrorCountsAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer server.Close()

	engine := newEngine(t, server.URL, 1)
	records, stats, err := engine.Traverse(context.Background(),
		[]*model.SubjectMapping{resolvedMapping("F001", "S01", "10")})

	require.NoError(t, err, "item failures never abort the traversal")
	assert.Empty(t, records)
	assert.Equal(t, 1, stats.Failures)
}

func TestTraverseStopsOnCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := newEngine(t, server.URL, 1)
	_, _, err := engine.Traverse(ctx, []*model.SubjectMapping{resolvedMapping("F001", "S01", "10")})
	assert.Error(t, err)
}
