package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varilab/regsync/internal/client/interp"
	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/export"
	"github.com/varilab/regsync/internal/metrics"
	"github.com/varilab/regsync/internal/registry"
	"github.com/varilab/regsync/internal/resolver"
	"github.com/varilab/regsync/internal/storage"
	"github.com/varilab/regsync/internal/syncer"
	"github.com/varilab/regsync/internal/telemetry"
	"github.com/varilab/regsync/internal/tracing"
	"github.com/varilab/regsync/internal/traverse"
	"github.com/varilab/regsync/internal/vocab"
)

// fakeRegistry is an in-memory registry store behind the real wire
// protocol: multipart CSV imports, paged JSON reads, column updates.
type fakeRegistry struct {
	mu      sync.Mutex
	rows    map[string]map[string]registry.Row
	imports map[string]int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		rows:    make(map[string]map[string]registry.Row),
		imports: make(map[string]int),
	}
}

func (f *fakeRegistry) seed(entity string, rows ...registry.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[entity] == nil {
		f.rows[entity] = make(map[string]registry.Row)
	}
	for _, row := range rows {
		f.rows[entity][row["id"]] = row
	}
}

func (f *fakeRegistry) get(entity, id string) registry.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := make(registry.Row, len(f.rows[entity][id]))
	for column, value := range f.rows[entity][id] {
		row[column] = value
	}
	return row
}

func (f *fakeRegistry) importCount(entity string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imports[entity]
}

func (f *fakeRegistry) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/import":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			entity := r.FormValue("entity")
			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			records, err := csv.NewReader(file).ReadAll()
			require.NoError(t, err)
			require.NotEmpty(t, records)

			f.mu.Lock()
			f.imports[entity]++
			if f.rows[entity] == nil {
				f.rows[entity] = make(map[string]registry.Row)
			}
			header := records[0]
			for _, record := range records[1:] {
				row := make(registry.Row, len(header))
				for i, column := range header {
					row[column] = record[i]
				}
				if existing, ok := f.rows[entity][row["id"]]; ok {
					for column, value := range row {
						existing[column] = value
					}
				} else {
					f.rows[entity][row["id"]] = row
				}
			}
			f.mu.Unlock()
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/"):
			entity := strings.TrimPrefix(r.URL.Path, "/api/v1/")
			f.mu.Lock()
			items := make([]map[string]interface{}, 0, len(f.rows[entity]))
			for _, row := range f.rows[entity] {
				item := make(map[string]interface{}, len(row))
				for column, value := range row {
					item[column] = value
				}
				items = append(items, item)
			}
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]interface{}{"total": len(items), "items": items})
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/api/v1/"):
			parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/"), "/")
			require.Len(t, parts, 3)
			var value string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&value))
			f.mu.Lock()
			if row, ok := f.rows[parts[0]][parts[1]]; ok {
				row[parts[2]] = value
			}
			f.mu.Unlock()
		default:
			http.NotFound(w, r)
		}
	})
}

// ambiguousVendor answers the accession lookup with two exact matches and
// has no analyses for either patient.
func ambiguousVendor(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth/token":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok", "token_type": "bearer"})
		case r.URL.Path == "/patients":
			require.Equal(t, "FAM1_67890", r.URL.Query().Get("accessionNumber"))
			w.Write([]byte(`[{"id":101,"accessionNumber":"FAM1_67890"},{"id":102,"accessionNumber":"FAM1_67890"}]`))
		case strings.HasSuffix(r.URL.Path, "/analyses"):
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func testPipeline(t *testing.T, interpURL, registryURL string) *Pipeline {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Regsync.Interp.BaseURL = interpURL
	cfg.Regsync.Interp.PaceMillis = 0
	cfg.Regsync.Registry.BaseURL = registryURL

	interpClient, err := interp.NewClient(cfg)
	require.NoError(t, err)
	registryClient, err := registry.NewClient(cfg)
	require.NoError(t, err)
	mapper, err := vocab.Load(nil)
	require.NoError(t, err)
	tracer, err := tracing.NewTracer(cfg)
	require.NoError(t, err)
	stores := storage.NewResolver(cfg)
	recorder := metrics.NewNoopRecorder()

	return New(cfg,
		interpClient,
		registryClient,
		resolver.New(interpClient),
		traverse.New(interpClient, cfg),
		syncer.NewUpserter(),
		mapper,
		export.NewExporter(cfg, stores),
		export.NewPayloadArchiver(cfg, stores),
		telemetry.NewService("ambiguous-accession-run", nil, recorder),
		tracer,
		recorder,
	)
}

func TestRunKeepsAmbiguityAnnotation(t *testing.T) {
	reg := newFakeRegistry()
	reg.seed("subjects", registry.Row{"id": "67890", "belongsToFamily": "FAM1"})

	registryServer := httptest.NewServer(reg.handler(t))
	defer registryServer.Close()
	vendorServer := httptest.NewServer(ambiguousVendor(t))
	defer vendorServer.Close()

	require.NoError(t, testPipeline(t, vendorServer.URL, registryServer.URL).Run(context.Background()))

	mapping := reg.get("subject_mappings", "FAM1_67890")
	require.NotEmpty(t, mapping, "the resolved mapping must be imported")
	assert.Equal(t, "101", mapping[mappingColumnVendorID], "the first exact match wins")
	assert.Equal(t, "more than one record returned", mapping[mappingColumnComments])
	assert.Equal(t, "false", mapping[mappingColumnHasError])
	assert.NotEmpty(t, mapping[syncer.ColumnDateFirstRun])
}

func TestRunWithNothingNewDoesNotReimportMappings(t *testing.T) {
	reg := newFakeRegistry()
	reg.seed("subjects", registry.Row{"id": "67890", "belongsToFamily": "FAM1"})

	registryServer := httptest.NewServer(reg.handler(t))
	defer registryServer.Close()
	vendorServer := httptest.NewServer(ambiguousVendor(t))
	defer vendorServer.Close()

	require.NoError(t, testPipeline(t, vendorServer.URL, registryServer.URL).Run(context.Background()))
	afterFirst := reg.get("subject_mappings", "FAM1_67890")
	firstImports := reg.importCount("subject_mappings")

	require.NoError(t, testPipeline(t, vendorServer.URL, registryServer.URL).Run(context.Background()))

	assert.Equal(t, firstImports, reg.importCount("subject_mappings"),
		"a run that learned nothing new must not touch the mapping entity")
	afterSecond := reg.get("subject_mappings", "FAM1_67890")
	assert.Equal(t, afterFirst[mappingColumnComments], afterSecond[mappingColumnComments])
	assert.Equal(t, afterFirst[syncer.ColumnDateLastUpdated], afterSecond[syncer.ColumnDateLastUpdated])
}
