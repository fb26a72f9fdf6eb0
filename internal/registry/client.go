// Package registry is the HTTP client for the registry store. All writes go
// through the bulk CSV import endpoint; reads are paged; single-attribute
// updates use the column endpoint. Import failures surface the server's
// response body verbatim so schema violations can be diagnosed from the run
// log alone.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

const moduleName = "registry"

// tokenHeader carries the API token on every request.
const tokenHeader = "x-api-token"

// Row is one registry record, attribute name to value. Values are always
// transported as strings; the registry applies its own typing on import.
type Row map[string]string

// Client is the registry store API client.
type Client struct {
	baseURL    string
	token      string
	batchSize  int
	httpClient *http.Client
}

// NewClient creates a Client from the application configuration.
func NewClient(cfg *config.Config) (*Client, error) {
	rc := cfg.Regsync.Registry
	if rc.BaseURL == "" {
		return nil, exception.NewPipelineError(moduleName, "registry.base_url is not configured", nil, false, false)
	}
	batchSize := rc.BatchSize
	if batchSize < 1 {
		batchSize = 1000
	}
	return &Client{
		baseURL:    strings.TrimRight(rc.BaseURL, "/"),
		token:      rc.Token,
		batchSize:  batchSize,
		httpClient: &http.Client{Timeout: time.Duration(rc.TimeoutSeconds) * time.Second},
	}, nil
}

// ImportRows uploads rows into an entity through the bulk import endpoint.
// The columns slice fixes the CSV column order; rows missing a column get an
// empty cell. The import is an upsert keyed on the entity's id attribute.
func (c *Client) ImportRows(ctx context.Context, entity string, columns []string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	payload, err := MarshalCSV(columns, rows)
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to build import payload for "+entity, err, false, false)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", entity+".csv")
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to build multipart request", err, false, false)
	}
	if _, err := part.Write(payload); err != nil {
		return exception.NewPipelineError(moduleName, "failed to build multipart request", err, false, false)
	}
	if err := writer.WriteField("entity", entity); err != nil {
		return exception.NewPipelineError(moduleName, "failed to build multipart request", err, false, false)
	}
	if err := writer.WriteField("action", "add_update_existing"); err != nil {
		return exception.NewPipelineError(moduleName, "failed to build multipart request", err, false, false)
	}
	if err := writer.Close(); err != nil {
		return exception.NewPipelineError(moduleName, "failed to build multipart request", err, false, false)
	}

	endpoint := c.baseURL + "/import"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to create import request", err, false, false)
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return exception.NewPipelineError(moduleName, "import request for "+entity+" failed",
			exception.ClassifyTransport(err), false, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		// The body carries the registry's own validation message. Pass it on
		// unmodified.
		return exception.NewPipelineError(moduleName,
			fmt.Sprintf("import into %s rejected with status %d: %s",
				entity, resp.StatusCode, strings.TrimSpace(string(respBody))),
			nil, false, resp.StatusCode >= 500)
	}
	logger.Debugf("Imported %d rows into %s.", len(rows), entity)
	return nil
}

// rowsResponse is one page of a filtered read.
type rowsResponse struct {
	Total int                      `json:"total"`
	Items []map[string]interface{} `json:"items"`
}

// GetRows reads every row of an entity matching the filter, paging through
// the endpoint with the configured batch size. A nil filter reads the whole
// entity. Attribute values are stringified; nulls become empty strings.
func (c *Client) GetRows(ctx context.Context, entity string, filter url.Values) ([]Row, error) {
	var rows []Row
	offset := 0
	for {
		query := url.Values{}
		for key, values := range filter {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		query.Set("offset", fmt.Sprintf("%d", offset))
		query.Set("batch_size", fmt.Sprintf("%d", c.batchSize))

		endpoint := fmt.Sprintf("%s/api/v1/%s?%s", c.baseURL, url.PathEscape(entity), query.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to create read request", err, false, false)
		}
		req.Header.Set(tokenHeader, c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, exception.NewPipelineError(moduleName, "read request for "+entity+" failed",
				exception.ClassifyTransport(err), false, true)
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to read response for "+entity, readErr, false, true)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, exception.NewPipelineError(moduleName,
				fmt.Sprintf("read of %s failed with status %d: %s",
					entity, resp.StatusCode, strings.TrimSpace(string(data))),
				nil, false, resp.StatusCode >= 500)
		}

		var page rowsResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, exception.NewPipelineError(moduleName, "failed to decode response for "+entity, err, false, false)
		}
		for _, item := range page.Items {
			rows = append(rows, toRow(item))
		}

		if len(page.Items) < c.batchSize {
			return rows, nil
		}
		offset += c.batchSize
	}
}

// UpdateColumn sets one attribute of one row. Used for incremental fixes
// such as appending a comment without re-importing the record.
func (c *Client) UpdateColumn(ctx context.Context, entity, id, column, value string) error {
	endpoint := fmt.Sprintf("%s/api/v1/%s/%s/%s",
		c.baseURL, url.PathEscape(entity), url.PathEscape(id), url.PathEscape(column))

	payload, err := json.Marshal(value)
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to encode column value", err, false, false)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to create update request", err, false, false)
	}
	req.Header.Set(tokenHeader, c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return exception.NewPipelineError(moduleName, "column update for "+entity+" failed",
			exception.ClassifyTransport(err), false, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return exception.NewPipelineError(moduleName,
			fmt.Sprintf("column update of %s.%s rejected with status %d: %s",
				entity, column, resp.StatusCode, strings.TrimSpace(string(respBody))),
			nil, false, resp.StatusCode >= 500)
	}
	return nil
}

// toRow flattens one JSON item to a Row. Nested reference objects are
// reduced to their id attribute; arrays of references become a
// comma-separated id list.
func toRow(item map[string]interface{}) Row {
	row := make(Row, len(item))
	for key, value := range item {
		row[key] = stringify(value)
	}
	return row
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case map[string]interface{}:
		if id, ok := v["id"]; ok {
			return stringify(id)
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, element := range v {
			parts = append(parts, stringify(element))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}
