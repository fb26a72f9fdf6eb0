// Package interp is the HTTP client for the variant-interpretation service.
// It authenticates once per run, paces every call to respect the vendor
// rate limit, and converts responses into either payloads or classified
// failures. A 404 is "no data for this parent" and is returned as an empty
// result, not an error.
package interp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	config "github.com/varilab/regsync/internal/config"
	"github.com/varilab/regsync/internal/support/exception"
	"github.com/varilab/regsync/internal/support/logger"
)

const moduleName = "interp"

// pacer enforces a minimum spacing between calls issued under one
// credential. It is shared by all workers of a traversal stage.
type pacer struct {
	mu       sync.Mutex
	last     time.Time
	interval time.Duration
}

// wait blocks until the configured interval has passed since the previous
// call, or the context is done.
func (p *pacer) wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}
	p.mu.Lock()
	next := p.last.Add(p.interval)
	now := time.Now()
	if next.After(now) {
		p.last = next
	} else {
		p.last = now
	}
	wait := p.last.Sub(now)
	p.mu.Unlock()

	if wait <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// Client is the interpretation service API client.
type Client struct {
	baseURL       string
	tokenURL      string
	clientID      string
	clientSecret  string
	httpClient    *http.Client
	pace          *pacer
	maxAttempts   int
	retryInterval time.Duration

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client from the application configuration.
func NewClient(cfg *config.Config) (*Client, error) {
	ic := cfg.Regsync.Interp
	if ic.BaseURL == "" {
		return nil, exception.NewPipelineError(moduleName, "interp.base_url is not configured", nil, false, false)
	}
	tokenURL := ic.TokenURL
	if tokenURL == "" {
		tokenURL = strings.TrimRight(ic.BaseURL, "/") + "/auth/token"
	}
	maxAttempts := ic.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		baseURL:       strings.TrimRight(ic.BaseURL, "/"),
		tokenURL:      tokenURL,
		clientID:      ic.ClientID,
		clientSecret:  ic.ClientSecret,
		httpClient:    &http.Client{Timeout: time.Duration(ic.TimeoutSeconds) * time.Second},
		pace:          &pacer{interval: time.Duration(ic.PaceMillis) * time.Millisecond},
		maxAttempts:   maxAttempts,
		retryInterval: time.Duration(ic.Retry.InitialInterval) * time.Millisecond,
	}, nil
}

// Authenticate obtains an access token with the client-credentials grant.
// It is called once per run; a failure here is fatal for the run.
func (c *Client) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to create token request", err, false, false)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return exception.NewPipelineError(moduleName, "token request failed", err, false, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return exception.NewPipelineError(moduleName,
			fmt.Sprintf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			nil, false, resp.StatusCode >= 500)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return exception.NewPipelineError(moduleName, "failed to decode token response", err, false, false)
	}
	if tok.AccessToken == "" {
		return exception.NewPipelineError(moduleName, "token endpoint returned an empty access token", nil, false, false)
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.mu.Unlock()
	logger.Infof("Authenticated with the interpretation service.")
	return nil
}

// PatientsByAccession looks up patients whose accession number contains the
// given string. Exact-match filtering is the caller's responsibility. An
// empty result set is returned as a nil slice with a nil error.
func (c *Client) PatientsByAccession(ctx context.Context, accession string) ([]Patient, error) {
	endpoint := fmt.Sprintf("%s/patients?accessionNumber=%s", c.baseURL, url.QueryEscape(accession))
	body, found, err := c.get(ctx, endpoint)
	if err != nil || !found {
		return nil, err
	}
	var patients []Patient
	if err := json.Unmarshal(body, &patients); err != nil {
		return nil, exception.NewClassified(exception.KindHTTPError, "failed to decode patient response: %v", err)
	}
	return patients, nil
}

// PatientAnalyses lists the analyses of a patient. A 404 means the patient
// has no analyses and yields an empty result.
func (c *Client) PatientAnalyses(ctx context.Context, patientID string) ([]Analysis, error) {
	endpoint := fmt.Sprintf("%s/patients/%s/analyses", c.baseURL, url.PathEscape(patientID))
	body, found, err := c.get(ctx, endpoint)
	if err != nil || !found {
		return nil, err
	}
	var analyses []Analysis
	if err := json.Unmarshal(body, &analyses); err != nil {
		return nil, exception.NewClassified(exception.KindHTTPError, "failed to decode analysis response: %v", err)
	}
	return analyses, nil
}

// CreateVariantExport creates an export request for an analysis and returns
// its identifier. A 404 means no exportable data exists for the analysis;
// the empty identifier with a nil error signals that.
func (c *Client) CreateVariantExport(ctx context.Context, analysisID string) (string, error) {
	endpoint := fmt.Sprintf("%s/analyses/%s/molecular_variants/exports", c.baseURL, url.PathEscape(analysisID))

	marked := false
	payload, err := json.Marshal(exportRequest{MarkedForReview: &marked, MarkedIncludeIn: nil})
	if err != nil {
		return "", exception.NewClassified(exception.KindHTTPError, "failed to encode export request: %v", err)
	}

	body, found, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil || !found {
		return "", err
	}
	var export exportResponse
	if err := json.Unmarshal(body, &export); err != nil {
		return "", exception.NewClassified(exception.KindHTTPError, "failed to decode export response: %v", err)
	}
	return export.ExportID, nil
}

// VariantExport retrieves the payload of a completed export request as a
// list of variant objects, each of which becomes one leaf item. A 404
// yields an empty result: the export may not be ready or contains no rows.
func (c *Client) VariantExport(ctx context.Context, analysisID, exportID string) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/analyses/%s/molecular_variants/exports/%s",
		c.baseURL, url.PathEscape(analysisID), url.PathEscape(exportID))
	body, found, err := c.get(ctx, endpoint)
	if err != nil || !found {
		return nil, err
	}

	// Some vendor failures arrive inside a 2xx body.
	var ve vendorError
	if err := json.Unmarshal(body, &ve); err == nil && ve.ErrorCode != "" {
		return nil, &exception.Classified{
			Kind:    exception.KindVendorError,
			Message: fmt.Sprintf("%s: %s", ve.ErrorCode, ve.ErrorMessage),
		}
	}

	var variants []json.RawMessage
	if err := json.Unmarshal(body, &variants); err != nil {
		return nil, exception.NewClassified(exception.KindHTTPError, "failed to decode variant export: %v", err)
	}
	return variants, nil
}

// get issues a paced GET. found is false for a 404.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, bool, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil)
}

// do issues one paced, authenticated call, retrying transport faults and
// rate-limit rejections up to the configured attempt budget. All other
// failures are classified and returned on the first occurrence.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, false, exception.ClassifyTransport(ctx.Err())
			case <-time.After(c.retryInterval):
			}
		}
		if err := c.pace.wait(ctx); err != nil {
			return nil, false, exception.ClassifyTransport(err)
		}

		body, found, retryable, err := c.doOnce(ctx, method, endpoint, payload)
		if err == nil {
			return body, found, nil
		}
		lastErr = err
		if !retryable {
			return nil, false, err
		}
		logger.Warnf("Call %s %s failed (attempt %d/%d): %v", method, endpoint, attempt, c.maxAttempts, err)
	}
	return nil, false, lastErr
}

// doOnce issues a single call. retryable marks transport faults and 429s.
func (c *Client) doOnce(ctx context.Context, method, endpoint string, payload []byte) (body []byte, found bool, retryable bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, reqErr := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if reqErr != nil {
		return nil, false, false, exception.NewClassified(exception.KindHTTPError, "failed to create request: %v", reqErr)
	}
	c.mu.RLock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.RUnlock()
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		classified := exception.ClassifyTransport(doErr)
		return nil, false, classified.Kind == exception.KindTimeout, classified
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, false, true, exception.ClassifyTransport(readErr)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// No data for this parent.
		return nil, false, false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, true, false, nil
	default:
		classified := exception.ClassifyHTTPStatus(resp.StatusCode, string(data))
		return nil, false, resp.StatusCode == http.StatusTooManyRequests, classified
	}
}
