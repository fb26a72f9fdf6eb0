package interp

import "encoding/json"

// Patient is one patient record returned by the accession lookup. The
// vendor search is contains-matching, so AccessionNumber must be compared
// for string equality by the caller.
type Patient struct {
	ID               json.Number `json:"id"`
	AccessionNumber  string      `json:"accessionNumber"`
	FamilyIdentifier string      `json:"familyIdentifier"`
	CreatedOn        string      `json:"createdOn"`
	LastUpdatedOn    string      `json:"lastUpdatedOn"`
}

// Analysis is one analysis belonging to a patient. Only analyses with
// Status "COMPLETED" can produce a variant export.
type Analysis struct {
	ID            json.Number `json:"id"`
	Reference     string      `json:"reference"`
	Status        string      `json:"status"`
	AnalysisType  string      `json:"analysisType"`
	TargetPanels  []string    `json:"targetPanelNames"`
	LastUpdatedOn string      `json:"lastUpdatedOn"`
}

// exportRequest is the body of a variant export creation call. Optional
// filters are pointers so they are omitted entirely when unset; the vendor
// rejects explicit nulls.
type exportRequest struct {
	MarkedForReview *bool `json:"markedForReview,omitempty"`
	MarkedIncludeIn *bool `json:"markedIncludeInReport,omitempty"`
}

// exportResponse carries the identifier of a created export request.
type exportResponse struct {
	ExportID string `json:"exportId"`
}

// tokenResponse is the OAuth token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// vendorError is the payload-level error shape some vendor responses carry
// inside a 2xx body.
type vendorError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}
