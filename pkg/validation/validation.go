// Package validation is the client for the remote Validation and
// Schema-Validation services spec §4.5 invokes: schema validation
// returns a bare bool, full validation returns a structured report with
// a per-activity validity index.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/iati-pipeline/core/pkg/httpclient"
	"github.com/iati-pipeline/core/pkg/pipelineerr"
)

type Client struct {
	httpClient  *httpclient.Client
	schemaURL   string
	fullURL     string
	keyName     string
	keyValue    string
}

func New(httpClient *httpclient.Client, schemaURL, fullURL, keyName, keyValue string) *Client {
	return &Client{httpClient: httpClient, schemaURL: schemaURL, fullURL: fullURL, keyName: keyName, keyValue: keyValue}
}

// SchemaResult is the schema validator's response body.
type SchemaResult struct {
	Valid *bool `json:"valid"`
}

// ValidateSchema POSTs raw XML and returns the decoded validity, or a
// non-nil apiStatus carrying the status of a non-2xx response (after
// httpclient's retries for transient statuses) for the caller to record
// (spec §4.5). Transport failures are returned as err.
func (c *Client) ValidateSchema(ctx context.Context, xml []byte) (valid *bool, apiStatus *int, err error) {
	req, err := http.NewRequest(http.MethodPost, c.schemaURL, bytes.NewReader(xml))
	if err != nil {
		return nil, nil, fmt.Errorf("build schema validation request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		if resp != nil && pipelineerr.Is(err, pipelineerr.KindTransientUpstream) {
			status := resp.StatusCode
			return nil, &status, nil
		}
		return nil, nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		return nil, &status, nil
	}

	var result SchemaResult
	if jsonErr := json.Unmarshal(resp.Body, &result); jsonErr != nil || result.Valid == nil {
		// Neither {valid:true} nor {valid:false}: leave file_schema_valid
		// null so the next pass retries, per spec §9's edge case.
		return nil, nil, nil
	}
	return result.Valid, nil, nil
}

// FullReport is the full validator's structured response, including the
// per-activity validity index requested via "?meta=true".
type FullReport struct {
	Valid         bool                   `json:"valid"`
	FileType      string                 `json:"file_type"`
	IATIVersion   string                 `json:"iati_version"`
	Report        map[string]any         `json:"report"`
	ActivityIndex []ActivityValidityJSON `json:"activity_index"`
}

type ActivityValidityJSON struct {
	Index int  `json:"index"`
	Valid bool `json:"valid"`
}

// ValidateFull POSTs raw XML and returns the decoded report plus the
// response status. ?meta=true is only appended for schema-invalid
// files — that's the only case Clean later needs the extra metadata
// to reduce the file to its valid activities. A 400/413/422 ("expected
// client") still carries a body worth persisting, so the report is
// decoded and returned alongside a KindExpectedClient error; any other
// non-2xx returns a nil report and a KindTransientUpstream error.
func (c *Client) ValidateFull(ctx context.Context, xml []byte, fileSchemaValid bool) (*FullReport, int, error) {
	fullURL := c.fullURL
	if !fileSchemaValid {
		fullURL += "?meta=true"
	}
	req, err := http.NewRequest(http.MethodPost, fullURL, bytes.NewReader(xml))
	if err != nil {
		return nil, 0, fmt.Errorf("build full validation request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, 0, err
	}

	kind := pipelineerr.ClassifyHTTPStatus(resp.StatusCode)
	if kind == "" {
		var report FullReport
		if err := json.Unmarshal(resp.Body, &report); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("decode full validation report: %w", err)
		}
		return &report, resp.StatusCode, nil
	}

	if kind == pipelineerr.KindExpectedClient {
		var report FullReport
		if err := json.Unmarshal(resp.Body, &report); err == nil {
			return &report, resp.StatusCode, pipelineerr.New(kind, fmt.Errorf("full validation status %d", resp.StatusCode))
		}
	}
	return nil, resp.StatusCode, pipelineerr.New(kind, fmt.Errorf("full validation status %d", resp.StatusCode))
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/xml")
	if c.keyName != "" {
		req.Header.Set(c.keyName, c.keyValue)
	}
}
