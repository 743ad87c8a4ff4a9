// Package searchindex is the Solr-like Search Index client spec §4.10
// describes: one "activity" core plus one core per explode element,
// documents keyed by a composite id and tagged for bulk removal. No
// Solr/Elasticsearch client appears anywhere in the retrieval pack, so
// this stays on net/http the way the teacher does outside its gRPC
// surface — there's no library in the corpus to ground it on instead.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrorClass is the transport/status classification spec §4.10 names
// for retry and cleanup decisions.
type ErrorClass string

const (
	ErrorClassNone       ErrorClass = ""
	ErrorClassServer     ErrorClass = "server"
	ErrorClassClient     ErrorClass = "client"
	ErrorClassTimeout    ErrorClass = "timeout"
	ErrorClassConnection ErrorClass = "connection"
	ErrorClassUnknown    ErrorClass = "unknown"
)

// PingError wraps a failed core ping, the SolrPingError spec §4.10 names.
type PingError struct {
	Core string
	Err  error
}

func (e *PingError) Error() string { return fmt.Sprintf("ping core %q: %v", e.Core, e.Err) }
func (e *PingError) Unwrap() error { return e.Err }

// Client holds a single *http.Client shared by every core ("activity"
// plus one per explode element), scoped to the worker that created it
// rather than cached module-globally (spec §9's redesign note).
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

func New(httpClient *http.Client, baseURL, user, password string) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), user: user, password: password, http: httpClient}
}

func (c *Client) coreURL(core, path string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, core, path)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	return c.http.Do(req)
}

// Ping checks one core's health, returning a *PingError on failure so
// callers can apply the SOLR_500_SLEEP backoff spec §4.10 requires.
func (c *Client) Ping(ctx context.Context, core string) error {
	resp, err := c.do(ctx, http.MethodGet, c.coreURL(core, "admin/ping"), nil)
	if err != nil {
		return &PingError{Core: core, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &PingError{Core: core, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

// ClassifyError maps a completed response's status (or a transport
// error) to the five classes spec §4.10 distinguishes.
func ClassifyError(status int, transportErr error) ErrorClass {
	if transportErr != nil {
		msg := transportErr.Error()
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return ErrorClassTimeout
		case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
			return ErrorClassConnection
		default:
			return ErrorClassUnknown
		}
	}
	switch {
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	case status >= 200 && status < 300:
		return ErrorClassNone
	default:
		return ErrorClassUnknown
	}
}

// DeleteByDocumentID issues `DELETE iati_activities_document_id:<id>`
// against one core — the whole-document delete spec §4.10 mandates
// (never the per-activity variant a historical rewrite must not emulate).
func (c *Client) DeleteByDocumentID(ctx context.Context, core, documentID string) error {
	payload, err := json.Marshal(map[string]any{
		"delete": map[string]string{"query": "iati_activities_document_id:" + documentID},
	})
	if err != nil {
		return fmt.Errorf("marshal delete query: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.coreURL(core, "update?commit=true"), payload)
	if err != nil {
		return fmt.Errorf("delete by document id on core %q: %w", core, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete by document id on core %q: status %d", core, resp.StatusCode)
	}
	return nil
}

// ActivityDoc is one composite-keyed document added to a core.
type ActivityDoc struct {
	ID                       string
	IATIActivitiesDocumentID string
	Fields                   map[string]any
}

// CompositeID builds the "<doc_id>--<id_hash>--<occurrence_index>" id
// spec §4.10 mandates; occurrence_index differentiates duplicate
// identifiers inside one file and must never be collapsed.
func CompositeID(documentID, idHash string, occurrenceIndex int) string {
	return fmt.Sprintf("%s--%s--%d", documentID, idHash, occurrenceIndex)
}

// LocationPointLatLon parses a whitespace-separated "lon lat" pair and
// returns it as a Solr "lat,lon" point string, dropping out-of-range
// values per spec §4.10 (|lat|<=90, |lon|<=180).
func LocationPointLatLon(pos string) (string, bool) {
	parts := strings.Fields(pos)
	if len(parts) != 2 {
		return "", false
	}
	lon, err1 := strconv.ParseFloat(parts[0], 64)
	lat, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return "", false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", false
	}
	return fmt.Sprintf("%f,%f", lat, lon), true
}

// AddDocs batches up to len(docs) additions to one core in a single
// update request, then commits.
func (c *Client) AddDocs(ctx context.Context, core string, docs []ActivityDoc) error {
	if len(docs) == 0 {
		return nil
	}
	payloadDocs := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		fields := map[string]any{
			"id":                           d.ID,
			"iati_activities_document_id":  d.IATIActivitiesDocumentID,
		}
		for k, v := range d.Fields {
			fields[k] = v
		}
		payloadDocs = append(payloadDocs, fields)
	}

	body, err := json.Marshal(payloadDocs)
	if err != nil {
		return fmt.Errorf("marshal solr docs: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.coreURL(core, "update?commit=true"), body)
	if err != nil {
		return fmt.Errorf("add docs to core %q: %w", core, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("add docs to core %q: status %d: %s", core, resp.StatusCode, respBody)
	}
	return nil
}
