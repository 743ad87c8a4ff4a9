// Package bds is the Bulk Data Service client: the remote catalogue of
// publishers and datasets that Refresh mirrors into the State Store
// (spec §4.3, §4.10). An ETag HEAD check lets Refresh skip re-fetching
// an unchanged dataset index.
package bds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/iati-pipeline/core/pkg/httpclient"
)

// Dataset is one entry of the BDS dataset index.
type Dataset struct {
	ID          string `json:"id"`
	Hash        string `json:"hash"`
	URL         string `json:"url"`
	BDSCacheURL string `json:"bds_cache_url"`
	Publisher   string `json:"publisher"`
	Name        string `json:"name"`
	Modified    string `json:"modified"`
}

// ReportingOrg is one entry of the BDS reporting-org index.
type ReportingOrg struct {
	OrgID          string `json:"org_id"`
	ShortName      string `json:"short_name"`
	Title          string `json:"title"`
	IATIIdentifier string `json:"iati_identifier"`
	DatasetCount   int    `json:"dataset_count"`
}

type Client struct {
	httpClient       *httpclient.Client
	datasetIndexURL  string
	reportingOrgURL  string
	lastDatasetETag  string
}

func New(httpClient *httpclient.Client, datasetIndexURL, reportingOrgIndexURL string) *Client {
	return &Client{
		httpClient:      httpClient,
		datasetIndexURL: datasetIndexURL,
		reportingOrgURL: reportingOrgIndexURL,
	}
}

// DatasetIndexChanged performs a HEAD request and compares ETag against
// the last fetch, so Refresh can skip a full GET+decode when BDS hasn't
// published anything new.
func (c *Client) DatasetIndexChanged(ctx context.Context) (bool, error) {
	req, err := http.NewRequest(http.MethodHead, c.datasetIndexURL, nil)
	if err != nil {
		return false, fmt.Errorf("build HEAD request: %w", err)
	}
	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("HEAD dataset index: %w", err)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return true, nil
	}
	changed := etag != c.lastDatasetETag
	return changed, nil
}

// FetchDatasetIndex retrieves and decodes the full dataset index,
// recording the response ETag for the next DatasetIndexChanged call.
func (c *Client) FetchDatasetIndex(ctx context.Context) ([]Dataset, error) {
	req, err := http.NewRequest(http.MethodGet, c.datasetIndexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build dataset index request: %w", err)
	}
	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset index: %w", err)
	}

	var datasets []Dataset
	if err := json.Unmarshal(resp.Body, &datasets); err != nil {
		return nil, fmt.Errorf("decode dataset index: %w", err)
	}
	c.lastDatasetETag = resp.Header.Get("ETag")
	return datasets, nil
}

// FetchReportingOrgIndex retrieves and decodes the reporting-org index.
func (c *Client) FetchReportingOrgIndex(ctx context.Context) ([]ReportingOrg, error) {
	req, err := http.NewRequest(http.MethodGet, c.reportingOrgURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build reporting-org request: %w", err)
	}
	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch reporting-org index: %w", err)
	}

	var orgs []ReportingOrg
	if err := json.Unmarshal(resp.Body, &orgs); err != nil {
		return nil, fmt.Errorf("decode reporting-org index: %w", err)
	}
	return orgs, nil
}
