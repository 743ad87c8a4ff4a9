// Package download implements the Download worker (spec §4.4): fetch
// each claimable Document's XML into the Object Store `source`
// container, detecting charset by byte-sniffing and classifying every
// failure into the typed DownloadErrorCode spec §9 asks for instead of
// a bare int. Charset detection uses golang.org/x/net/html/charset,
// promoted from an indirect dependency every repo in the pack already
// carries.
package download

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/store"
	"github.com/iati-pipeline/core/pkg/workerpool"
)

type Worker struct {
	accessor    store.Accessor
	objectStore objectstore.Accessor
	http        *http.Client
	parallelism int
}

func NewWorker(accessor store.Accessor, os objectstore.Accessor, httpTimeout time.Duration, parallelism int) *Worker {
	return &Worker{
		accessor:    accessor,
		objectStore: os,
		http:        &http.Client{Timeout: httpTimeout},
		parallelism: parallelism,
	}
}

// Pass resets orphaned claims, fetches the claimable batch, and
// downloads it across parallelism worker stripes (spec §4.4).
func (w *Worker) Pass(ctx context.Context, retryErrors bool) error {
	if _, err := w.accessor.ResetUnfinishedDownload(ctx); err != nil {
		return fmt.Errorf("reset unfinished downloads: %w", err)
	}

	docs, err := w.claimable(ctx, retryErrors)
	if err != nil {
		return fmt.Errorf("list refresh candidates: %w", err)
	}

	workerpool.Run(docs, w.parallelism, func(d *types.Document) error {
		return w.downloadOne(ctx, d)
	})
	return nil
}

func (w *Worker) claimable(ctx context.Context, retryErrors bool) ([]*types.Document, error) {
	return w.accessor.GetDownloadCandidates(ctx, retryErrors)
}

func (w *Worker) downloadOne(ctx context.Context, d *types.Document) error {
	if d.BDSCacheURL == nil {
		return w.recordError(ctx, d, types.DownloadErrorNoCacheURL)
	}

	parsed, err := url.Parse(*d.BDSCacheURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return w.recordError(ctx, d, types.DownloadErrorInvalidURLScheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *d.BDSCacheURL, nil)
	if err != nil {
		return w.recordError(ctx, d, types.DownloadErrorInvalidURLScheme)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return w.classifyTransportError(ctx, d, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		code := types.DownloadErrorCode(resp.StatusCode)
		return w.recordError(ctx, d, code)
	}

	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return w.classifyTransportError(ctx, d, err)
	}

	decoded, _, err := decodeBody(body.Bytes(), resp.Header.Get("Content-Type"))
	if err != nil {
		return w.recordError(ctx, d, types.DownloadErrorUndetectableCharset)
	}

	if err := w.objectStore.UploadBlob(ctx, w.objectStore.SourceContainer(), d.Hash+".xml", decoded, d.ID); err != nil {
		return w.recordError(ctx, d, types.DownloadErrorNotFound)
	}

	now := time.Now()
	return w.accessor.RecordDownloadResult(ctx, d.ID, &now, nil)
}

// decodeBody byte-sniffs and transcodes to UTF-8, the "detect charset"
// step spec §4.4 requires before a document can be trusted downstream.
func decodeBody(body []byte, contentType string) ([]byte, string, error) {
	enc, _, certain := charset.DetermineEncoding(body, contentType)
	// With no BOM or declared charset, a body that isn't valid UTF-8 only
	// gets DetermineEncoding's windows-1252 guess: treat it as undetectable.
	if !certain && !utf8.Valid(body) {
		return nil, "", errors.New("undetectable charset")
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, "", fmt.Errorf("transcode body: %w", err)
	}
	return out, "", nil
}

func (w *Worker) classifyTransportError(ctx context.Context, d *types.Document, err error) error {
	var tlsErr *tls.CertificateVerificationError
	var urlErr *url.Error
	switch {
	case errors.As(err, &tlsErr):
		return w.recordError(ctx, d, types.DownloadErrorTLS)
	case errors.As(err, &urlErr) && urlErr.Timeout():
		return w.recordError(ctx, d, types.DownloadErrorCode(408))
	default:
		return w.recordError(ctx, d, types.DownloadErrorConnectionRefused)
	}
}

func (w *Worker) recordError(ctx context.Context, d *types.Document, code types.DownloadErrorCode) error {
	if err := w.accessor.RecordDownloadResult(ctx, d.ID, nil, &code); err != nil {
		return fmt.Errorf("record download error for %s: %w", d.ID, err)
	}
	return fmt.Errorf("download error %d for document %s", code, d.ID)
}
