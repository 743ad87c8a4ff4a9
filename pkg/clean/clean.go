// Package clean implements the Clean worker (spec §4.7): two
// cooperating sub-workers, copy_valid and clean_invalid, that each turn
// a validated Document into a `clean/<hash>.xml` blob — either a
// verbatim server-side copy of the source, or a reduced tree keeping
// only the activities the full validation report marked valid.
package clean

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/store"
	"github.com/iati-pipeline/core/pkg/workerpool"
)

type Worker struct {
	accessor    store.Accessor
	objectStore objectstore.Accessor
	parallelism int
}

func NewWorker(accessor store.Accessor, os objectstore.Accessor, parallelism int) *Worker {
	return &Worker{accessor: accessor, objectStore: os, parallelism: parallelism}
}

// CopyValidPass server-side copies every schema-valid document's
// source blob straight to clean.
func (w *Worker) CopyValidPass(ctx context.Context, limit int) error {
	if _, err := w.accessor.ResetUnfinishedClean(ctx); err != nil {
		return fmt.Errorf("reset unfinished cleans: %w", err)
	}
	docs, err := w.accessor.GetValidToCopy(ctx, limit)
	if err != nil {
		return fmt.Errorf("list valid-to-copy documents: %w", err)
	}
	workerpool.Run(docs, w.parallelism, func(d *types.Document) error {
		return w.copyValidOne(ctx, d)
	})
	return nil
}

func (w *Worker) copyValidOne(ctx context.Context, d *types.Document) error {
	if d.ValidationID == nil {
		return nil
	}
	report, err := w.accessor.GetValidationReport(ctx, *d.ValidationID)
	if err != nil {
		return fmt.Errorf("load validation report for %s: %w", d.ID, err)
	}
	if report.FileType != "iati-activities" {
		return nil
	}

	if err := w.accessor.ClaimClean(ctx, d.ID); err != nil {
		return fmt.Errorf("claim clean for %s: %w", d.ID, err)
	}

	srcKey, dstKey := d.Hash+".xml", d.Hash+".xml"
	if err := w.objectStore.StartCopyFromURL(ctx, w.objectStore.SourceContainer(), srcKey, w.objectStore.CleanContainer(), dstKey); err != nil {
		return w.accessor.RecordCleanResult(ctx, d.ID, fmt.Sprintf("copy source to clean: %v", err))
	}
	if err := w.objectStore.SetBlobTags(ctx, w.objectStore.CleanContainer(), dstKey, map[string]string{"document_id": d.ID}); err != nil {
		return w.accessor.RecordCleanResult(ctx, d.ID, fmt.Sprintf("tag clean blob: %v", err))
	}
	return w.accessor.RecordCleanResult(ctx, d.ID, "")
}

// CleanInvalidPass reduces every file-invalid document's source XML
// down to the activities its validation report marked valid.
func (w *Worker) CleanInvalidPass(ctx context.Context, limit int) error {
	if _, err := w.accessor.ResetUnfinishedClean(ctx); err != nil {
		return fmt.Errorf("reset unfinished cleans: %w", err)
	}
	docs, err := w.accessor.GetInvalidToClean(ctx, limit)
	if err != nil {
		return fmt.Errorf("list invalid-to-clean documents: %w", err)
	}
	workerpool.Run(docs, w.parallelism, func(d *types.Document) error {
		return w.cleanInvalidOne(ctx, d)
	})
	return nil
}

func (w *Worker) cleanInvalidOne(ctx context.Context, d *types.Document) error {
	if d.ValidationID == nil {
		return nil
	}
	report, err := w.accessor.GetValidationReport(ctx, *d.ValidationID)
	if err != nil {
		return fmt.Errorf("load validation report for %s: %w", d.ID, err)
	}
	if report.FileType != "iati-activities" || !hasValidActivity(report.ActivityIndex) || majorVersion(report.IATIVersion) < 2 {
		return nil
	}

	if err := w.accessor.ClaimClean(ctx, d.ID); err != nil {
		return fmt.Errorf("claim clean for %s: %w", d.ID, err)
	}

	body, err := w.objectStore.DownloadBlob(ctx, w.objectStore.SourceContainer(), d.Hash+".xml")
	if err != nil {
		return w.accessor.RecordCleanResult(ctx, d.ID, fmt.Sprintf("download source blob: %v", err))
	}

	valid := make(map[int]bool, len(report.ActivityIndex))
	for _, a := range report.ActivityIndex {
		valid[a.Index] = a.Valid
	}

	reduced, kept, err := reduceToValidActivities(body, valid)
	if err != nil {
		return w.accessor.RecordCleanResult(ctx, d.ID, fmt.Sprintf("parse source xml: %v", err))
	}
	if kept == 0 {
		return w.accessor.RecordCleanResult(ctx, d.ID, "No valid activities")
	}

	if err := w.objectStore.UploadBlob(ctx, w.objectStore.CleanContainer(), d.Hash+".xml", reduced, d.ID); err != nil {
		return w.accessor.RecordCleanResult(ctx, d.ID, fmt.Sprintf("upload clean blob: %v", err))
	}
	return w.accessor.RecordCleanResult(ctx, d.ID, "")
}

func hasValidActivity(index []types.ActivityValidity) bool {
	for _, a := range index {
		if a.Valid {
			return true
		}
	}
	return false
}

func majorVersion(v string) int {
	parts := strings.SplitN(v, ".", 2)
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	return n
}

// reduceToValidActivities streams the source document, copying every
// root attribute verbatim and keeping only <iati-activity> children
// whose zero-based occurrence index is marked valid. An encoding named
// in the XML declaration is decoded through charsetReader; there is no
// charset detection, so a source that declares no encoding is read as
// UTF-8.
func reduceToValidActivities(body []byte, valid map[int]bool) ([]byte, int, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charsetReader

	var out bytes.Buffer
	enc := xml.NewEncoder(&out)

	kept := 0
	index := -1
	depth := 0

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				if err := enc.EncodeToken(t); err != nil {
					return nil, 0, err
				}
				continue
			}
			if depth == 2 && t.Name.Local == "iati-activity" {
				index++
				if !valid[index] {
					if err := dec.Skip(); err != nil {
						return nil, 0, err
					}
					depth--
					continue
				}
				kept++
			}
			if err := enc.EncodeToken(t); err != nil {
				return nil, 0, err
			}
		case xml.EndElement:
			if depth == 1 {
				if err := enc.EncodeToken(t); err != nil {
					return nil, 0, err
				}
				depth--
				continue
			}
			if err := enc.EncodeToken(t); err != nil {
				return nil, 0, err
			}
			depth--
		default:
			if err := enc.EncodeToken(tok); err != nil {
				return nil, 0, err
			}
		}
	}

	if err := enc.Flush(); err != nil {
		return nil, 0, err
	}
	return out.Bytes(), kept, nil
}

func charsetReader(cs string, input io.Reader) (io.Reader, error) {
	enc, _ := charset.Lookup(cs)
	if enc == nil {
		return input, nil
	}
	return enc.NewDecoder().Reader(input), nil
}
