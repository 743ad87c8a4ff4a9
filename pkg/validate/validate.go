// Package validate implements the Validate worker (spec §4.5): schema
// validation followed by full validation, gated by the safety window
// and black-flag checks the Safety Controller maintains. Missing source
// blobs rewind a document to Download/Clean for reprocessing.
package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/pipelineerr"
	"github.com/iati-pipeline/core/pkg/safety"
	"github.com/iati-pipeline/core/pkg/store"
	"github.com/iati-pipeline/core/pkg/validation"
	"github.com/iati-pipeline/core/pkg/workerpool"
)

type Worker struct {
	accessor     store.Accessor
	objectStore  objectstore.Accessor
	validation   *validation.Client
	safety       *safety.Controller
	safetyPeriod time.Duration
	parallelism  int
}

func NewWorker(accessor store.Accessor, os objectstore.Accessor, validationClient *validation.Client, safetyController *safety.Controller, safetyPeriod time.Duration, parallelism int) *Worker {
	return &Worker{
		accessor:     accessor,
		objectStore:  os,
		validation:   validationClient,
		safety:       safetyController,
		safetyPeriod: safetyPeriod,
		parallelism:  parallelism,
	}
}

// Pass runs the Safety Controller, resets orphaned claims, and
// validates the claimable batch across parallelism worker stripes.
func (w *Worker) Pass(ctx context.Context, limit int) error {
	if w.safety != nil {
		if err := w.safety.Run(ctx); err != nil {
			return fmt.Errorf("safety controller pass: %w", err)
		}
	}

	if _, err := w.accessor.ResetUnfinishedValidation(ctx); err != nil {
		return fmt.Errorf("reset unfinished validations: %w", err)
	}

	docs, err := w.accessor.GetUnvalidated(ctx, limit)
	if err != nil {
		return fmt.Errorf("list unvalidated documents: %w", err)
	}

	workerpool.Run(docs, w.parallelism, func(d *types.Document) error {
		return w.validateOne(ctx, d)
	})
	return nil
}

func (w *Worker) validateOne(ctx context.Context, d *types.Document) error {
	publisher, err := w.accessor.GetPublisher(ctx, d.Publisher)
	if err != nil {
		return fmt.Errorf("load publisher %s: %w", d.Publisher, err)
	}

	if w.skip(d, publisher) {
		return nil
	}

	body, err := w.objectStore.DownloadBlob(ctx, w.objectStore.SourceContainer(), d.Hash+".xml")
	if err != nil {
		if errors.Is(err, objectstore.ErrBlobNotFound) {
			return w.accessor.RecoverMissingSourceBlob(ctx, d.ID)
		}
		return fmt.Errorf("download source blob for %s: %w", d.ID, err)
	}

	if d.FileSchemaValid == nil {
		if err := w.schemaPhase(ctx, d, body); err != nil {
			return err
		}
		if d.ValidationAPIError != nil {
			// Schema service returned a clean 4xx/5xx: skip the
			// document for this pass, per spec §4.5.
			return nil
		}
	}

	return w.fullPhase(ctx, d, body)
}

// skip implements spec §4.5's safety gate: a schema-invalid document is
// given a window to be republished before Validate touches it again,
// and black-flagged publishers suspend that retry entirely for the
// current hash.
func (w *Worker) skip(d *types.Document, p *types.Publisher) bool {
	if d.FileSchemaValid == nil || *d.FileSchemaValid {
		return false
	}
	if p != nil && p.IsBlackFlagged() {
		return true
	}
	return d.Downloaded != nil && time.Since(*d.Downloaded) < w.safetyPeriod
}

func (w *Worker) schemaPhase(ctx context.Context, d *types.Document, body []byte) error {
	valid, apiStatus, err := w.validation.ValidateSchema(ctx, body)
	if err != nil {
		return pipelineerr.WithDocument(pipelineerr.KindTransientUpstream, d.ID, err)
	}
	if valid == nil && apiStatus == nil {
		// Unparseable response body: leave file_schema_valid null so
		// the next pass retries.
		return nil
	}
	if err := w.accessor.RecordSchemaValidationResult(ctx, d.ID, valid, apiStatus); err != nil {
		return fmt.Errorf("record schema validation for %s: %w", d.ID, err)
	}
	d.FileSchemaValid = valid
	d.ValidationAPIError = apiStatus
	return nil
}

func (w *Worker) fullPhase(ctx context.Context, d *types.Document, body []byte) error {
	fileSchemaValid := d.FileSchemaValid == nil || *d.FileSchemaValid
	report, _, err := w.validation.ValidateFull(ctx, body, fileSchemaValid)
	if err != nil && !pipelineerr.Is(err, pipelineerr.KindExpectedClient) {
		return pipelineerr.WithDocument(pipelineerr.KindTransientUpstream, d.ID, err)
	}
	if report == nil {
		// Any other non-2xx: skip the document for this pass.
		return nil
	}

	activityIndex := make([]types.ActivityValidity, len(report.ActivityIndex))
	for i, a := range report.ActivityIndex {
		activityIndex[i] = types.ActivityValidity{Index: a.Index, Valid: a.Valid}
	}

	vr := &types.ValidationReport{
		DocumentID:    d.ID,
		DocumentHash:  d.Hash,
		DocumentURL:   d.URL,
		Publisher:     d.Publisher,
		Valid:         report.Valid,
		FileType:      report.FileType,
		IATIVersion:   report.IATIVersion,
		Report:        report.Report,
		ActivityIndex: activityIndex,
	}
	if err := w.accessor.UpdateValidationState(ctx, vr); err != nil {
		return fmt.Errorf("update validation state for %s: %w", d.ID, err)
	}
	return nil
}
