// Package refresh implements the Refresh worker (spec §4.3): reconciles
// the State Store's publisher and document rows against the Bulk Data
// Service's two indices, running the safety checks that protect
// downstream systems from a corrupted or partial upstream index, and
// invoking the cross-store cleanup protocol for changed documents and for
// the documents of publishers that disappeared from the index. A document
// dropped from the index while its publisher is still listed keeps its
// row, blobs and Search Index entries.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iati-pipeline/core/pkg/bds"
	"github.com/iati-pipeline/core/pkg/cleanup"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/pipelineerr"
	"github.com/iati-pipeline/core/pkg/store"
)

type Worker struct {
	accessor              store.Accessor
	bds                   *bds.Client
	cleaner               *cleanup.Cleaner
	publisherSafetyPct    int
	documentSafetyPct     int
	logger                zerolog.Logger
}

func NewWorker(accessor store.Accessor, bdsClient *bds.Client, cleaner *cleanup.Cleaner, publisherSafetyPct, documentSafetyPct int, logger zerolog.Logger) *Worker {
	return &Worker{
		accessor:           accessor,
		bds:                bdsClient,
		cleaner:            cleaner,
		publisherSafetyPct: publisherSafetyPct,
		documentSafetyPct:  documentSafetyPct,
		logger:             logger,
	}
}

// Pass executes one Refresh pass per spec §4.3's numbered algorithm.
func (w *Worker) Pass(ctx context.Context) error {
	passStart := time.Now()

	datasets, err := w.bds.FetchDatasetIndex(ctx)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindTransientUpstream, fmt.Errorf("fetch dataset index: %w", err))
	}
	reportingOrgs, err := w.bds.FetchReportingOrgIndex(ctx)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindTransientUpstream, fmt.Errorf("fetch reporting-org index: %w", err))
	}

	existingPublishers, err := w.accessor.ListPublishers(ctx)
	if err != nil {
		return pipelineerr.New(pipelineerr.KindIntegrityViolation, fmt.Errorf("list existing publishers: %w", err))
	}
	if err := w.safetyCheck("publishers", len(existingPublishers), len(reportingOrgs)); err != nil {
		return err
	}

	existingDatasetCount := 0
	for _, p := range existingPublishers {
		existingDatasetCount += p.DatasetCount
	}
	if err := w.safetyCheck("documents", existingDatasetCount, len(datasets)); err != nil {
		return err
	}

	datasetCounts := make(map[string]int, len(reportingOrgs))
	for _, ds := range datasets {
		datasetCounts[ds.Publisher]++
	}

	for _, org := range reportingOrgs {
		p := &types.Publisher{
			OrgID:          org.OrgID,
			ShortName:      org.ShortName,
			Title:          org.Title,
			IATIIdentifier: org.IATIIdentifier,
			DatasetCount:   datasetCounts[org.OrgID],
		}
		if err := w.accessor.UpsertPublisher(ctx, p); err != nil {
			w.logger.Error().Str("publisher_id", org.OrgID).Err(err).Msg("failed to upsert publisher")
		}
	}

	// Clean up documents belonging to publishers that disappeared this pass.
	listed := make(map[string]bool, len(reportingOrgs))
	for _, org := range reportingOrgs {
		listed[org.OrgID] = true
	}
	for _, existing := range existingPublishers {
		if listed[existing.OrgID] {
			continue
		}
		stale, err := w.accessor.GetFilesNotSeenAfter(ctx, existing.OrgID, passStart)
		if err != nil {
			w.logger.Error().Str("publisher_id", existing.OrgID).Err(err).Msg("failed to list documents of disappeared publisher")
			continue
		}
		for _, d := range stale {
			if err := w.cleaner.Stale(ctx, cleanup.Target{DocumentID: d.ID, Hash: d.Hash}); err != nil {
				w.logger.Error().Str("document_id", d.ID).Err(err).Msg("stale cleanup failed")
			}
		}
	}
	if _, err := w.accessor.RemovePublishersNotSeenAfter(ctx, passStart); err != nil {
		w.logger.Error().Err(err).Msg("failed to remove disappeared publishers")
	}

	var changed []cleanup.Target
	for _, ds := range datasets {
		existing, err := w.accessor.GetDocument(ctx, ds.ID)
		hashChanged := err == nil && existing != nil && existing.Hash != ds.Hash
		if hashChanged {
			changed = append(changed, cleanup.Target{DocumentID: ds.ID, Hash: existing.Hash})
		}

		var bdsCacheURL *string
		if ds.BDSCacheURL != "" {
			bdsCacheURL = &ds.BDSCacheURL
		}
		doc := &types.Document{
			ID:          ds.ID,
			Hash:        ds.Hash,
			URL:         ds.URL,
			BDSCacheURL: bdsCacheURL,
			Publisher:   ds.Publisher,
			Name:        ds.Name,
		}
		if err := w.accessor.InsertOrUpdateDocument(ctx, doc); err != nil {
			w.logger.Error().Str("document_id", ds.ID).Err(err).Msg("failed to upsert document")
		}
	}

	for _, t := range changed {
		if err := w.cleaner.Changed(ctx, t); err != nil {
			w.logger.Error().Str("document_id", t.DocumentID).Err(err).Msg("changed-document cleanup failed")
		}
	}

	return nil
}

func (w *Worker) safetyCheck(kind string, currentCount, newCount int) error {
	if currentCount == 0 {
		return nil
	}
	pct := w.publisherSafetyPct
	if kind == "documents" {
		pct = w.documentSafetyPct
	}
	threshold := currentCount * pct / 100
	if newCount < threshold {
		return pipelineerr.New(pipelineerr.KindHardStop, fmt.Errorf(
			"%s safety check failed: BDS reported %d, expected at least %d (%d%% of %d)",
			kind, newCount, threshold, pct, currentCount))
	}
	return nil
}
