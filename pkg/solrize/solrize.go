// Package solrize implements the Solrize worker (spec §4.10): publish
// each Document's flattened activities into the Search Index under a
// strict delete-then-insert policy so a document's SI state is always
// atomic from a query perspective.
package solrize

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/searchindex"
	"github.com/iati-pipeline/core/pkg/store"
	"github.com/iati-pipeline/core/pkg/workerpool"
)

type Worker struct {
	accessor     store.Accessor
	objectStore  objectstore.Accessor
	searchIndex  searchindex.Accessor
	activityCore string
	explodeCores map[string]string // explode element name -> core name
	maxBatch     int
	pingSleep    time.Duration
	parallelism  int
}

func NewWorker(accessor store.Accessor, os objectstore.Accessor, si searchindex.Accessor, activityCore string, explodeCores map[string]string, maxBatch int, pingSleep time.Duration, parallelism int) *Worker {
	return &Worker{
		accessor:     accessor,
		objectStore:  os,
		searchIndex:  si,
		activityCore: activityCore,
		explodeCores: explodeCores,
		maxBatch:     maxBatch,
		pingSleep:    pingSleep,
		parallelism:  parallelism,
	}
}

func (w *Worker) cores() []string {
	cores := []string{w.activityCore}
	for _, c := range w.explodeCores {
		cores = append(cores, c)
	}
	return cores
}

func (w *Worker) Pass(ctx context.Context, limit int) error {
	if _, err := w.accessor.ResetUnfinishedSolrize(ctx); err != nil {
		return fmt.Errorf("reset unfinished solrizes: %w", err)
	}
	docs, err := w.accessor.GetUnsolrized(ctx, limit)
	if err != nil {
		return fmt.Errorf("list unsolrized documents: %w", err)
	}
	workerpool.Run(docs, w.parallelism, func(d *types.Document) error {
		return w.solrizeOne(ctx, d)
	})
	return nil
}

func (w *Worker) solrizeOne(ctx context.Context, d *types.Document) error {
	if err := w.accessor.ClaimSolrize(ctx, d.ID); err != nil {
		return fmt.Errorf("claim solrize for %s: %w", d.ID, err)
	}

	if len(d.FlattenedActivities) == 0 {
		return w.accessor.RecordSolrizeResult(ctx, d.ID, "Flattened activities not found")
	}

	if err := w.pingAllCores(ctx); err != nil {
		return w.accessor.RecordSolrizeResult(ctx, d.ID, err.Error())
	}

	if err := w.deleteExisting(ctx, d.ID); err != nil {
		return w.accessor.RecordSolrizeResult(ctx, d.ID, fmt.Sprintf("delete existing: %v", err))
	}

	if err := w.publishActivities(ctx, d); err != nil {
		// Second cleanup delete so a partial publish never leaves the
		// SI half-populated for this document.
		_ = w.deleteExisting(ctx, d.ID)
		if errors.Is(err, errNeedsLakify) {
			if recErr := w.accessor.RecoverToLakify(ctx, d.ID); recErr != nil {
				return fmt.Errorf("recover to lakify for %s: %w", d.ID, recErr)
			}
			return w.accessor.RecordSolrizeResult(ctx, d.ID, "activity blob not found, sent back to lakify")
		}
		return w.accessor.RecordSolrizeResult(ctx, d.ID, err.Error())
	}

	return w.accessor.RecordSolrizeResult(ctx, d.ID, "")
}

func (w *Worker) pingAllCores(ctx context.Context) error {
	for _, core := range w.cores() {
		if err := w.ping(ctx, core); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) ping(ctx context.Context, core string) error {
	err := w.searchIndex.Ping(ctx, core)
	if err == nil {
		return nil
	}
	time.Sleep(w.pingSleep)
	return w.searchIndex.Ping(ctx, core)
}

func (w *Worker) deleteExisting(ctx context.Context, documentID string) error {
	for _, core := range w.cores() {
		if err := w.searchIndex.DeleteByDocumentID(ctx, core, documentID); err != nil {
			return err
		}
	}
	return nil
}

var errNeedsLakify = errors.New("activity blob not found in lake")

func (w *Worker) publishActivities(ctx context.Context, d *types.Document) error {
	activityBatch := make([]searchindex.ActivityDoc, 0, w.maxBatch)
	exploded := map[string][]searchindex.ActivityDoc{}
	occurrence := map[string]int{}

	for _, activity := range d.FlattenedActivities {
		idHash := sha1Hex(cleanIdentifier(stringField(activity, "iati_identifier")))
		occurrenceIndex := occurrence[idHash]
		occurrence[idHash] = occurrenceIndex + 1

		xmlBody, err := w.objectStore.DownloadBlob(ctx, w.objectStore.LakeContainer(), fmt.Sprintf("%s/%s.xml", d.ID, idHash))
		if errors.Is(err, objectstore.ErrBlobNotFound) {
			return errNeedsLakify
		}
		if err != nil {
			return fmt.Errorf("download activity xml: %w", err)
		}
		jsonBody, err := w.objectStore.DownloadBlob(ctx, w.objectStore.LakeContainer(), fmt.Sprintf("%s/%s.json", d.ID, idHash))
		if errors.Is(err, objectstore.ErrBlobNotFound) {
			return errNeedsLakify
		}
		if err != nil {
			return fmt.Errorf("download activity json: %w", err)
		}

		fields := map[string]any{}
		for k, v := range activity {
			fields[k] = v
		}
		for key := range fields {
			if key[0] == '@' {
				delete(fields, key)
			}
		}
		fields["iati_xml"] = string(xmlBody)
		fields["iati_json"] = string(jsonBody)
		fields["iati_activities_document_hash"] = d.Hash
		if pos, ok := activity["location_point_pos"].(string); ok {
			if latlon, ok := searchindex.LocationPointLatLon(pos); ok {
				fields["location_point_latlon"] = latlon
			}
		}

		activityBatch = append(activityBatch, searchindex.ActivityDoc{
			ID:                       searchindex.CompositeID(d.ID, idHash, occurrenceIndex),
			IATIActivitiesDocumentID: d.ID,
			Fields:                   fields,
		})
		if len(activityBatch) >= w.maxBatch {
			if err := w.searchIndex.AddDocs(ctx, w.activityCore, activityBatch); err != nil {
				return fmt.Errorf("publish activity batch: %w", err)
			}
			activityBatch = activityBatch[:0]
		}

		for element, core := range w.explodeCores {
			children, ok := activity["@"+element].([]any)
			if !ok {
				continue
			}
			for childIdx, raw := range children {
				child, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				childFields := map[string]any{}
				for k, v := range fields {
					childFields[k] = v
				}
				for k, v := range child {
					childFields[k] = v
				}
				ser, err := json.Marshal(childFields)
				if err != nil {
					return fmt.Errorf("marshal explode child: %w", err)
				}
				childID := sha1Hex(fmt.Sprintf("%s%d", ser, childIdx))
				exploded[core] = append(exploded[core], searchindex.ActivityDoc{
					ID:                       childID,
					IATIActivitiesDocumentID: d.ID,
					Fields:                   childFields,
				})
			}
		}
	}

	if len(activityBatch) > 0 {
		if err := w.searchIndex.AddDocs(ctx, w.activityCore, activityBatch); err != nil {
			return fmt.Errorf("publish activity batch: %w", err)
		}
	}

	for core, docs := range exploded {
		for start := 0; start < len(docs); start += w.maxBatch {
			end := start + w.maxBatch
			if end > len(docs) {
				end = len(docs)
			}
			if err := w.searchIndex.AddDocs(ctx, core, docs[start:end]); err != nil {
				return fmt.Errorf("publish explode batch on core %q: %w", core, err)
			}
		}
	}
	return nil
}

func stringField(activity map[string]any, key string) string {
	s, _ := activity[key].(string)
	return s
}

var whitespace = regexp.MustCompile(`\s+`)

func cleanIdentifier(s string) string {
	return whitespace.ReplaceAllString(s, "")
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
