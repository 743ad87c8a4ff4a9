// Package cleanup implements the cross-store invalidation protocol spec
// §4.11 describes: when Refresh finds a document stale (removed from
// BDS) or changed (hash differs), it must remove the now-untrustworthy
// Object Store blobs and, for stale documents only, the Search Index
// entries too — in the specific order the spec mandates so a half-state
// is never observable to a querier.
package cleanup

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/searchindex"
)

// Target names the document/hash pair a cleanup operates on.
type Target struct {
	DocumentID string
	Hash       string
}

// Cleaner runs the stale/changed cleanup protocol against the Object
// Store and Search Index.
type Cleaner struct {
	os          objectstore.Accessor
	si          searchindex.Accessor
	siCores     []string
	maxBlobDel  int
	logger      zerolog.Logger
}

func NewCleaner(os objectstore.Accessor, si searchindex.Accessor, siCores []string, maxBlobDelete int, logger zerolog.Logger) *Cleaner {
	return &Cleaner{os: os, si: si, siCores: siCores, maxBlobDel: maxBlobDelete, logger: logger}
}

// Stale removes a deleted document's footprint from every store: lake
// blobs, source/clean XML, and every SI core, in that order (spec §4.11:
// "lake -> source -> clean -> SI for stale").
func (c *Cleaner) Stale(ctx context.Context, t Target) error {
	if err := c.cleanLake(ctx, t); err != nil {
		return fmt.Errorf("clean lake for stale document %s: %w", t.DocumentID, err)
	}
	if err := c.cleanSourceAndClean(ctx, t); err != nil {
		return fmt.Errorf("clean source/clean for stale document %s: %w", t.DocumentID, err)
	}
	for _, core := range c.siCores {
		if err := c.si.DeleteByDocumentID(ctx, core, t.DocumentID); err != nil {
			return fmt.Errorf("delete SI docs for stale document %s on core %q: %w", t.DocumentID, core, err)
		}
	}
	return nil
}

// Changed removes the previous hash's OS footprint but deliberately
// leaves SI untouched — Solrize's delete-before-insert on the next pass
// is what keeps SI consistent for a changed (not removed) document
// (spec §4.11: "Do not remove SI docs").
func (c *Cleaner) Changed(ctx context.Context, t Target) error {
	if err := c.cleanSourceAndClean(ctx, t); err != nil {
		return fmt.Errorf("clean source/clean for changed document %s: %w", t.DocumentID, err)
	}
	return nil
}

func (c *Cleaner) cleanLake(ctx context.Context, t Target) error {
	keys, err := c.os.FindBlobsByTag(ctx, c.os.LakeContainer(), t.DocumentID)
	if err != nil {
		return fmt.Errorf("find lake blobs: %w", err)
	}
	return c.batchDelete(ctx, c.os.LakeContainer(), keys)
}

func (c *Cleaner) cleanSourceAndClean(ctx context.Context, t Target) error {
	for _, container := range []string{c.os.SourceContainer(), c.os.CleanContainer()} {
		key := t.Hash + ".xml"
		if err := c.os.DeleteBlob(ctx, container, key); err != nil {
			// A failed hash-keyed delete falls back to tag search by
			// document_id. DeleteBlob reports no error for an absent key,
			// so a missing blob does not trigger this search.
			keys, findErr := c.os.FindBlobsByTag(ctx, container, t.DocumentID)
			if findErr != nil {
				return fmt.Errorf("fallback tag search in %s: %w", container, findErr)
			}
			if err := c.batchDelete(ctx, container, keys); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Cleaner) batchDelete(ctx context.Context, container string, keys []string) error {
	for len(keys) > 0 {
		n := c.maxBlobDel
		if n <= 0 || n > len(keys) {
			n = len(keys)
		}
		if err := c.os.DeleteBlobs(ctx, container, keys[:n]); err != nil {
			return fmt.Errorf("delete batch from %s: %w", container, err)
		}
		keys = keys[n:]
	}
	return nil
}
