// Package store defines the narrow transactional interface every stage
// package reads and writes through, and the Postgres-backed implementation
// behind it (spec §4.1, §3). Modeled after cuemby-warren's storage.Store /
// storage.BoltStore split: one interface, one concrete backend, so stage
// packages test against an in-memory Fake instead of a live database.
package store

import (
	"context"
	"time"

	"github.com/iati-pipeline/core/pkg/pipeline/types"
)

// QueueDepths is the snapshot pkg/metrics.Collector polls each tick.
type QueueDepths struct {
	ToDownload   int
	ToValidate   int
	ToClean      int
	ToFlatten    int
	ToLakify     int
	ToSolrize    int
	Publishers   int
	BlackFlagged int
}

// Accessor is the transactional surface every stage package depends on.
// Stage packages take an Accessor, never a *DB, so tests can substitute Fake.
type Accessor interface {
	// Publishers
	UpsertPublisher(ctx context.Context, p *types.Publisher) error
	GetPublisher(ctx context.Context, orgID string) (*types.Publisher, error)
	ListPublishers(ctx context.Context) ([]*types.Publisher, error)
	SetBlackFlag(ctx context.Context, orgID string, flagged *time.Time) error
	MarkBlackFlagNotified(ctx context.Context, orgID string) error
	RemovePublishersNotSeenAfter(ctx context.Context, cutoff time.Time) (int, error)

	// Documents: claim-and-process surfaces for each stage.
	InsertOrUpdateDocument(ctx context.Context, d *types.Document) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	GetRefreshCandidates(ctx context.Context, publisher string) ([]*types.Document, error)
	GetDownloadCandidates(ctx context.Context, retryErrors bool) ([]*types.Document, error)
	GetUnvalidated(ctx context.Context, limit int) ([]*types.Document, error)
	GetValidToCopy(ctx context.Context, limit int) ([]*types.Document, error)
	GetInvalidToClean(ctx context.Context, limit int) ([]*types.Document, error)
	GetUnflattened(ctx context.Context, limit int) ([]*types.Document, error)
	GetUnlakified(ctx context.Context, limit int) ([]*types.Document, error)
	GetUnsolrized(ctx context.Context, limit int) ([]*types.Document, error)
	GetFilesNotSeenAfter(ctx context.Context, publisher string, cutoff time.Time) ([]*types.Document, error)
	RemoveFilesNotSeenAfter(ctx context.Context, publisher string, cutoff time.Time) (int, error)

	// RecordDownloadResult persists Download's outcome for one document:
	// either downloaded is set and code is nil, or the reverse. Separate
	// from InsertOrUpdateDocument, which only upserts Refresh's
	// BDS-index fields and must not be used to persist stage progress.
	RecordDownloadResult(ctx context.Context, documentID string, downloaded *time.Time, code *types.DownloadErrorCode) error

	// RecordSchemaValidationResult persists the schema phase's outcome:
	// either valid is set and apiError is nil, or the reverse (spec §4.5).
	RecordSchemaValidationResult(ctx context.Context, documentID string, valid *bool, apiError *int) error
	// RecoverMissingSourceBlob undoes Download and Clean progress for a
	// document whose source blob vanished from the Object Store, so the
	// pipeline re-downloads and re-cleans it (spec §4.5).
	RecoverMissingSourceBlob(ctx context.Context, documentID string) error

	// Stage claim/commit pairs: Claim* sets <stage>_start at the moment
	// a worker picks a document up; Record*Result sets <stage>_end and,
	// on failure, <stage>_error (empty string means success).
	ClaimClean(ctx context.Context, documentID string) error
	RecordCleanResult(ctx context.Context, documentID, errMsg string) error
	ClaimFlatten(ctx context.Context, documentID string) error
	RecordFlattenResult(ctx context.Context, documentID, errMsg string, activities []map[string]any) error
	ClaimLakify(ctx context.Context, documentID string) error
	RecordLakifyResult(ctx context.Context, documentID, errMsg string) error
	ClaimSolrize(ctx context.Context, documentID string) error
	RecordSolrizeResult(ctx context.Context, documentID, errMsg string) error

	// RecoverToClean undoes Lakify and Clean progress ("send back to
	// Clean"), used when Lakify can't trust what Clean produced.
	RecoverToClean(ctx context.Context, documentID string) error
	// RecoverToLakify undoes only Lakify progress ("send back to
	// Lakify"), used when Solrize can't read a lake blob.
	RecoverToLakify(ctx context.Context, documentID string) error

	// Stage claim resets, called by each stage worker at the start of its
	// pass to recover claims left by a crashed worker.
	ResetUnfinishedDownload(ctx context.Context) (int, error)
	ResetUnfinishedValidation(ctx context.Context) (int, error)
	ResetUnfinishedClean(ctx context.Context) (int, error)
	ResetUnfinishedFlatten(ctx context.Context) (int, error)
	ResetUnfinishedLakify(ctx context.Context) (int, error)
	ResetUnfinishedSolrize(ctx context.Context) (int, error)

	// Validation reports
	UpdateValidationState(ctx context.Context, report *types.ValidationReport) error
	GetValidationReport(ctx context.Context, id int64) (*types.ValidationReport, error)

	QueueDepths(ctx context.Context) (QueueDepths, error)

	Close() error
}
