package store

import (
	"context"
	"sync"
	"time"

	"github.com/iati-pipeline/core/pkg/pipeline/types"
)

// Fake is an in-memory Accessor, the test double every stage package's
// tests run against instead of a live Postgres instance — the role
// cuemby-warren's tests gave a second BoltStore pointed at a tmpdir,
// except here the domain has no on-disk footprint to clean up at all.
type Fake struct {
	mu         sync.Mutex
	documents  map[string]*types.Document
	publishers map[string]*types.Publisher
	reports    map[int64]*types.ValidationReport
	nextID     int64
}

// NewFake constructs an empty Fake ready for direct field seeding by tests.
func NewFake() *Fake {
	return &Fake{
		documents:  make(map[string]*types.Document),
		publishers: make(map[string]*types.Publisher),
		reports:    make(map[int64]*types.ValidationReport),
	}
}

// Seed installs a document directly, bypassing InsertOrUpdateDocument's
// hash-change reset logic, for tests that want to start mid-pipeline.
func (f *Fake) Seed(d *types.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.documents[d.ID] = &cp
}

func (f *Fake) SeedPublisher(p *types.Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.publishers[p.OrgID] = &cp
}

func (f *Fake) Close() error { return nil }

func (f *Fake) UpsertPublisher(_ context.Context, p *types.Publisher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.publishers[p.OrgID]
	cp := *p
	if ok {
		cp.Created = existing.Created
		cp.BlackFlag = existing.BlackFlag
		cp.BlackFlagNotified = existing.BlackFlagNotified
	} else {
		cp.Created = time.Now()
	}
	cp.LastSeen = time.Now()
	f.publishers[p.OrgID] = &cp
	return nil
}

func (f *Fake) GetPublisher(_ context.Context, orgID string) (*types.Publisher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.publishers[orgID]
	if !ok {
		return nil, errNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *Fake) ListPublishers(_ context.Context) ([]*types.Publisher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Publisher, 0, len(f.publishers))
	for _, p := range f.publishers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (f *Fake) SetBlackFlag(_ context.Context, orgID string, flagged *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.publishers[orgID]
	if !ok {
		return errNotFound
	}
	p.BlackFlag = flagged
	if flagged == nil {
		p.BlackFlagNotified = false
	}
	return nil
}

func (f *Fake) MarkBlackFlagNotified(_ context.Context, orgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.publishers[orgID]
	if !ok {
		return errNotFound
	}
	p.BlackFlagNotified = true
	return nil
}

func (f *Fake) RemovePublishersNotSeenAfter(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, p := range f.publishers {
		if p.LastSeen.Before(cutoff) {
			delete(f.publishers, id)
			n++
		}
	}
	return n, nil
}

func (f *Fake) InsertOrUpdateDocument(_ context.Context, d *types.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.documents[d.ID]
	now := time.Now()
	if !ok {
		cp := *d
		cp.FirstSeen = now
		cp.LastSeen = now
		f.documents[d.ID] = &cp
		return nil
	}

	hashChanged := existing.Hash != d.Hash
	existing.Hash = d.Hash
	existing.URL = d.URL
	existing.BDSCacheURL = d.BDSCacheURL
	existing.Name = d.Name
	existing.Modified = d.Modified
	existing.LastSeen = now

	if hashChanged {
		existing.Downloaded = nil
		existing.DownloadError = nil
		existing.ValidationRequest = nil
		existing.ValidationAPIError = nil
		existing.FileSchemaValid = nil
		existing.ValidationID = nil
		existing.Clean = types.StageProgress{}
		existing.Flatten = types.StageProgress{}
		existing.FlattenedActivities = nil
		existing.Lakify = types.StageProgress{}
		existing.Solrize = types.StageProgress{}
	}
	return nil
}

func (f *Fake) RecordDownloadResult(_ context.Context, documentID string, downloaded *time.Time, code *types.DownloadErrorCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	d.Downloaded = downloaded
	d.DownloadError = code
	return nil
}

func (f *Fake) RecordSchemaValidationResult(_ context.Context, documentID string, valid *bool, apiError *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	d.FileSchemaValid = valid
	d.ValidationAPIError = apiError
	now := time.Now()
	d.ValidationRequest = &now
	return nil
}

func (f *Fake) RecoverMissingSourceBlob(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	d.Downloaded = nil
	d.Clean = types.StageProgress{}
	return nil
}

func (f *Fake) claimStage(documentID string, setStart func(*types.Document, time.Time)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	setStart(d, time.Now())
	return nil
}

func (f *Fake) ClaimClean(_ context.Context, documentID string) error {
	return f.claimStage(documentID, func(d *types.Document, t time.Time) { d.Clean.Start = &t })
}
func (f *Fake) ClaimFlatten(_ context.Context, documentID string) error {
	return f.claimStage(documentID, func(d *types.Document, t time.Time) { d.Flatten.Start = &t })
}
func (f *Fake) ClaimLakify(_ context.Context, documentID string) error {
	return f.claimStage(documentID, func(d *types.Document, t time.Time) { d.Lakify.Start = &t })
}
func (f *Fake) ClaimSolrize(_ context.Context, documentID string) error {
	return f.claimStage(documentID, func(d *types.Document, t time.Time) { d.Solrize.Start = &t })
}

func (f *Fake) RecordCleanResult(_ context.Context, documentID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	now := time.Now()
	d.Clean.End = &now
	d.Clean.Error = errMsg
	return nil
}

func (f *Fake) RecordFlattenResult(_ context.Context, documentID, errMsg string, activities []map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	now := time.Now()
	d.Flatten.End = &now
	d.Flatten.Error = errMsg
	if errMsg == "" {
		d.FlattenedActivities = activities
	}
	return nil
}

func (f *Fake) RecordLakifyResult(_ context.Context, documentID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	now := time.Now()
	d.Lakify.End = &now
	d.Lakify.Error = errMsg
	return nil
}

func (f *Fake) RecordSolrizeResult(_ context.Context, documentID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	now := time.Now()
	d.Solrize.End = &now
	d.Solrize.Error = errMsg
	if errMsg == "" {
		d.LastSolrizeEnd = &now
		d.SolrizeReindex = false
	}
	return nil
}

func (f *Fake) RecoverToClean(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	d.Lakify = types.StageProgress{}
	d.Clean = types.StageProgress{}
	return nil
}

func (f *Fake) RecoverToLakify(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[documentID]
	if !ok {
		return errNotFound
	}
	d.Lakify = types.StageProgress{}
	return nil
}

func (f *Fake) GetDocument(_ context.Context, id string) (*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.documents[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *Fake) filter(pred func(*types.Document) bool, limit int) []*types.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Document
	for _, d := range f.documents {
		if pred(d) {
			cp := *d
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (f *Fake) GetRefreshCandidates(_ context.Context, publisher string) ([]*types.Document, error) {
	return f.filter(func(d *types.Document) bool { return d.Publisher == publisher }, 0), nil
}

func (f *Fake) GetDownloadCandidates(_ context.Context, retryErrors bool) ([]*types.Document, error) {
	return f.filter(func(d *types.Document) bool {
		if d.Downloaded != nil || d.Hash == "" {
			return false
		}
		if d.DownloadError == nil {
			return true
		}
		return retryErrors && *d.DownloadError != types.DownloadErrorInvalidURLScheme
	}, 0), nil
}

func (f *Fake) GetUnvalidated(_ context.Context, limit int) ([]*types.Document, error) {
	return f.filter(func(d *types.Document) bool {
		return d.Hash != "" && d.Downloaded != nil &&
			(d.FileSchemaValid == nil || d.ValidationID == nil || d.RegenerateValidationReport)
	}, limit), nil
}

func (f *Fake) GetValidToCopy(_ context.Context, limit int) ([]*types.Document, error) {
	return f.filter(func(d *types.Document) bool {
		return d.FileSchemaValid != nil && *d.FileSchemaValid && d.ValidationID != nil &&
			d.Clean.Start == nil && d.Clean.End == nil
	}, limit), nil
}

func (f *Fake) GetInvalidToClean(_ context.Context, limit int) ([]*types.Document, error) {
	return f.filter(func(d *types.Document) bool {
		return d.FileSchemaValid != nil && !*d.FileSchemaValid && d.Clean.Start == nil && d.Clean.End == nil
	}, limit), nil
}

func (f *Fake) GetUnflattened(_ context.Context, limit int) ([]*types.Document, error) {
	return f.filter(func(d *types.Document) bool {
		return d.Clean.End != nil && d.Clean.Error == "" && d.Flatten.Start == nil && d.Flatten.End == nil
	}, limit), nil
}

func (f *Fake) GetUnlakified(_ context.Context, limit int) ([]*types.Document, error) {
	return f.filter(func(d *types.Document) bool {
		return d.Flatten.End != nil && d.Flatten.Error == "" && d.Lakify.Start == nil && d.Lakify.End == nil
	}, limit), nil
}

func (f *Fake) GetUnsolrized(_ context.Context, limit int) ([]*types.Document, error) {
	return f.filter(func(d *types.Document) bool {
		if d.Lakify.End == nil || d.Lakify.Error != "" {
			return false
		}
		return (d.Solrize.Start == nil && d.Solrize.End == nil) || d.SolrizeReindex
	}, limit), nil
}

func (f *Fake) GetFilesNotSeenAfter(_ context.Context, publisher string, cutoff time.Time) ([]*types.Document, error) {
	return f.filter(func(d *types.Document) bool {
		return d.Publisher == publisher && d.LastSeen.Before(cutoff)
	}, 0), nil
}

func (f *Fake) RemoveFilesNotSeenAfter(_ context.Context, publisher string, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, d := range f.documents {
		if d.Publisher == publisher && d.LastSeen.Before(cutoff) {
			delete(f.documents, id)
			n++
		}
	}
	return n, nil
}

func (f *Fake) resetUnfinished(pred func(*types.Document) bool, reset func(*types.Document)) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.documents {
		if pred(d) {
			reset(d)
			n++
		}
	}
	return n, nil
}

func (f *Fake) ResetUnfinishedDownload(_ context.Context) (int, error) {
	return f.resetUnfinished(
		func(d *types.Document) bool { return d.Hash != "" && d.Downloaded == nil && d.DownloadError == nil },
		func(d *types.Document) {},
	)
}

func (f *Fake) ResetUnfinishedValidation(_ context.Context) (int, error) {
	return f.resetUnfinished(
		func(d *types.Document) bool {
			return d.ValidationRequest != nil && d.FileSchemaValid == nil && d.ValidationAPIError == nil
		},
		func(d *types.Document) { d.ValidationRequest = nil },
	)
}

func (f *Fake) ResetUnfinishedClean(_ context.Context) (int, error) {
	return f.resetUnfinished(
		func(d *types.Document) bool { return d.Clean.InProgress() },
		func(d *types.Document) { d.Clean = types.StageProgress{} },
	)
}

func (f *Fake) ResetUnfinishedFlatten(_ context.Context) (int, error) {
	return f.resetUnfinished(
		func(d *types.Document) bool { return d.Flatten.InProgress() },
		func(d *types.Document) { d.Flatten = types.StageProgress{} },
	)
}

func (f *Fake) ResetUnfinishedLakify(_ context.Context) (int, error) {
	return f.resetUnfinished(
		func(d *types.Document) bool { return d.Lakify.InProgress() },
		func(d *types.Document) { d.Lakify = types.StageProgress{} },
	)
}

func (f *Fake) ResetUnfinishedSolrize(_ context.Context) (int, error) {
	return f.resetUnfinished(
		func(d *types.Document) bool { return d.Solrize.InProgress() },
		func(d *types.Document) { d.Solrize = types.StageProgress{} },
	)
}

func (f *Fake) UpdateValidationState(_ context.Context, report *types.ValidationReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	report.ID = f.nextID
	cp := *report
	f.reports[report.ID] = &cp

	d, ok := f.documents[report.DocumentID]
	if !ok {
		return errNotFound
	}
	d.ValidationID = &report.ID
	now := time.Now()
	d.ValidationRequest = &now
	valid := report.Valid
	d.FileSchemaValid = &valid
	d.RegenerateValidationReport = false
	return nil
}

func (f *Fake) GetValidationReport(_ context.Context, id int64) (*types.ValidationReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *Fake) QueueDepths(ctx context.Context) (QueueDepths, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var q QueueDepths
	for _, d := range f.documents {
		switch {
		case d.Hash != "" && d.Downloaded == nil && d.DownloadError == nil:
			q.ToDownload++
		case d.Downloaded != nil && d.FileSchemaValid == nil:
			q.ToValidate++
		case d.FileSchemaValid != nil && d.Clean.End == nil:
			q.ToClean++
		case d.Clean.End != nil && d.Flatten.End == nil:
			q.ToFlatten++
		case d.Flatten.End != nil && d.Lakify.End == nil:
			q.ToLakify++
		case d.Lakify.End != nil && (d.Solrize.End == nil || d.SolrizeReindex):
			q.ToSolrize++
		}
	}
	for _, p := range f.publishers {
		q.Publishers++
		if p.IsBlackFlagged() {
			q.BlackFlagged++
		}
	}
	return q, nil
}
