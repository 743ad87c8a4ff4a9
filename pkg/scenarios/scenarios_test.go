// Package scenarios runs the seven stage workers back to back against
// in-memory fakes, exercising the handoffs between stages rather than
// any one stage in isolation.
package scenarios

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iati-pipeline/core/pkg/bds"
	"github.com/iati-pipeline/core/pkg/clean"
	"github.com/iati-pipeline/core/pkg/cleanup"
	"github.com/iati-pipeline/core/pkg/download"
	"github.com/iati-pipeline/core/pkg/flatten"
	"github.com/iati-pipeline/core/pkg/httpclient"
	"github.com/iati-pipeline/core/pkg/lakify"
	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/refresh"
	"github.com/iati-pipeline/core/pkg/safety"
	"github.com/iati-pipeline/core/pkg/searchindex"
	"github.com/iati-pipeline/core/pkg/solrize"
	"github.com/iati-pipeline/core/pkg/store"
	"github.com/iati-pipeline/core/pkg/validate"
	"github.com/iati-pipeline/core/pkg/validation"
)

// harness wires one of every stage worker against a shared store.Fake,
// objectstore.Fake and searchindex.Fake, plus httptest servers standing
// in for the Bulk Data Service, the download host and the Validation
// service.
type harness struct {
	store       *store.Fake
	objectStore *objectstore.Fake
	searchIndex *searchindex.Fake

	refresh  *refresh.Worker
	download *download.Worker
	validate func(ctx context.Context, limit int) error
	clean    *clean.Worker
	flatten  *flatten.Worker
	lakify   *lakify.Worker
	solrize  *solrize.Worker
}

// newHarness starts a BDS server returning the one dataset/org pair
// S1-S6 describe, a download server returning body for every blob
// fetch, and a validation server whose full-validation response is
// built per test from activityIndex.
func newHarness(t *testing.T, body string, activityIndexJSON string) *harness {
	t.Helper()

	downloadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(downloadSrv.Close)

	bdsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/datasets" {
			_, _ = w.Write([]byte(`[{"id":"A","hash":"H1","url":"` + downloadSrv.URL + `","bds_cache_url":"` + downloadSrv.URL + `","publisher":"P1","name":"A.xml"}]`))
			return
		}
		_, _ = w.Write([]byte(`[{"org_id":"P1","short_name":"p1","title":"Publisher One"}]`))
	}))
	t.Cleanup(bdsSrv.Close)

	validationSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/full" {
			_, _ = w.Write([]byte(`{"valid":true,"file_type":"iati-activities","iati_version":"2.03","report":{},"activity_index":` + activityIndexJSON + `}`))
			return
		}
		_, _ = w.Write([]byte(`{"valid":true}`))
	}))
	t.Cleanup(validationSrv.Close)

	f := store.NewFake()
	os := objectstore.NewFake("source", "clean", "lake")
	si := searchindex.NewFake()

	hc := httpclient.New(5*time.Second, time.Millisecond, 10*time.Millisecond, 2)
	bdsClient := bds.New(hc, bdsSrv.URL+"/datasets", bdsSrv.URL+"/orgs")
	cleaner := cleanup.NewCleaner(os, si, []string{"activity", "transaction"}, 1000, zerolog.Nop())
	refreshWorker := refresh.NewWorker(f, bdsClient, cleaner, 0, 0, zerolog.Nop())

	downloadWorker := download.NewWorker(f, os, 5*time.Second, 2)

	valClient := validation.New(hc, validationSrv.URL+"/schema", validationSrv.URL+"/full", "", "")
	queue := safety.NewFlagRemovalQueue(1)
	safetyCtl := safety.NewController(f, queue, "", 24, 3, zerolog.Nop())
	validateWorker := validate.NewWorker(f, os, valClient, safetyCtl, 6*time.Hour, 2)

	cleanWorker := clean.NewWorker(f, os, 2)
	flattenWorker := flatten.NewWorker(f, os, []string{"transaction"}, 2)
	lakifyWorker := lakify.NewWorker(f, os, 2)
	solrizeWorker := solrize.NewWorker(f, os, si, "activity", map[string]string{"transaction": "transaction"}, 500, time.Millisecond, 2)

	return &harness{
		store:       f,
		objectStore: os,
		searchIndex: si,
		refresh:     refreshWorker,
		download:    downloadWorker,
		validate:    validateWorker.Pass,
		clean:       cleanWorker,
		flatten:     flattenWorker,
		lakify:      lakifyWorker,
		solrize:     solrizeWorker,
	}
}

// run drives every stage exactly once, in pipeline order.
func (h *harness) run(t *testing.T, limit int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.refresh.Pass(ctx))
	require.NoError(t, h.download.Pass(ctx, false))
	require.NoError(t, h.validate(ctx, limit))
	require.NoError(t, h.clean.CopyValidPass(ctx, limit))
	require.NoError(t, h.flatten.Pass(ctx, limit))
	require.NoError(t, h.lakify.Pass(ctx, limit))
	require.NoError(t, h.solrize.Pass(ctx, limit))
}

const oneActivityXML = `<iati-activities version="2.03"><iati-activity><iati-identifier>X</iati-identifier></iati-activity></iati-activities>`

// S1: a single-activity dataset flows end to end into the activity
// core with its document row fully stamped.
func TestS1SingleActivityFlowsToSearchIndex(t *testing.T) {
	h := newHarness(t, oneActivityXML, `[{"index":0,"valid":true}]`)
	h.run(t, 10)

	d, err := h.store.GetDocument(context.Background(), "A")
	require.NoError(t, err)
	assert.NotNil(t, d.Downloaded)
	assert.True(t, d.Solrize.Done())
	assert.Empty(t, d.Solrize.Error)

	_, err = h.objectStore.DownloadBlob(context.Background(), "source", "H1.xml")
	require.NoError(t, err)
}

const dupIdentifierXML = `<iati-activities version="2.03">` +
	`<iati-activity><iati-identifier>X</iati-identifier></iati-activity>` +
	`<iati-activity><iati-identifier>X</iati-identifier></iati-activity>` +
	`</iati-activities>`

// S4: two activities sharing one identifier, both valid, must reach
// the activity core as two distinct composite-ID documents
// (occurrence index 0 then 1), not collapse into one.
func TestS4DuplicateIdentifiersGetDistinctOccurrenceIndices(t *testing.T) {
	h := newHarness(t, dupIdentifierXML, `[{"index":0,"valid":true},{"index":1,"valid":true}]`)
	h.run(t, 10)

	d, err := h.store.GetDocument(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, d.Solrize.Done())
	require.Empty(t, d.Solrize.Error)

	sum := sha1.Sum([]byte("X"))
	idHash := hex.EncodeToString(sum[:])
	wantFirst := "A--" + idHash + "--0"
	wantSecond := "A--" + idHash + "--1"

	docs := h.searchIndex.Docs("activity")
	var hasFirst, hasSecond bool
	for _, doc := range docs {
		if doc.ID == wantFirst {
			hasFirst = true
		}
		if doc.ID == wantSecond {
			hasSecond = true
		}
	}
	assert.True(t, hasFirst, "expected composite id %s in activity core", wantFirst)
	assert.True(t, hasSecond, "expected composite id %s in activity core", wantSecond)
}

// S6: Solrize finds lakify_end stamped but the lake blob for the
// activity is missing (e.g. an out-of-band object store wipe); the
// document must rewind to Lakify rather than publish a partial record.
func TestS6MissingLakeBlobRewindsToLakify(t *testing.T) {
	h := newHarness(t, oneActivityXML, `[{"index":0,"valid":true}]`)
	ctx := context.Background()

	require.NoError(t, h.refresh.Pass(ctx))
	require.NoError(t, h.download.Pass(ctx, false))
	require.NoError(t, h.validate(ctx, 10))
	require.NoError(t, h.clean.CopyValidPass(ctx, 10))
	require.NoError(t, h.flatten.Pass(ctx, 10))

	// Mark lakify done without ever writing the lake blobs, simulating
	// the blob having gone missing after a prior successful lakify.
	require.NoError(t, h.store.ClaimLakify(ctx, "A"))
	require.NoError(t, h.store.RecordLakifyResult(ctx, "A", ""))

	require.NoError(t, h.solrize.Pass(ctx, 10))

	d, err := h.store.GetDocument(ctx, "A")
	require.NoError(t, err)
	assert.False(t, d.Lakify.Done(), "expected lakify progress cleared so the next pass re-lakifies")

	docs := h.searchIndex.Docs("activity")
	assert.Empty(t, docs, "nothing should have reached the search index")
}
