package refresh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iati-pipeline/core/pkg/bds"
	"github.com/iati-pipeline/core/pkg/cleanup"
	"github.com/iati-pipeline/core/pkg/httpclient"
	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/searchindex"
	"github.com/iati-pipeline/core/pkg/store"
)

func testServer(t *testing.T, datasets, orgs string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/datasets" {
			_, _ = w.Write([]byte(datasets))
			return
		}
		_, _ = w.Write([]byte(orgs))
	}))
}

func newWorker(t *testing.T, accessor store.Accessor, datasetsBody, orgsBody string) *Worker {
	t.Helper()
	srv := testServer(t, datasetsBody, orgsBody)
	t.Cleanup(srv.Close)

	bdsClient := bds.New(httpclient.New(5*time.Second, time.Millisecond, 5*time.Millisecond, 2), srv.URL+"/datasets", srv.URL+"/orgs")
	cleaner := cleanup.NewCleaner(objectstore.NewFake("source", "clean", "lake"), searchindex.NewFake(), []string{"activity"}, 1000, zerolog.Nop())
	return NewWorker(accessor, bdsClient, cleaner, 50, 50, zerolog.Nop())
}

func TestPassUpsertsPublishersAndDocuments(t *testing.T) {
	f := store.NewFake()
	w := newWorker(t, f,
		`[{"id":"d1","hash":"H1","url":"http://x","publisher":"org-1","name":"n.xml"}]`,
		`[{"org_id":"org-1","short_name":"org1","title":"Org One"}]`,
	)

	require.NoError(t, w.Pass(context.Background()))

	p, err := f.GetPublisher(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.DatasetCount)

	d, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "H1", d.Hash)
}

func TestPassAbortsOnPublisherSafetyCheckFailure(t *testing.T) {
	f := store.NewFake()
	for i := 0; i < 10; i++ {
		require.NoError(t, f.UpsertPublisher(context.Background(), &types.Publisher{OrgID: string(rune('a' + i))}))
	}

	w := newWorker(t, f, `[]`, `[{"org_id":"org-1","short_name":"o","title":"O"}]`)
	err := w.Pass(context.Background())
	assert.Error(t, err)
}
