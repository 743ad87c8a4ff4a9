package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/store"
)

func TestPassDownloadsAndMarksSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		_, _ = w.Write([]byte(`<iati-activities></iati-activities>`))
	}))
	defer srv.Close()

	f := store.NewFake()
	cacheURL := srv.URL
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1", BDSCacheURL: &cacheURL})

	os := objectstore.NewFake("source", "clean", "lake")
	w := NewWorker(f, os, 5*time.Second, 2)

	require.NoError(t, w.Pass(context.Background(), false))

	d, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	require.NotNil(t, d.Downloaded)
	assert.Nil(t, d.DownloadError)

	body, err := os.DownloadBlob(context.Background(), "source", "H1.xml")
	require.NoError(t, err)
	assert.Contains(t, string(body), "iati-activities")
}

func TestPassMarksMissingCacheURL(t *testing.T) {
	f := store.NewFake()
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1"})

	w := NewWorker(f, objectstore.NewFake("source", "clean", "lake"), 5*time.Second, 2)
	require.NoError(t, w.Pass(context.Background(), false))

	d, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	require.NotNil(t, d.DownloadError)
	assert.Equal(t, types.DownloadErrorNoCacheURL, *d.DownloadError)
}
