package validate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iati-pipeline/core/pkg/httpclient"
	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/safety"
	"github.com/iati-pipeline/core/pkg/store"
	"github.com/iati-pipeline/core/pkg/validation"
)

func newWorker(t *testing.T, schemaBody, fullBody string, fullStatus int) (*Worker, *store.Fake, *objectstore.Fake) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/full" {
			w.WriteHeader(fullStatus)
			_, _ = w.Write([]byte(fullBody))
			return
		}
		_, _ = w.Write([]byte(schemaBody))
	}))
	t.Cleanup(srv.Close)

	valClient := validation.New(httpclient.New(5*time.Second, time.Millisecond, 10*time.Millisecond, 2), srv.URL+"/schema", srv.URL+"/full", "", "")
	f := store.NewFake()
	os := objectstore.NewFake("source", "clean", "lake")
	queue := safety.NewFlagRemovalQueue(1)
	safetyCtl := safety.NewController(f, queue, "", 24, 3, zerolog.Nop())

	w := NewWorker(f, os, valClient, safetyCtl, 6*time.Hour, 2)
	return w, f, os
}

func TestPassRunsSchemaThenFullPhase(t *testing.T) {
	w, f, os := newWorker(t,
		`{"valid":true}`,
		`{"valid":true,"file_type":"iati-activities","iati_version":"2.03","report":{},"activity_index":[{"index":0,"valid":true}]}`,
		http.StatusOK,
	)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	now := time.Now().Add(-48 * time.Hour)
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1", Downloaded: &now})
	require.NoError(t, os.UploadBlob(context.Background(), "source", "H1.xml", []byte("<iati-activities/>"), "d1"))

	require.NoError(t, w.Pass(context.Background(), 10))

	d, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	require.NotNil(t, d.FileSchemaValid)
	assert.True(t, *d.FileSchemaValid)
	require.NotNil(t, d.ValidationID)
}

func TestPassSkipsWithinSafetyWindowAfterSchemaFailure(t *testing.T) {
	w, f, os := newWorker(t, `{"valid":false}`, `{}`, http.StatusOK)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	invalid := false
	recentRequest := time.Now().Add(-1 * time.Hour)
	downloaded := time.Now().Add(-1 * time.Hour)
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1", Downloaded: &downloaded, FileSchemaValid: &invalid, ValidationRequest: &recentRequest})
	require.NoError(t, os.UploadBlob(context.Background(), "source", "H1.xml", []byte("<iati-activities/>"), "d1"))

	require.NoError(t, w.Pass(context.Background(), 10))

	d, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Nil(t, d.ValidationID)
}

func TestPassRecoversMissingSourceBlob(t *testing.T) {
	w, f, _ := newWorker(t, `{"valid":true}`, `{}`, http.StatusOK)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	downloaded := time.Now()
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1", Downloaded: &downloaded})

	require.NoError(t, w.Pass(context.Background(), 10))

	d, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Nil(t, d.Downloaded)
}
