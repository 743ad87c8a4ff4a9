package cleanup

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/searchindex"
)

func TestStaleRemovesLakeSourceCleanAndSI(t *testing.T) {
	ctx := context.Background()
	os := objectstore.NewFake("source", "clean", "lake")
	si := searchindex.NewFake()

	require.NoError(t, os.UploadBlob(ctx, "lake", "doc-1/abc.xml", []byte("x"), "doc-1"))
	require.NoError(t, os.UploadBlob(ctx, "source", "H1.xml", []byte("x"), "doc-1"))
	require.NoError(t, os.UploadBlob(ctx, "clean", "H1.xml", []byte("x"), "doc-1"))
	require.NoError(t, si.AddDocs(ctx, "activity", []searchindex.ActivityDoc{{ID: "doc-1--abc--0", IATIActivitiesDocumentID: "doc-1"}}))

	cleaner := NewCleaner(os, si, []string{"activity"}, 1000, zerolog.Nop())
	require.NoError(t, cleaner.Stale(ctx, Target{DocumentID: "doc-1", Hash: "H1"}))

	_, err := os.DownloadBlob(ctx, "source", "H1.xml")
	assert.ErrorIs(t, err, objectstore.ErrBlobNotFound)
	assert.Empty(t, si.Docs("activity"))
}

func TestChangedLeavesSIUntouched(t *testing.T) {
	ctx := context.Background()
	os := objectstore.NewFake("source", "clean", "lake")
	si := searchindex.NewFake()

	require.NoError(t, os.UploadBlob(ctx, "source", "H1.xml", []byte("x"), "doc-1"))
	require.NoError(t, si.AddDocs(ctx, "activity", []searchindex.ActivityDoc{{ID: "doc-1--abc--0", IATIActivitiesDocumentID: "doc-1"}}))

	cleaner := NewCleaner(os, si, []string{"activity"}, 1000, zerolog.Nop())
	require.NoError(t, cleaner.Changed(ctx, Target{DocumentID: "doc-1", Hash: "H1"}))

	assert.Len(t, si.Docs("activity"), 1)
}
