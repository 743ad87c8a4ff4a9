package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadThenDownloadBlobRoundTrips(t *testing.T) {
	ctx := context.Background()
	f := NewFake("source", "clean", "lake")

	require.NoError(t, f.UploadBlob(ctx, "source", "doc-1/H1.xml", []byte("<iati/>"), "doc-1"))

	body, err := f.DownloadBlob(ctx, "source", "doc-1/H1.xml")
	require.NoError(t, err)
	assert.Equal(t, "<iati/>", string(body))
}

func TestDownloadMissingBlobReturnsNotFound(t *testing.T) {
	f := NewFake("source", "clean", "lake")
	_, err := f.DownloadBlob(context.Background(), "source", "missing")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFindBlobsByTagMatchesDocumentID(t *testing.T) {
	ctx := context.Background()
	f := NewFake("source", "clean", "lake")
	require.NoError(t, f.UploadBlob(ctx, "lake", "doc-1/H1.xml", []byte("x"), "doc-1"))
	require.NoError(t, f.UploadBlob(ctx, "lake", "doc-2/H2.xml", []byte("y"), "doc-2"))

	keys, err := f.FindBlobsByTag(ctx, "lake", "doc-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-1/H1.xml"}, keys)
}

func TestStartCopyFromURLCopiesBlobAcrossContainers(t *testing.T) {
	ctx := context.Background()
	f := NewFake("source", "clean", "lake")
	require.NoError(t, f.UploadBlob(ctx, "source", "doc-1/H1.xml", []byte("<iati/>"), "doc-1"))

	require.NoError(t, f.StartCopyFromURL(ctx, "source", "doc-1/H1.xml", "clean", "doc-1/H1.xml"))

	body, err := f.DownloadBlob(ctx, "clean", "doc-1/H1.xml")
	require.NoError(t, err)
	assert.Equal(t, "<iati/>", string(body))
}
