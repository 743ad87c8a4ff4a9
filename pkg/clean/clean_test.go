package clean

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/store"
)

func TestCopyValidPassCopiesSourceToClean(t *testing.T) {
	f := store.NewFake()
	os := objectstore.NewFake("source", "clean", "lake")
	w := NewWorker(f, os, 2)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1"})

	require.NoError(t, os.UploadBlob(context.Background(), "source", "H1.xml", []byte("<iati-activities/>"), "d1"))
	require.NoError(t, f.UpdateValidationState(context.Background(), &types.ValidationReport{
		DocumentID: "d1", DocumentHash: "H1", Publisher: "org-1", Valid: true, FileType: "iati-activities", IATIVersion: "2.03",
	}))

	require.NoError(t, w.CopyValidPass(context.Background(), 10))

	body, err := os.DownloadBlob(context.Background(), "clean", "H1.xml")
	require.NoError(t, err)
	assert.Contains(t, string(body), "iati-activities")

	got, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, got.Clean.Done())
}

func TestCleanInvalidPassKeepsOnlyValidActivities(t *testing.T) {
	f := store.NewFake()
	os := objectstore.NewFake("source", "clean", "lake")
	w := NewWorker(f, os, 2)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1"})

	xmlBody := `<iati-activities version="2.03"><iati-activity><iati-identifier>A</iati-identifier></iati-activity><iati-activity><iati-identifier>B</iati-identifier></iati-activity></iati-activities>`
	require.NoError(t, os.UploadBlob(context.Background(), "source", "H1.xml", []byte(xmlBody), "d1"))

	require.NoError(t, f.UpdateValidationState(context.Background(), &types.ValidationReport{
		DocumentID: "d1", DocumentHash: "H1", Publisher: "org-1", Valid: false, FileType: "iati-activities", IATIVersion: "2.03",
		ActivityIndex: []types.ActivityValidity{{Index: 0, Valid: true}, {Index: 1, Valid: false}},
	}))

	require.NoError(t, w.CleanInvalidPass(context.Background(), 10))

	body, err := os.DownloadBlob(context.Background(), "clean", "H1.xml")
	require.NoError(t, err)
	assert.Contains(t, string(body), ">A<")
	assert.NotContains(t, string(body), ">B<")

	got, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, got.Clean.Done())
}

func TestCleanInvalidPassRecordsErrorWhenZeroKept(t *testing.T) {
	f := store.NewFake()
	os := objectstore.NewFake("source", "clean", "lake")
	w := NewWorker(f, os, 2)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1"})

	xmlBody := `<iati-activities version="2.03"><iati-activity><iati-identifier>A</iati-identifier></iati-activity></iati-activities>`
	require.NoError(t, os.UploadBlob(context.Background(), "source", "H1.xml", []byte(xmlBody), "d1"))

	require.NoError(t, f.UpdateValidationState(context.Background(), &types.ValidationReport{
		DocumentID: "d1", DocumentHash: "H1", Publisher: "org-1", Valid: false, FileType: "iati-activities", IATIVersion: "2.03",
		ActivityIndex: []types.ActivityValidity{{Index: 0, Valid: false}},
	}))

	require.NoError(t, w.CleanInvalidPass(context.Background(), 10))

	got, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "No valid activities", got.Clean.Error)
}
