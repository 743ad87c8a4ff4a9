package solrize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/searchindex"
	"github.com/iati-pipeline/core/pkg/store"
)

func TestPassDeletesThenPublishesActivityAndExplodeCores(t *testing.T) {
	f := store.NewFake()
	os := objectstore.NewFake("source", "clean", "lake")
	si := searchindex.NewFake()
	w := NewWorker(f, os, si, "activity", map[string]string{"transaction": "transaction"}, 100, 0, 2)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1"})

	activity := map[string]any{
		"iati_identifier": "ABC123",
		"@transaction": []any{
			map[string]any{"transaction_value": "100"},
		},
	}
	require.NoError(t, f.RecordFlattenResult(context.Background(), "d1", "", []map[string]any{activity}))
	require.NoError(t, f.ClaimLakify(context.Background(), "d1"))
	require.NoError(t, f.RecordLakifyResult(context.Background(), "d1", ""))

	idHash := sha1Hex(cleanIdentifier("ABC123"))
	require.NoError(t, os.UploadBlob(context.Background(), "lake", "d1/"+idHash+".xml", []byte("<iati-activity/>"), "d1"))
	require.NoError(t, os.UploadBlob(context.Background(), "lake", "d1/"+idHash+".json", []byte(`{"iati-identifier":[{}]}`), "d1"))

	require.NoError(t, w.Pass(context.Background(), 10))

	activityDocs := si.Docs("activity")
	require.Len(t, activityDocs, 1)
	assert.Equal(t, "d1", activityDocs[0].IATIActivitiesDocumentID)
	assert.Equal(t, "<iati-activity/>", activityDocs[0].Fields["iati_xml"])
	assert.NotContains(t, activityDocs[0].Fields, "@transaction")

	transactionDocs := si.Docs("transaction")
	require.Len(t, transactionDocs, 1)
	assert.Equal(t, "100", transactionDocs[0].Fields["transaction_value"])
	assert.Equal(t, "H1", transactionDocs[0].Fields["iati_activities_document_hash"])

	got, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, got.Solrize.Done())
}

func TestPassSendsBackToLakifyWhenBlobMissing(t *testing.T) {
	f := store.NewFake()
	os := objectstore.NewFake("source", "clean", "lake")
	si := searchindex.NewFake()
	w := NewWorker(f, os, si, "activity", nil, 100, 0, 2)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1"})
	activity := map[string]any{"iati_identifier": "ABC123"}
	require.NoError(t, f.RecordFlattenResult(context.Background(), "d1", "", []map[string]any{activity}))
	require.NoError(t, f.ClaimLakify(context.Background(), "d1"))
	require.NoError(t, f.RecordLakifyResult(context.Background(), "d1", ""))

	require.NoError(t, w.Pass(context.Background(), 10))

	got, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.False(t, got.Lakify.Done())
	assert.Empty(t, si.Docs("activity"))
}

func TestPassRecordsErrorWhenNoFlattenedActivities(t *testing.T) {
	f := store.NewFake()
	os := objectstore.NewFake("source", "clean", "lake")
	si := searchindex.NewFake()
	w := NewWorker(f, os, si, "activity", nil, 100, 0, 2)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1"})
	require.NoError(t, f.ClaimLakify(context.Background(), "d1"))
	require.NoError(t, f.RecordLakifyResult(context.Background(), "d1", ""))

	require.NoError(t, w.Pass(context.Background(), 10))

	got, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, got.Solrize.Done())
	assert.NotEmpty(t, got.Solrize.Error)
}
