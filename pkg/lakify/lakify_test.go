package lakify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iati-pipeline/core/pkg/objectstore"
	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/store"
)

const cleanXML = `<iati-activities version="2.03"><iati-activity><iati-identifier>
  ABC 123
</iati-identifier><narrative></narrative><!--a note--></iati-activity></iati-activities>`

func TestExplodeActivitiesProducesExpectedIDHashAndJSON(t *testing.T) {
	activities, err := ExplodeActivities([]byte(cleanXML))
	require.NoError(t, err)
	require.Len(t, activities, 1)

	sum := sha1.Sum([]byte("ABC123"))
	wantHash := hex.EncodeToString(sum[:])
	assert.Equal(t, wantHash, activities[0].IDHash)

	var nest map[string]any
	require.NoError(t, json.Unmarshal(activities[0].JSON, &nest))
	ids, ok := nest["iati-identifier"].([]any)
	require.True(t, ok)
	require.Len(t, ids, 1)
	narratives, ok := nest["narrative"].([]any)
	require.True(t, ok)
	narrative := narratives[0].(map[string]any)
	assert.Equal(t, "", narrative["text()"])
}

func TestPassLakifiesAndTagsBlobs(t *testing.T) {
	f := store.NewFake()
	os := objectstore.NewFake("source", "clean", "lake")
	w := NewWorker(f, os, 2)

	f.SeedPublisher(&types.Publisher{OrgID: "org-1"})
	f.Seed(&types.Document{ID: "d1", Hash: "H1", Publisher: "org-1"})

	require.NoError(t, f.RecordFlattenResult(context.Background(), "d1", "", nil))
	require.NoError(t, os.UploadBlob(context.Background(), "clean", "H1.xml", []byte(cleanXML), "d1"))

	require.NoError(t, w.Pass(context.Background(), 10))

	sum := sha1.Sum([]byte("ABC123"))
	idHash := hex.EncodeToString(sum[:])
	body, err := os.DownloadBlob(context.Background(), "lake", "d1/"+idHash+".xml")
	require.NoError(t, err)
	assert.Contains(t, string(body), "iati-activity")

	got, err := f.GetDocument(context.Background(), "d1")
	require.NoError(t, err)
	assert.True(t, got.Lakify.Done())
}
