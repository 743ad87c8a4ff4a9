package searchindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeIDDifferentiatesOccurrences(t *testing.T) {
	assert.Equal(t, "A--deadbeef--0", CompositeID("A", "deadbeef", 0))
	assert.Equal(t, "A--deadbeef--1", CompositeID("A", "deadbeef", 1))
}

func TestLocationPointLatLonDropsOutOfRange(t *testing.T) {
	_, ok := LocationPointLatLon("200 45")
	assert.False(t, ok)

	s, ok := LocationPointLatLon("10.5 45.5")
	assert.True(t, ok)
	assert.Equal(t, "45.500000,10.500000", s)
}

func TestClassifyErrorMapsStatusAndTransport(t *testing.T) {
	assert.Equal(t, ErrorClassServer, ClassifyError(503, nil))
	assert.Equal(t, ErrorClassClient, ClassifyError(400, nil))
	assert.Equal(t, ErrorClassNone, ClassifyError(200, nil))
}

func TestFakeDeleteThenAddIsWholeDocument(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	require.NoError(t, f.AddDocs(ctx, "activity", []ActivityDoc{
		{ID: "A--H1--0", IATIActivitiesDocumentID: "A"},
		{ID: "A--H1--1", IATIActivitiesDocumentID: "A"},
	}))
	assert.Len(t, f.Docs("activity"), 2)

	require.NoError(t, f.DeleteByDocumentID(ctx, "activity", "A"))
	assert.Len(t, f.Docs("activity"), 0)
}
