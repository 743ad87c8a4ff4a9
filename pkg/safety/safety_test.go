package safety

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iati-pipeline/core/pkg/pipeline/types"
	"github.com/iati-pipeline/core/pkg/store"
)

func TestRunFlagsPublisherOverThreshold(t *testing.T) {
	ctx := context.Background()
	var gotIdempotencyKey string
	notified := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdempotencyKey = r.Header.Get("X-Idempotency-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer notified.Close()

	f := store.NewFake()
	require.NoError(t, f.UpsertPublisher(ctx, &types.Publisher{OrgID: "org-1"}))

	invalid := false
	now := time.Now()
	for i := 0; i < 25; i++ {
		f.Seed(&types.Document{
			ID: fmt.Sprintf("doc-%d", i), Publisher: "org-1", Hash: "H",
			FileSchemaValid: &invalid, ValidationRequest: &now,
		})
	}

	c := NewController(f, NewFlagRemovalQueue(10), notified.URL, 2, 20, zerolog.Nop())
	require.NoError(t, c.Run(ctx))

	p, err := f.GetPublisher(ctx, "org-1")
	require.NoError(t, err)
	assert.NotNil(t, p.BlackFlag)
	assert.True(t, p.BlackFlagNotified)
	assert.NotEmpty(t, gotIdempotencyKey, "notify must stamp a delivery-unique idempotency key")
}

func TestRunClearsFlagOnDrainedRemoval(t *testing.T) {
	ctx := context.Background()
	f := store.NewFake()
	now := time.Now()
	require.NoError(t, f.UpsertPublisher(ctx, &types.Publisher{OrgID: "org-1"}))
	require.NoError(t, f.SetBlackFlag(ctx, "org-1", &now))

	queue := NewFlagRemovalQueue(10)
	queue.Enqueue("org-1")

	c := NewController(f, queue, "", 2, 100, zerolog.Nop())
	require.NoError(t, c.Run(ctx))

	p, err := f.GetPublisher(ctx, "org-1")
	require.NoError(t, err)
	assert.Nil(t, p.BlackFlag)
}
