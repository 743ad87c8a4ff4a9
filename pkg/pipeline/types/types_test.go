package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublisherIsBlackFlagged(t *testing.T) {
	p := &Publisher{}
	assert.False(t, p.IsBlackFlagged())

	now := time.Now()
	p.BlackFlag = &now
	assert.True(t, p.IsBlackFlagged())
}

func TestStageProgressInProgress(t *testing.T) {
	now := time.Now()

	assert.False(t, StageProgress{}.InProgress())
	assert.True(t, StageProgress{Start: &now}.InProgress())
	assert.False(t, StageProgress{Start: &now, End: &now}.InProgress())
	assert.False(t, StageProgress{Start: &now, Error: "boom"}.InProgress())
}

func TestStageProgressDone(t *testing.T) {
	now := time.Now()

	assert.False(t, StageProgress{}.Done())
	assert.True(t, StageProgress{Start: &now, End: &now}.Done())
	assert.False(t, StageProgress{Start: &now, End: &now, Error: "boom"}.Done())
}

func TestDocumentHasContent(t *testing.T) {
	assert.False(t, (&Document{Hash: ""}).HasContent())
	assert.True(t, (&Document{Hash: "abc123"}).HasContent())
}
