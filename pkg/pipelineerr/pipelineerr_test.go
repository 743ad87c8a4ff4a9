package pipelineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsClassifiesWrappedError(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := WithDocument(KindTransientUpstream, "doc-1", base)

	assert.True(t, Is(wrapped, KindTransientUpstream))
	assert.False(t, Is(wrapped, KindHardStop))
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]Kind{
		200: "",
		204: "",
		400: KindExpectedClient,
		413: KindExpectedClient,
		422: KindExpectedClient,
		404: KindTransientUpstream,
		500: KindTransientUpstream,
		503: KindTransientUpstream,
	}
	for status, want := range cases {
		assert.Equal(t, want, ClassifyHTTPStatus(status), "status %d", status)
	}
}
