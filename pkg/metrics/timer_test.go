package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_timer_duration_seconds"})

	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDuration(h)

	assert.Equal(t, uint64(1), testutil.CollectAndCount(h))
}

func TestTimerObserveDurationVec(t *testing.T) {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_timer_duration_vec_seconds"}, []string{"stage"})

	timer := NewTimer()
	timer.ObserveDurationVec(h, "download")

	assert.Equal(t, uint64(1), testutil.CollectAndCount(h))
}

func TestCollectorUpdatesGauges(t *testing.T) {
	c := NewCollector(fakeDepthsSource{depths: QueueDepths{ToDownload: 3, Publishers: 7}}, time.Hour)
	c.collect()

	assert.Equal(t, float64(3), testutil.ToFloat64(DatasetsToDownload))
	assert.Equal(t, float64(7), testutil.ToFloat64(PublishersTotal))
}

type fakeDepthsSource struct {
	depths QueueDepths
}

func (f fakeDepthsSource) QueueDepths() (QueueDepths, error) {
	return f.depths, nil
}
