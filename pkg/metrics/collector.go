package metrics

import "time"

// QueueDepths is the snapshot a Collector needs from the state store on
// each poll. Kept as a plain struct so pkg/store need not import pkg/metrics.
type QueueDepths struct {
	ToDownload       int
	ToValidate       int
	ToClean          int
	ToFlatten        int
	ToLakify         int
	ToSolrize        int
	Publishers       int
	BlackFlagged     int
}

// DepthsSource is implemented by pkg/store.Accessor.
type DepthsSource interface {
	QueueDepths() (QueueDepths, error)
}

// Collector polls a DepthsSource on an interval and updates the queue-depth
// gauges, generalized from the teacher's pkg/metrics.Collector (which
// polled pkg/manager for node/service/container counts on a ticker).
type Collector struct {
	source   DepthsSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source DepthsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{source: source, interval: interval, stopCh: make(chan struct{})}
}

// Start begins collecting metrics in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	depths, err := c.source.QueueDepths()
	if err != nil {
		return
	}
	DatasetsToDownload.Set(float64(depths.ToDownload))
	DatasetsToValidate.Set(float64(depths.ToValidate))
	DatasetsToClean.Set(float64(depths.ToClean))
	DatasetsToFlatten.Set(float64(depths.ToFlatten))
	DatasetsToLakify.Set(float64(depths.ToLakify))
	DatasetsToSolrize.Set(float64(depths.ToSolrize))
	PublishersTotal.Set(float64(depths.Publishers))
	PublishersBlackFlagged.Set(float64(depths.BlackFlagged))
}
