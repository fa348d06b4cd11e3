package metrics

import (
	"time"
)

// ClusterSample is a point-in-time view of one registered cluster
type ClusterSample struct {
	Mode    string // "stream" or "poll"
	Running bool
	Stopped bool
}

// SampleSource supplies cluster samples to the collector
type SampleSource interface {
	Samples() []ClusterSample
}

// Collector periodically refreshes gauges that are derived from the
// supervisor registry rather than updated inline
type Collector struct {
	source   SampleSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source SampleSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := make(map[[2]string]int)
	for _, s := range c.source.Samples() {
		status := "down"
		switch {
		case s.Stopped:
			status = "stopped"
		case s.Running:
			status = "running"
		}
		counts[[2]string{s.Mode, status}]++
	}

	ClustersTotal.Reset()
	for key, n := range counts {
		ClustersTotal.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}
