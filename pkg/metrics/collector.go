package metrics

import (
	"context"
	"time"

	"github.com/cuemby/caindex/pkg/manager"
)

// Collector periodically polls the manager for pointer and queue state
// and republishes it as gauges; these gauges change only when the
// collector polls, since the write paths do not update any metric.
type Collector struct {
	manager *manager.Manager
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(mgr *manager.Manager) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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
	c.collectPointerMetrics()
	c.collectQueueMetrics()
}

func (c *Collector) collectPointerMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := c.manager.GetPointer(ctx)
	if err != nil {
		return
	}

	EventCount.Set(float64(p.EventCount))
	TotalCount.Set(float64(p.TotalCount))
	SnapshotSeq.Set(float64(p.SnapshotSeq))
	SnapshotEntryCount.Set(float64(p.SnapshotCount))
}

func (c *Collector) collectQueueMetrics() {
	stats := c.manager.QueueStats()
	QueueDepth.Set(float64(stats.QueueSize))
}
