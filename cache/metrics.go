package cache

import gometrics "github.com/rcrowley/go-metrics"

// metrics are the rcrowley/go-metrics counters exposed for one Cache
// instance. cmd/abtreectl's stat subcommand reads these through
// Cache.Metrics; nothing in this package depends on the global metrics registry,
// each Cache owns its own.
type metrics struct {
	hits        gometrics.Counter
	loads       gometrics.Counter
	evictions   gometrics.Counter
	flushes     gometrics.Counter
	flushFails  gometrics.Counter
	compactions gometrics.Counter
}

func newMetrics() *metrics {
	return &metrics{
		hits:        gometrics.NewCounter(),
		loads:       gometrics.NewCounter(),
		evictions:   gometrics.NewCounter(),
		flushes:     gometrics.NewCounter(),
		flushFails:  gometrics.NewCounter(),
		compactions: gometrics.NewCounter(),
	}
}

// Snapshot is a point-in-time read of a Cache's counters.
type Snapshot struct {
	Hits        int64 // clean-cache hits that skipped a slab read
	Loads       int64
	Evictions   int64
	Flushes     int64
	FlushFails  int64
	Compactions int64
}

func (c *Cache) Metrics() Snapshot {
	return Snapshot{
		Hits:        c.m.hits.Count(),
		Loads:       c.m.loads.Count(),
		Evictions:   c.m.evictions.Count(),
		Flushes:     c.m.flushes.Count(),
		FlushFails:  c.m.flushFails.Count(),
		Compactions: c.m.compactions.Count(),
	}
}
