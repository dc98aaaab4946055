package crossing

import (
	"sync"
	"time"

	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/dnogares/web-sub001/internal/loader"
	"github.com/dnogares/web-sub001/internal/metrics"
	"github.com/dnogares/web-sub001/internal/registry"
	"golang.org/x/sync/singleflight"
)

// LoadFunc opens a dataset in the canonical CRS.
type LoadFunc func(path string, driver loader.Driver) (*geo.Table, error)

// Cache holds loaded geometry tables keyed by dataset path for the lifetime
// of the process. Concurrent misses on the same path share one load; hits do
// not lock. Failed loads are not cached, so a fixed file is picked up by the
// next query.
type Cache struct {
	tables sync.Map // path -> *geo.Table
	group  singleflight.Group
	load   LoadFunc
}

// NewCache returns a Cache that loads tables with loader.Load.
func NewCache() *Cache {
	return NewCacheWithLoader(loader.Load)
}

// NewCacheWithLoader returns a Cache backed by a custom load function.
func NewCacheWithLoader(load LoadFunc) *Cache {
	return &Cache{load: load}
}

// Get returns the table of a resolved dataset, loading it on first use.
func (c *Cache) Get(d registry.Descriptor) (*geo.Table, error) {
	if t, ok := c.tables.Load(d.Path); ok {
		metrics.TableCacheHitsTotal.Inc()
		return t.(*geo.Table), nil
	}

	v, err, _ := c.group.Do(d.Path, func() (interface{}, error) {
		// A concurrent caller may have stored the table between the lookup
		// above and entering the flight.
		if t, ok := c.tables.Load(d.Path); ok {
			metrics.TableCacheHitsTotal.Inc()
			return t, nil
		}
		metrics.TableCacheMissesTotal.Inc()

		start := time.Now()
		t, err := c.load(d.Path, d.Driver)
		metrics.TableLoadDurationMs.WithLabelValues(string(d.Driver)).
			Observe(float64(time.Since(start).Milliseconds()))
		if err != nil {
			return nil, err
		}
		c.tables.Store(d.Path, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*geo.Table), nil
}

// Invalidate drops the table of one dataset.
func (c *Cache) Invalidate(path string) {
	c.tables.Delete(path)
}

// Purge drops every cached table.
func (c *Cache) Purge() {
	c.tables.Range(func(key, _ interface{}) bool {
		c.tables.Delete(key)
		return true
	})
}

// Len returns the number of cached tables.
func (c *Cache) Len() int {
	n := 0
	c.tables.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
