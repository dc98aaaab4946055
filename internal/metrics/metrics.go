package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "affections_analyses_total",
		Help: "Total parcel analyses by report status",
	}, []string{"status"})
	AnalysisDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "affections_analysis_duration_ms",
		Help:    "Parcel analysis duration in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})
	CategoryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "affections_category_outcomes_total",
		Help: "Per-category crossing outcomes (intersects, clear, layer-missing, load-failed, legend-failed)",
	}, []string{"category", "outcome"})
	TableCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "affections_table_cache_hits_total",
		Help: "Geometry table cache hits",
	})
	TableCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "affections_table_cache_misses_total",
		Help: "Geometry table cache misses (loads)",
	})
	TableLoadDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "affections_table_load_duration_ms",
		Help:    "Geometry table load duration in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"driver"})
	LegendCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "affections_legend_cache_hits_total",
		Help: "Legend side-table cache hits",
	})
	LegendCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "affections_legend_cache_misses_total",
		Help: "Legend side-table cache misses",
	})
	RegistryResolvedCategories = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "affections_registry_resolved_categories",
		Help: "Number of taxonomy categories resolved to a dataset at the last registry build",
	})
	NormalizedFilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "affections_normalized_files_total",
		Help: "Format normalizer results by outcome (converted, skipped, failed)",
	}, []string{"outcome"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "affections_http_requests_total",
		Help: "HTTP requests by method, route template and status code",
	}, []string{"method", "route", "status"})
	HTTPRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "affections_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds by route template",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(AnalysesTotal)
	prometheus.MustRegister(AnalysisDurationMs)
	prometheus.MustRegister(CategoryOutcomesTotal)
	prometheus.MustRegister(TableCacheHitsTotal)
	prometheus.MustRegister(TableCacheMissesTotal)
	prometheus.MustRegister(TableLoadDurationMs)
	prometheus.MustRegister(LegendCacheHitsTotal)
	prometheus.MustRegister(LegendCacheMissesTotal)
	prometheus.MustRegister(RegistryResolvedCategories)
	prometheus.MustRegister(NormalizedFilesTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDurationMs)
}

// PoolCounts is a snapshot of report store connection usage.
type PoolCounts struct {
	Acquired int32
	Idle     int32
	Total    int32
}

// RegisterReportStorePool exposes connection gauges read from snapshot on
// every scrape. It must be called at most once per registry.
func RegisterReportStorePool(reg prometheus.Registerer, snapshot func() PoolCounts) error {
	gauges := map[string]func(PoolCounts) int32{
		"acquired": func(p PoolCounts) int32 { return p.Acquired },
		"idle":     func(p PoolCounts) int32 { return p.Idle },
		"total":    func(p PoolCounts) int32 { return p.Total },
	}
	for state, pick := range gauges {
		pick := pick
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "affections_report_store_connections",
			Help:        "Report store pool connections by state",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 { return float64(pick(snapshot())) })
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the registered metrics for scraping.
func Handler() http.Handler { return promhttp.Handler() }
