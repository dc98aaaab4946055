package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(CategoryOutcomesTotal.WithLabelValues("roads", "layer-missing"))
	CategoryOutcomesTotal.WithLabelValues("roads", "layer-missing").Inc()
	after := testutil.ToFloat64(CategoryOutcomesTotal.WithLabelValues("roads", "layer-missing"))
	assert.Equal(t, before+1, after)

	hits := testutil.ToFloat64(TableCacheHitsTotal)
	TableCacheHitsTotal.Inc()
	assert.Equal(t, hits+1, testutil.ToFloat64(TableCacheHitsTotal))
}

func TestHandler(t *testing.T) {
	AnalysesTotal.WithLabelValues("complete").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "affections_analyses_total")
}

func TestRegisterReportStorePool(t *testing.T) {
	reg := prometheus.NewRegistry()
	counts := PoolCounts{Acquired: 2, Idle: 3, Total: 5}
	require.NoError(t, RegisterReportStorePool(reg, func() PoolCounts { return counts }))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "affections_report_store_connections", families[0].GetName())

	got := map[string]float64{}
	for _, m := range families[0].GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"acquired": 2, "idle": 3, "total": 5}, got)

	counts.Idle = 1
	families, err = reg.Gather()
	require.NoError(t, err)
	for _, m := range families[0].GetMetric() {
		if m.GetLabel()[0].GetValue() == "idle" {
			assert.Equal(t, float64(1), m.GetGauge().GetValue())
		}
	}

	assert.Error(t, RegisterReportStorePool(reg, func() PoolCounts { return counts }))
}
