// Package crossing tests a parcel against every registered layer and builds
// the affection report.
package crossing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/dnogares/web-sub001/internal/legend"
	"github.com/dnogares/web-sub001/internal/loader"
	"github.com/dnogares/web-sub001/internal/logger"
	"github.com/dnogares/web-sub001/internal/metrics"
	"github.com/dnogares/web-sub001/internal/models"
	"github.com/dnogares/web-sub001/internal/registry"
	"github.com/dnogares/web-sub001/internal/taxonomy"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// Category outcomes reported to metrics.
const (
	outcomeIntersects = "intersects"
	outcomeClear      = "clear"
)

// ErrEmptyParcel is wrapped in the LoadError returned for a parcel without
// geometry.
var ErrEmptyParcel = errors.New("parcel geometry is empty")

// Options tune an Engine.
type Options struct {
	// Workers bounds the categories crossed concurrently within one query.
	Workers int
	// PartialReads makes indexed-format layers read only the features whose
	// envelope meets the parcel instead of going through the table cache.
	PartialReads bool
}

// Engine crosses parcels against a registry. It is safe for concurrent use;
// the registry is only read.
type Engine struct {
	cache        *Cache
	legends      *legend.Resolver
	workers      int
	partialReads bool
	log          *logger.Logger
	now          func() time.Time
}

// NewEngine creates an Engine over a table cache and a legend resolver.
func NewEngine(cache *Cache, legends *legend.Resolver, opts Options, log *logger.Logger) *Engine {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		cache:        cache,
		legends:      legends,
		workers:      workers,
		partialReads: opts.PartialReads,
		log:          log.WithComponent("crossing"),
		now:          time.Now,
	}
}

// Analyze crosses a parcel, expressed in geo.Canonical, against every
// category of the registry taxonomy. The report always holds one record per
// category in taxonomy order. Per-category failures degrade that record and
// mark the report partial; only an empty parcel or a cancelled context fail
// the whole analysis.
func (e *Engine) Analyze(ctx context.Context, parcel orb.Geometry, parcelID string, reg *registry.Registry) (models.AffectionReport, error) {
	start := time.Now()
	if loader.Merge([]orb.Geometry{parcel}) == nil {
		return models.AffectionReport{}, &loader.LoadError{Kind: loader.Empty, Path: "parcel", Err: ErrEmptyParcel}
	}

	categories := reg.Taxonomy().Categories
	records := make([]models.AffectionRecord, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, cat := range categories {
		i, cat := i, cat
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = e.cross(cat, parcel, reg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.AnalysesTotal.WithLabelValues("cancelled").Inc()
		e.log.Warn("analysis abandoned", map[string]interface{}{
			"parcel_id": parcelID,
			"error":     err.Error(),
		})
		return models.AffectionReport{}, err
	}

	report := models.AffectionReport{
		ParcelID:    parcelID,
		GeneratedAt: e.now().UTC(),
		Status:      models.StatusComplete,
		Affections:  records,
	}
	for _, rec := range records {
		if rec.Note == models.NoteLoadFailed || rec.Note == models.NoteLegendFailed {
			report.Status = models.StatusPartial
			break
		}
	}

	metrics.AnalysesTotal.WithLabelValues(string(report.Status)).Inc()
	metrics.AnalysisDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	e.log.Info("parcel analyzed", map[string]interface{}{
		"parcel_id":   parcelID,
		"status":      report.Status,
		"intersects":  report.Intersecting(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return report, nil
}

func newRecord(category string) models.AffectionRecord {
	return models.AffectionRecord{
		Category: category,
		Matched:  []geo.Attributes{},
		Legend:   []models.LegendItem{},
	}
}

func (e *Engine) cross(cat taxonomy.Category, parcel orb.Geometry, reg *registry.Registry) models.AffectionRecord {
	rec := newRecord(cat.ID)

	d, ok := reg.Lookup(cat.ID)
	if !ok {
		rec.Note = models.NoteLayerMissing
		metrics.CategoryOutcomesTotal.WithLabelValues(cat.ID, string(rec.Note)).Inc()
		return rec
	}

	table, err := e.table(d, parcel)
	if err != nil {
		e.log.Warn("layer load failed", map[string]interface{}{
			"category": cat.ID,
			"path":     d.Path,
			"error":    err.Error(),
		})
		rec.Note = models.NoteLoadFailed
		metrics.CategoryOutcomesTotal.WithLabelValues(cat.ID, string(rec.Note)).Inc()
		return rec
	}

	for _, pos := range table.Intersecting(parcel) {
		rec.Matched = append(rec.Matched, copyAttributes(table.Row(pos).Attributes))
	}
	rec.Intersects = len(rec.Matched) > 0
	if !rec.Intersects {
		metrics.CategoryOutcomesTotal.WithLabelValues(cat.ID, outcomeClear).Inc()
		return rec
	}

	legendTable, err := e.legends.Resolve(cat.ID, d.Path)
	if err != nil {
		e.log.Warn("legend invalid", map[string]interface{}{
			"category": cat.ID,
			"path":     d.Path,
			"error":    err.Error(),
		})
		rec.Note = models.NoteLegendFailed
		metrics.CategoryOutcomesTotal.WithLabelValues(cat.ID, string(rec.Note)).Inc()
		return rec
	}
	for _, entry := range legendTable.Filter(matchedCodes(rec.Matched, cat.CodeFields)) {
		rec.Legend = append(rec.Legend, models.LegendItem{
			Code:       entry.Code,
			Label:      entry.Label,
			Attributes: entry.Attributes,
		})
	}
	metrics.CategoryOutcomesTotal.WithLabelValues(cat.ID, outcomeIntersects).Inc()
	return rec
}

func (e *Engine) table(d registry.Descriptor, parcel orb.Geometry) (*geo.Table, error) {
	if e.partialReads && d.Driver == loader.DriverIndexed {
		return loader.ReadIndexedWithin(d.Path, parcel.Bound())
	}
	return e.cache.Get(d)
}

func copyAttributes(attrs geo.Attributes) geo.Attributes {
	out := make(geo.Attributes, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// matchedCodes collects the legend codes of matched rows. Each row
// contributes the value of the first code field it carries; field names are
// compared case-insensitively.
func matchedCodes(rows []geo.Attributes, codeFields []string) map[string]bool {
	codes := make(map[string]bool)
	for _, row := range rows {
		for _, field := range codeFields {
			v, ok := lookupFold(row, field)
			if !ok {
				continue
			}
			if code := loader.FormatValue(v); code != "" {
				codes[code] = true
				break
			}
		}
	}
	return codes
}

func lookupFold(row geo.Attributes, key string) (interface{}, bool) {
	if v, ok := row[key]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
