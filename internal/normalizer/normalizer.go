// Package normalizer rewrites legacy vector datasets into the indexed
// streaming format ahead of query time.
package normalizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dnogares/web-sub001/internal/loader"
	"github.com/dnogares/web-sub001/internal/logger"
	"github.com/dnogares/web-sub001/internal/metrics"
)

const tempPrefix = ".tmp-"

// Outcomes reported to metrics.
const (
	outcomeConverted = "converted"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// ErrNotDirectory is returned when the root is not a directory.
var ErrNotDirectory = errors.New("normalize root is not a directory")

// Options tune a Normalizer.
type Options struct {
	// DryRun lists the conversions without writing anything.
	DryRun bool
}

// Result summarises one run.
type Result struct {
	Converted int
	Skipped   int
	Failed    int
	// Files lists the converted (or, in a dry run, convertible) sources.
	Files []string
}

// Normalizer converts datasets under a root directory. A run assumes no
// concurrent queries read the files it rewrites.
type Normalizer struct {
	log    *logger.Logger
	dryRun bool
}

// New creates a Normalizer.
func New(log *logger.Logger, opts Options) *Normalizer {
	return &Normalizer{
		log:    log.WithComponent("normalizer"),
		dryRun: opts.DryRun,
	}
}

// Normalize walks root and converts every convertible dataset that has no
// indexed sibling yet. A failing file is logged and skipped. Rerunning on an
// unchanged tree converts nothing. Leftover temp files from interrupted runs
// are removed.
func (n *Normalizer) Normalize(ctx context.Context, root string) (Result, error) {
	var res Result

	info, err := os.Stat(root)
	if err != nil {
		return res, fmt.Errorf("normalize %s: %w", root, err)
	}
	if !info.IsDir() {
		return res, fmt.Errorf("normalize %s: %w", root, ErrNotDirectory)
	}

	start := time.Now()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			n.log.Warn("skipping unreadable path", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), tempPrefix) {
			n.removeStale(path)
			return nil
		}

		driver, ok := loader.DriverFor(path)
		if !ok || !driver.Convertible() {
			return nil
		}
		n.process(path, driver, &res)
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("normalize %s: %w", root, err)
	}

	n.log.Info("normalization finished", map[string]interface{}{
		"root":        root,
		"converted":   res.Converted,
		"skipped":     res.Skipped,
		"failed":      res.Failed,
		"dry_run":     n.dryRun,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return res, nil
}

func (n *Normalizer) process(path string, driver loader.Driver, res *Result) {
	target := loader.IndexedPath(path)
	if converted(target) {
		res.Skipped++
		metrics.NormalizedFilesTotal.WithLabelValues(outcomeSkipped).Inc()
		n.log.Debug("already converted", map[string]interface{}{"path": path, "target": target})
		return
	}

	if n.dryRun {
		res.Converted++
		res.Files = append(res.Files, path)
		n.log.Info("would convert", map[string]interface{}{"path": path, "target": target})
		return
	}

	if err := convert(path, driver, target); err != nil {
		res.Failed++
		metrics.NormalizedFilesTotal.WithLabelValues(outcomeFailed).Inc()
		n.log.Warn("conversion failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return
	}
	res.Converted++
	res.Files = append(res.Files, path)
	metrics.NormalizedFilesTotal.WithLabelValues(outcomeConverted).Inc()
	n.log.Info("dataset converted", map[string]interface{}{
		"path":   path,
		"driver": driver,
		"target": target,
	})
}

func (n *Normalizer) removeStale(path string) {
	if n.dryRun {
		return
	}
	if err := os.Remove(path); err != nil {
		n.log.Warn("could not remove stale temp file", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return
	}
	n.log.Debug("stale temp file removed", map[string]interface{}{"path": path})
}

// converted reports whether target and its index both exist.
func converted(target string) bool {
	if _, err := os.Stat(target); err != nil {
		return false
	}
	_, err := os.Stat(loader.IndexPath(target))
	return err == nil
}

func convert(path string, driver loader.Driver, target string) error {
	table, err := loader.Load(path, driver)
	if err != nil {
		return err
	}
	return loader.WriteIndexed(target, table)
}
