// Package registry discovers one canonical dataset per layer category under a
// root data directory.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/dnogares/web-sub001/internal/geo"
	"github.com/dnogares/web-sub001/internal/loader"
	"github.com/dnogares/web-sub001/internal/logger"
	"github.com/dnogares/web-sub001/internal/metrics"
	"github.com/dnogares/web-sub001/internal/taxonomy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Discovery confidence: a file-name match scores higher than a match on an
// enclosing directory, and every alias further down the list costs a little.
const (
	fileMatchConfidence = 1.0
	dirMatchConfidence  = 0.6
	aliasPenalty        = 0.05
	minConfidence       = 0.1
)

// ErrNotDirectory is wrapped by DiscoveryError when the root is a file.
var ErrNotDirectory = errors.New("not a directory")

// DiscoveryError is returned by Build when the root directory is unusable.
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover layers under %s: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Descriptor is the resolved dataset of one category.
type Descriptor struct {
	Category   string        `json:"category"`
	Path       string        `json:"path"`
	Driver     loader.Driver `json:"driver"`
	CRS        geo.CRS       `json:"crs"`
	Confidence float64       `json:"confidence"`
}

// Catalog is the introspection listing of a registry.
type Catalog struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	Categories []Descriptor   `json:"categories"`
}

// Registry maps categories to datasets. It is immutable once built and safe
// for concurrent use.
type Registry struct {
	root     string
	taxonomy *taxonomy.Taxonomy
	resolved map[string]Descriptor
	builtAt  time.Time
}

// candidate is a geometry file seen during the walk.
type candidate struct {
	path   string
	driver loader.Driver
	folded string
}

// Build walks root once and resolves every category of tax. It fails only
// when root is missing or not a directory; unresolved categories are simply
// absent from the result.
func Build(root string, tax *taxonomy.Taxonomy, log *logger.Logger) (*Registry, error) {
	log = log.WithComponent("registry")

	info, err := os.Stat(root)
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &DiscoveryError{Root: root, Err: ErrNotDirectory}
	}

	files, dirs, err := walk(root, log)
	if err != nil {
		return nil, &DiscoveryError{Root: root, Err: err}
	}
	log.Debug("data directory scanned", map[string]interface{}{
		"root":        root,
		"candidates":  len(files),
		"directories": len(dirs),
	})

	r := &Registry{
		root:     root,
		taxonomy: tax,
		resolved: make(map[string]Descriptor),
		builtAt:  time.Now().UTC(),
	}
	for _, cat := range tax.Categories {
		d, ok := resolve(cat, files, dirs)
		if !ok {
			log.Info("category unresolved", map[string]interface{}{"category": cat.ID})
			continue
		}
		crs, err := loader.SniffCRS(d.Path, d.Driver)
		if err != nil {
			log.Warn("could not read dataset crs", map[string]interface{}{
				"category": cat.ID,
				"path":     d.Path,
				"error":    err.Error(),
			})
		}
		d.CRS = crs
		r.resolved[cat.ID] = d
		log.Info("category resolved", map[string]interface{}{
			"category":   cat.ID,
			"path":       d.Path,
			"driver":     d.Driver,
			"confidence": d.Confidence,
		})
	}

	metrics.RegistryResolvedCategories.Set(float64(len(r.resolved)))
	log.Info("registry built", map[string]interface{}{
		"root":     root,
		"resolved": len(r.resolved),
		"total":    tax.Len(),
	})
	return r, nil
}

// walk lists candidate geometry files and all directories below root.
// Unreadable subdirectories are logged and skipped.
func walk(root string, log *logger.Logger) ([]candidate, []string, error) {
	var files []candidate
	var dirs []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warn("skipping unreadable path", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if c, ok := newCandidate(path); ok {
			files = append(files, c)
		}
		return nil
	})
	return files, dirs, err
}

func newCandidate(path string) (candidate, bool) {
	driver, ok := loader.DriverFor(path)
	if !ok {
		return candidate{}, false
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".tmp-") {
		return candidate{}, false
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	folded := fold(stem)
	if strings.HasSuffix(folded, "_legend") || strings.HasSuffix(folded, ".legend") {
		return candidate{}, false
	}
	if driver == loader.DriverIndexed {
		// A data file without its index cannot be read; it is left out so it
		// does not shadow a readable legacy dataset.
		if _, err := os.Stat(loader.IndexPath(path)); err != nil {
			return candidate{}, false
		}
	}
	return candidate{path: path, driver: driver, folded: folded}, true
}

// resolve applies the alias heuristics of one category: file names first,
// then directory names, first alias with any match wins.
func resolve(cat taxonomy.Category, files []candidate, dirs []string) (Descriptor, bool) {
	for rank, alias := range cat.Aliases {
		a := fold(alias)
		var matches []candidate
		for _, f := range files {
			if strings.Contains(f.folded, a) {
				matches = append(matches, f)
			}
		}
		if len(matches) > 0 {
			return describe(cat.ID, best(matches), fileMatchConfidence, rank), true
		}
	}

	for rank, alias := range cat.Aliases {
		a := fold(alias)
		seen := make(map[string]bool)
		var matches []candidate
		for _, dir := range dirs {
			if !strings.Contains(fold(filepath.Base(dir)), a) {
				continue
			}
			prefix := dir + string(filepath.Separator)
			for _, f := range files {
				if strings.HasPrefix(f.path, prefix) && !seen[f.path] {
					seen[f.path] = true
					matches = append(matches, f)
				}
			}
		}
		if len(matches) > 0 {
			return describe(cat.ID, best(matches), dirMatchConfidence, rank), true
		}
	}
	return Descriptor{}, false
}

func describe(category string, c candidate, base float64, aliasRank int) Descriptor {
	conf := base - aliasPenalty*float64(aliasRank)
	if conf < minConfidence {
		conf = minConfidence
	}
	return Descriptor{
		Category:   category,
		Path:       c.path,
		Driver:     c.driver,
		CRS:        geo.Unknown,
		Confidence: conf,
	}
}

// best picks the preferred candidate under a total order: driver rank
// (indexed streaming format first), then shorter path, then lexicographic
// path.
func best(cs []candidate) candidate {
	sort.Slice(cs, func(i, j int) bool {
		return less(cs[i], cs[j])
	})
	return cs[0]
}

func less(a, b candidate) bool {
	if ra, rb := a.driver.Rank(), b.driver.Rank(); ra != rb {
		return ra < rb
	}
	if len(a.path) != len(b.path) {
		return len(a.path) < len(b.path)
	}
	return a.path < b.path
}

// fold lowercases s and strips diacritics so "Cañada" matches "canada".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Root returns the directory the registry was built from.
func (r *Registry) Root() string { return r.root }

// Taxonomy returns the taxonomy the registry resolves.
func (r *Registry) Taxonomy() *taxonomy.Taxonomy { return r.taxonomy }

// BuiltAt returns when discovery finished.
func (r *Registry) BuiltAt() time.Time { return r.builtAt }

// Lookup returns the dataset resolved for a category.
func (r *Registry) Lookup(category string) (Descriptor, bool) {
	d, ok := r.resolved[category]
	return d, ok
}

// Descriptors returns the resolved descriptors in taxonomy order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.resolved))
	for _, c := range r.taxonomy.Categories {
		if d, ok := r.resolved[c.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Catalog returns the introspection listing.
func (r *Registry) Catalog() Catalog {
	byCategory := make(map[string]int, r.taxonomy.Len())
	for _, c := range r.taxonomy.Categories {
		byCategory[c.ID] = 0
		if _, ok := r.resolved[c.ID]; ok {
			byCategory[c.ID] = 1
		}
	}
	return Catalog{
		Total:      len(r.resolved),
		ByCategory: byCategory,
		Categories: r.Descriptors(),
	}
}
