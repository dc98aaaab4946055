// Package legend resolves the code to label side tables that enrich matched
// layer rows.
package legend

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dnogares/web-sub001/internal/loader"
	"github.com/dnogares/web-sub001/internal/logger"
	"github.com/dnogares/web-sub001/internal/metrics"
	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
)

// LegendsDir is the directory under the data root holding per-category
// fallback tables.
const LegendsDir = "legends"

// Entry is one LegendEntry: a code, its label and any extra display columns.
type Entry struct {
	Code       string            `json:"code" validate:"required"`
	Label      string            `json:"label" validate:"required"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Table is the legend of one category. An empty table (no Source) means no
// side table was found.
type Table struct {
	Category string
	Source   string
	Entries  []Entry
}

// Filter returns the entries whose code is in codes, in table order. A code
// listed twice yields its first entry only.
func (t *Table) Filter(codes map[string]bool) []Entry {
	if t == nil || len(codes) == 0 {
		return []Entry{}
	}
	out := []Entry{}
	seen := make(map[string]bool)
	for _, e := range t.Entries {
		if codes[e.Code] && !seen[e.Code] {
			seen[e.Code] = true
			out = append(out, e)
		}
	}
	return out
}

var (
	codeColumns  = []string{"code", "codigo", "código", "cod"}
	labelColumns = []string{"label", "leyenda", "etiqueta", "descripcion", "descripción"}
)

// Resolver finds, parses, validates and caches legend tables.
type Resolver struct {
	root     string
	cache    *lru.Cache[string, *Table]
	validate *validator.Validate
	log      *logger.Logger
}

// NewResolver creates a Resolver for the data root with an LRU of size tables.
func NewResolver(root string, size int, log *logger.Logger) (*Resolver, error) {
	cache, err := lru.New[string, *Table](size)
	if err != nil {
		return nil, fmt.Errorf("create legend cache: %w", err)
	}
	return &Resolver{
		root:     root,
		cache:    cache,
		validate: validator.New(),
		log:      log.WithComponent("legend"),
	}, nil
}

// Candidates lists the side-table locations tried for a dataset, first hit
// wins.
func (r *Resolver) Candidates(category, datasetPath string) []string {
	var out []string
	if datasetPath != "" {
		dir := filepath.Dir(datasetPath)
		base := filepath.Base(datasetPath)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		out = append(out,
			filepath.Join(dir, stem+"_legend.csv"),
			filepath.Join(dir, stem+"_legend.json"),
			filepath.Join(dir, stem+".legend.json"),
		)
	}
	return append(out,
		filepath.Join(r.root, LegendsDir, category+".csv"),
		filepath.Join(r.root, LegendsDir, category+".json"),
	)
}

// Resolve returns the legend of a category. A missing side table yields an
// empty table and no error; a side table that fails to parse or validate is a
// LoadError. Only successful lookups are cached.
func (r *Resolver) Resolve(category, datasetPath string) (*Table, error) {
	key := category + "\x00" + datasetPath
	if t, ok := r.cache.Get(key); ok {
		metrics.LegendCacheHitsTotal.Inc()
		return t, nil
	}
	metrics.LegendCacheMissesTotal.Inc()

	t, err := r.load(category, datasetPath)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, t)
	return t, nil
}

// Purge drops every cached table.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

func (r *Resolver) load(category, datasetPath string) (*Table, error) {
	for _, path := range r.Candidates(category, datasetPath) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, unreadable(path, err)
		}

		var entries []Entry
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			entries, err = parseCSV(data)
		} else {
			entries, err = parseJSON(data)
		}
		if err != nil {
			return nil, unreadable(path, err)
		}
		if err := r.check(entries); err != nil {
			return nil, unreadable(path, err)
		}

		r.log.Debug("legend loaded", map[string]interface{}{
			"category": category,
			"path":     path,
			"entries":  len(entries),
		})
		return &Table{Category: category, Source: path, Entries: entries}, nil
	}
	return &Table{Category: category, Entries: []Entry{}}, nil
}

func unreadable(path string, err error) error {
	return &loader.LoadError{Kind: loader.Unreadable, Path: path, Err: err}
}

func (r *Resolver) check(entries []Entry) error {
	for i, e := range entries {
		if err := r.validate.Struct(e); err != nil {
			return fmt.Errorf("entry %d: %w", i+1, err)
		}
	}
	return nil
}

func findColumn(header []string, names []string) int {
	for _, name := range names {
		for i, h := range header {
			if h == name {
				return i
			}
		}
	}
	return -1
}

func parseCSV(data []byte) ([]Entry, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	firstLine, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		reader.Comma = ';'
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty legend")
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	codeCol := findColumn(header, codeColumns)
	labelCol := findColumn(header, labelColumns)
	if codeCol < 0 || labelCol < 0 {
		return nil, fmt.Errorf("legend header %v lacks code/label columns", header)
	}

	entries := []Entry{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		e := Entry{}
		for i, value := range record {
			value = strings.TrimSpace(value)
			switch {
			case i == codeCol:
				e.Code = value
			case i == labelCol:
				e.Label = value
			case i < len(header) && header[i] != "" && value != "":
				if e.Attributes == nil {
					e.Attributes = make(map[string]string)
				}
				e.Attributes[header[i]] = value
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseJSON(data []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rows []map[string]interface{}
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		lowered := make(map[string]string, len(row))
		for k, v := range row {
			lowered[strings.ToLower(strings.TrimSpace(k))] = loader.FormatValue(jsonScalar(v))
		}
		e := Entry{
			Code:  pick(lowered, codeColumns),
			Label: pick(lowered, labelColumns),
		}
		for k, v := range lowered {
			if contains(codeColumns, k) || contains(labelColumns, k) || v == "" {
				continue
			}
			if e.Attributes == nil {
				e.Attributes = make(map[string]string)
			}
			e.Attributes[k] = v
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// jsonScalar maps decoded JSON values to the attribute scalars FormatValue
// renders, so that legend code 7 and attribute value 7 compare equal.
func jsonScalar(v interface{}) interface{} {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}

// pick returns the value of the first listed key present in row.
func pick(row map[string]string, keys []string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			return v
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
