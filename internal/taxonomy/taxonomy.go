// Package taxonomy holds the closed set of layer categories a report covers.
// The set is versioned with the binary.
package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
)

//go:embed taxonomy.yaml
var defaultYAML []byte

// Category is one LayerCategory: its identifier, the keyword aliases used to
// discover its dataset (most specific first) and the attribute fields that
// carry legend codes.
type Category struct {
	ID         string   `yaml:"id"`
	Aliases    []string `yaml:"aliases"`
	CodeFields []string `yaml:"code_fields"`
}

// Taxonomy is an ordered, immutable list of categories.
type Taxonomy struct {
	Version    int        `yaml:"version"`
	Categories []Category `yaml:"categories"`

	index map[string]int
}

var (
	ErrNoCategories    = errors.New("taxonomy has no categories")
	ErrDuplicateID     = errors.New("duplicate category id")
	ErrCategoryNoAlias = errors.New("category has no aliases")
	ErrInvalidAlias    = errors.New("invalid alias")
)

// Parse decodes and validates a taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode taxonomy: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Taxonomy) validate() error {
	if len(t.Categories) == 0 {
		return ErrNoCategories
	}
	t.index = make(map[string]int, len(t.Categories))
	for i, c := range t.Categories {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			return fmt.Errorf("category %d: empty id", i)
		}
		if _, dup := t.index[id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		if len(c.Aliases) == 0 {
			return fmt.Errorf("%w: %s", ErrCategoryNoAlias, id)
		}
		for _, a := range c.Aliases {
			if strings.TrimSpace(a) == "" || strings.ContainsAny(a, `/\*?`) {
				return fmt.Errorf("%w %q in %s", ErrInvalidAlias, a, id)
			}
		}
		t.index[id] = i
	}
	return nil
}

var (
	defaultOnce sync.Once
	defaultTax  *Taxonomy
)

// Default returns the taxonomy embedded in the binary. It panics if the
// embedded document is invalid, which the package tests rule out.
func Default() *Taxonomy {
	defaultOnce.Do(func() {
		t, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded taxonomy: %v", err))
		}
		defaultTax = t
	})
	return defaultTax
}

// Len returns the number of categories.
func (t *Taxonomy) Len() int { return len(t.Categories) }

// IDs returns the category identifiers in taxonomy order.
func (t *Taxonomy) IDs() []string {
	ids := make([]string, len(t.Categories))
	for i, c := range t.Categories {
		ids[i] = c.ID
	}
	return ids
}

// Index returns the position of a category.
func (t *Taxonomy) Index(id string) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

// Category looks a category up by identifier.
func (t *Taxonomy) Category(id string) (Category, bool) {
	i, ok := t.index[id]
	if !ok {
		return Category{}, false
	}
	return t.Categories[i], true
}
