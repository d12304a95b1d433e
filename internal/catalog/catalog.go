// Package catalog provides read-only product reference data keyed by catalog
// code.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Fallbacks for codes that are not in the catalog.
const (
	DefaultCategory = "Other"
	DefaultPrice    = 0.0
)

// Entry is one product in the catalog.
type Entry struct {
	Code        string  `yaml:"code" json:"code"`
	DisplayName string  `yaml:"display_name" json:"display_name"`
	Category    string  `yaml:"category" json:"category"`
	UnitPrice   float64 `yaml:"unit_price" json:"unit_price"`
	// ExpectedCount is the planogram target facing count, 0 when unknown.
	ExpectedCount int `yaml:"expected_count,omitempty" json:"expected_count,omitempty"`
}

// Catalog is an immutable code → Entry mapping. It is safe for concurrent use.
type Catalog struct {
	entries map[string]Entry
	byName  map[string]string
	codes   []string
}

type catalogFile struct {
	Products []Entry `yaml:"products"`
}

// New builds a catalog from entries. Codes must be unique and non-empty.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		entries: make(map[string]Entry, len(entries)),
		byName:  make(map[string]string, len(entries)),
		codes:   make([]string, 0, len(entries)),
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Code) == "" {
			return nil, fmt.Errorf("catalog entry %d: empty code", i)
		}
		if _, dup := c.entries[e.Code]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate code %q", i, e.Code)
		}
		if e.UnitPrice < 0 {
			return nil, fmt.Errorf("catalog entry %q: negative unit price %.2f", e.Code, e.UnitPrice)
		}
		if e.DisplayName == "" {
			e.DisplayName = e.Code
		}
		if e.Category == "" {
			e.Category = DefaultCategory
		}
		c.entries[e.Code] = e
		c.codes = append(c.codes, e.Code)
		if key := NormalizeLabel(e.DisplayName); key != "" {
			if _, taken := c.byName[key]; !taken {
				c.byName[key] = e.Code
			}
		}
	}
	sort.Strings(c.codes)
	return c, nil
}

// Load reads a YAML catalog file with a top-level "products" list.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog path cannot be empty")
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: catalog path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if len(f.Products) == 0 {
		return nil, fmt.Errorf("catalog %s has no products", path)
	}
	return New(f.Products)
}

// LoadOrDefault loads path, or returns the built-in catalog when path is empty.
func LoadOrDefault(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Lookup returns the entry for code.
func (c *Catalog) Lookup(code string) (Entry, bool) {
	e, ok := c.entries[code]
	return e, ok
}

// Resolve returns the entry for code, or a fallback entry carrying the code as
// its display name.
func (c *Catalog) Resolve(code string) Entry {
	if e, ok := c.entries[code]; ok {
		return e
	}
	return Entry{Code: code, DisplayName: code, Category: DefaultCategory, UnitPrice: DefaultPrice}
}

// DisplayName returns the readable product name, falling back to the code.
func (c *Catalog) DisplayName(code string) string { return c.Resolve(code).DisplayName }

// Category returns the product category, falling back to DefaultCategory.
func (c *Catalog) Category(code string) string { return c.Resolve(code).Category }

// Price returns the unit price, falling back to DefaultPrice.
func (c *Catalog) Price(code string) float64 { return c.Resolve(code).UnitPrice }

// CodeForName performs a case-insensitive reverse lookup by display name.
func (c *Catalog) CodeForName(name string) (string, bool) {
	code, ok := c.byName[NormalizeLabel(name)]
	return code, ok
}

// Entries returns all entries sorted by code.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.codes))
	for _, code := range c.codes {
		out = append(out, c.entries[code])
	}
	return out
}

// Len returns the number of products.
func (c *Catalog) Len() int { return len(c.entries) }

// Marshal renders the catalog in the file format accepted by Load.
func (c *Catalog) Marshal() ([]byte, error) {
	return yaml.Marshal(catalogFile{Products: c.Entries()})
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

// NormalizeLabel case-folds and NFKC-normalizes a product label so that
// visually identical names compare equal.
func NormalizeLabel(s string) string {
	s = norm.NFKC.String(s)
	s = apostrophes.Replace(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
