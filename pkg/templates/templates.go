// Package templates is the catalog of ready-made scenes users can insert
// without a generation round trip.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtin []byte

// ErrUnknownTemplate is returned by Get for ids not in the catalog.
var ErrUnknownTemplate = errors.New("unknown template")

type Template struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Formats     []string `yaml:"formats" json:"formats"`
	Code        string   `yaml:"code" json:"-"`
}

type file struct {
	Templates []Template `yaml:"templates"`
}

type Catalog struct {
	byID map[string]Template
	ids  []string
}

// Load reads the catalog at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	data := builtin
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read template catalog: %w", err)
		}
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]Template, len(f.Templates))}
	for i, t := range f.Templates {
		if t.ID == "" || strings.TrimSpace(t.Code) == "" {
			return nil, fmt.Errorf("template %d: id and code are required", i)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("template %q is defined twice", t.ID)
		}
		c.byID[t.ID] = t
		c.ids = append(c.ids, t.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

func (c *Catalog) Get(id string) (Template, error) {
	t, ok := c.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, id)
	}
	return t, nil
}

// List returns templates sorted by id, keeping those that support format
// when it is non-empty.
func (c *Catalog) List(format string) []Template {
	out := make([]Template, 0, len(c.ids))
	for _, id := range c.ids {
		t := c.byID[id]
		if format != "" && !supports(t, format) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func supports(t Template, format string) bool {
	if len(t.Formats) == 0 {
		return true
	}
	for _, f := range t.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}
