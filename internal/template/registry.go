package template

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var ErrNotFound = errors.New("template not found")

// Registry is an immutable lookup over the template catalog. It is built once
// at startup and shared by reference; all accessors return copies.
type Registry struct {
	ordered []Template
	byKey   map[string]int
	byID    map[string]int
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// NewRegistry validates every template and indexes the set by key and by
// external ID. Both must be unique.
func NewRegistry(templates []Template) (*Registry, error) {
	r := &Registry{
		ordered: make([]Template, 0, len(templates)),
		byKey:   make(map[string]int, len(templates)),
		byID:    make(map[string]int, len(templates)),
	}
	for _, t := range templates {
		if err := t.check(); err != nil {
			return nil, err
		}
		if _, dup := r.byKey[t.Key]; dup {
			return nil, fmt.Errorf("duplicate template key %q", t.Key)
		}
		if _, dup := r.byID[t.ExternalID]; dup {
			return nil, fmt.Errorf("duplicate external id %q (template %s)", t.ExternalID, t.Key)
		}
		idx := len(r.ordered)
		r.ordered = append(r.ordered, t.clone())
		r.byKey[t.Key] = idx
		r.byID[t.ExternalID] = idx
	}
	return r, nil
}

// LoadCatalog parses a YAML catalog document.
func LoadCatalog(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, errors.New("template catalog is empty")
	}
	return NewRegistry(file.Templates)
}

// DefaultRegistry loads the catalog compiled into the binary.
func DefaultRegistry() (*Registry, error) {
	return LoadCatalog(defaultCatalog)
}

func (r *Registry) ByKey(key string) (Template, error) {
	idx, ok := r.byKey[key]
	if !ok {
		return Template{}, fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	return r.ordered[idx].clone(), nil
}

func (r *Registry) ByExternalID(id string) (Template, error) {
	idx, ok := r.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: external id %q", ErrNotFound, id)
	}
	return r.ordered[idx].clone(), nil
}

// ListByCategory returns the active templates of one category in catalog order.
func (r *Registry) ListByCategory(c Category) []Template {
	var out []Template
	for _, t := range r.ordered {
		if t.Category == c && t.IsActive {
			out = append(out, t.clone())
		}
	}
	return out
}

func (r *Registry) All() []Template {
	out := make([]Template, 0, len(r.ordered))
	for _, t := range r.ordered {
		out = append(out, t.clone())
	}
	return out
}

func (r *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(r.ordered))
	for _, t := range r.ordered {
		out = append(out, t.Summary())
	}
	return out
}
