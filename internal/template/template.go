package template

import (
	"errors"
	"fmt"
	"sort"
)

type Category string

const (
	CategoryReminder     Category = "reminder"
	CategoryConfirmation Category = "confirmation"
	CategoryDisposal     Category = "disposal"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryReminder, CategoryConfirmation, CategoryDisposal:
		return true
	default:
		return false
	}
}

// Variable is one positional slot of a DLT template. Position is 1-based.
type Variable struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Required    bool   `yaml:"required" json:"required"`
	Position    int    `yaml:"position" json:"position"`
}

type Template struct {
	Key           string     `yaml:"key" json:"key"`
	ExternalID    string     `yaml:"external_id" json:"external_id"`
	Name          string     `yaml:"name" json:"name"`
	Description   string     `yaml:"description" json:"description"`
	Category      Category   `yaml:"category" json:"category"`
	Variables     []Variable `yaml:"variables" json:"variables"`
	VariableCount int        `yaml:"variable_count" json:"variable_count"`
	IsActive      bool       `yaml:"active" json:"is_active"`
}

// Summary is the listing shape handed to the UI layer.
type Summary struct {
	Key           string   `json:"key"`
	ExternalID    string   `json:"external_id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Category      Category `json:"category"`
	VariableCount int      `json:"variable_count"`
	IsActive      bool     `json:"is_active"`
}

func (t Template) Summary() Summary {
	return Summary{
		Key:           t.Key,
		ExternalID:    t.ExternalID,
		Name:          t.Name,
		Description:   t.Description,
		Category:      t.Category,
		VariableCount: t.VariableCount,
		IsActive:      t.IsActive,
	}
}

// orderedVariables returns a copy of the schema sorted by position.
func (t Template) orderedVariables() []Variable {
	vars := make([]Variable, len(t.Variables))
	copy(vars, t.Variables)
	sort.Slice(vars, func(i, j int) bool { return vars[i].Position < vars[j].Position })
	return vars
}

func (t Template) clone() Template {
	out := t
	out.Variables = make([]Variable, len(t.Variables))
	copy(out.Variables, t.Variables)
	return out
}

// check enforces the schema invariants a catalog entry must hold before it
// can be registered.
func (t Template) check() error {
	if t.Key == "" {
		return errors.New("template key is required")
	}
	if t.ExternalID == "" || !isDigits(t.ExternalID) {
		return fmt.Errorf("template %s: external id %q must be numeric", t.Key, t.ExternalID)
	}
	if !t.Category.Valid() {
		return fmt.Errorf("template %s: unknown category %q", t.Key, t.Category)
	}
	if t.VariableCount != len(t.Variables) {
		return fmt.Errorf("template %s: variable_count %d does not match %d variables", t.Key, t.VariableCount, len(t.Variables))
	}
	seenPos := make(map[int]bool, len(t.Variables))
	seenName := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		if v.Name == "" {
			return fmt.Errorf("template %s: variable at position %d has no name", t.Key, v.Position)
		}
		if seenName[v.Name] {
			return fmt.Errorf("template %s: duplicate variable name %q", t.Key, v.Name)
		}
		if v.Position < 1 || v.Position > t.VariableCount {
			return fmt.Errorf("template %s: variable %s position %d outside 1..%d", t.Key, v.Name, v.Position, t.VariableCount)
		}
		if seenPos[v.Position] {
			return fmt.Errorf("template %s: duplicate position %d", t.Key, v.Position)
		}
		seenPos[v.Position] = true
		seenName[v.Name] = true
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
