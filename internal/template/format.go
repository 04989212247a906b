package template

import (
	"fmt"
	"strings"
)

// Separator joins positional values on the wire. Gateway contract; do not change.
const Separator = "|"

// Variables is the caller's named variable bag, e.g. {"var1": "Rama"}.
type Variables map[string]string

// Values holds one string per template position, in position order.
// Optional slots that were not supplied are empty but still present.
type Values []string

// Wire renders the gateway's variables_values parameter.
func (v Values) Wire() string {
	return strings.Join(v, Separator)
}

type Problem struct {
	Variable string `json:"variable"`
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

// ValidationError lists every slot that failed validation, in position order.
type ValidationError struct {
	Template string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s (position %d) %s", p.Variable, p.Position, p.Reason))
	}
	return fmt.Sprintf("template %s: invalid variables: %s", e.Template, strings.Join(parts, "; "))
}

// Bind maps a named variable bag onto the template's positional schema.
// Required slots must be present and non-blank; no value may contain the
// separator. Names the schema does not declare are ignored.
func Bind(t Template, vars Variables) (Values, error) {
	ordered := t.orderedVariables()
	values := make(Values, 0, len(ordered))
	var problems []Problem
	for _, v := range ordered {
		val, ok := vars[v.Name]
		switch {
		case v.Required && (!ok || strings.TrimSpace(val) == ""):
			reason := "is required"
			if ok {
				reason = "must not be empty"
			}
			problems = append(problems, Problem{Variable: v.Name, Position: v.Position, Reason: reason})
		case strings.Contains(val, Separator):
			problems = append(problems, Problem{Variable: v.Name, Position: v.Position, Reason: "must not contain " + Separator})
		}
		values = append(values, val)
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Template: t.Key, Problems: problems}
	}
	return values, nil
}

// Validate reports every violation of the schema, or nil.
func Validate(t Template, vars Variables) error {
	_, err := Bind(t, vars)
	return err
}

// Format produces the pipe-joined positional string sent to the gateway.
// A template with no variables formats to "".
func Format(t Template, vars Variables) (string, error) {
	values, err := Bind(t, vars)
	if err != nil {
		return "", err
	}
	return values.Wire(), nil
}
