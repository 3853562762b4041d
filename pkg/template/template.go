// Package template renders strings and evaluates boolean conditions against
// a read-only view of execution context. The marker pair {{ }} is the
// universal template delimiter: strings without it pass through untouched,
// emission conditions without it are semantic descriptions for model-based
// signal selection and are never evaluated here.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/soehq/soe/pkg/models"
)

// View is the read-only evaluation scope: top-level names context and
// result, plus the accumulated function backed by the field histories.
type View struct {
	context   map[string]any
	result    any
	hasResult bool
	source    *models.Context
}

// ViewFor builds a view over the context's current values merged with
// __operational__ (and __parent__ when present).
func ViewFor(c *models.Context) View {
	return View{context: c.OperationalView(), source: c}
}

// WithResult returns a copy of the view exposing a tool's raw return value
// under the top-level name result.
func (v View) WithResult(result any) View {
	v.result = result
	v.hasResult = true
	return v
}

func (v View) data() map[string]any {
	data := map[string]any{"context": v.context}
	if v.hasResult {
		data["result"] = v.result
	}
	return data
}

func (v View) funcs() template.FuncMap {
	return template.FuncMap{
		// accumulated returns the full history list of a field:
		// {{ len (accumulated "items") }}
		"accumulated": func(field string) []any {
			if v.source == nil {
				return []any{}
			}
			return v.source.Accumulated(field)
		},
		// defined reports field presence without tripping on nil values:
		// {{ if defined "data" }}...{{ end }}
		"defined": func(field string) bool {
			if v.source == nil {
				_, ok := v.context[field]
				return ok
			}
			return v.source.Has(field)
		},
		"toJson": func(value any) string {
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Sprintf("%v", value)
			}
			return string(data)
		},
	}
}

// IsTemplate reports whether a string carries the template delimiters.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

var contextRefPattern = regexp.MustCompile(`\{\{[^}]*\.context\.([a-zA-Z_][a-zA-Z0-9_]*)`)

// ReferencedFields extracts the context field names a template reads.
func ReferencedFields(tmpl string) []string {
	seen := map[string]bool{}
	var fields []string
	for _, m := range contextRefPattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			fields = append(fields, m[1])
		}
	}
	return fields
}

// Render renders a template against the view. Strings without delimiters
// pass through unchanged. Referenced-but-missing context fields are
// reported as warnings, never as failures; they render empty.
func Render(tmpl string, view View) (string, []string, error) {
	if !IsTemplate(tmpl) {
		return tmpl, nil, nil
	}

	var warnings []string
	for _, field := range ReferencedFields(tmpl) {
		if _, ok := view.context[field]; !ok {
			warnings = append(warnings, fmt.Sprintf("context field %q referenced but not found in context", field))
		}
	}

	t, err := template.New("render").Funcs(view.funcs()).Option("missingkey=default").Parse(tmpl)
	if err != nil {
		return "", warnings, fmt.Errorf("parse template %q: %w", tmpl, err)
	}

	var buf strings.Builder
	if err := t.Execute(&buf, view.data()); err != nil {
		return "", warnings, fmt.Errorf("execute template %q: %w", tmpl, err)
	}
	return strings.ReplaceAll(buf.String(), "<no value>", ""), warnings, nil
}

// falsy rendered outputs, matching how missing and empty values print.
var falsyOutputs = map[string]bool{
	"":           true,
	"false":      true,
	"0":          true,
	"none":       true,
	"nil":        true,
	"null":       true,
	"<no value>": true,
}

// Truthy renders a condition template and folds the output to a boolean.
func Truthy(condition string, view View) (bool, error) {
	rendered, _, err := Render(condition, view)
	if err != nil {
		return false, err
	}
	return !falsyOutputs[strings.ToLower(strings.TrimSpace(rendered))], nil
}

// EvaluateEmissions filters event emissions programmatically: entries
// without a condition always pass, template conditions pass when truthy,
// and semantic (plain text) conditions never pass here.
func EvaluateEmissions(emissions []models.Emission, view View) ([]string, error) {
	var signals []string
	for _, e := range emissions {
		if e.SignalName == "" {
			continue
		}
		switch {
		case e.Condition == "":
			signals = append(signals, e.SignalName)
		case models.IsTemplateCondition(e.Condition):
			ok, err := Truthy(e.Condition, view)
			if err != nil {
				return nil, fmt.Errorf("emission %q: %w", e.SignalName, err)
			}
			if ok {
				signals = append(signals, e.SignalName)
			}
		}
	}
	return signals, nil
}

// RenderValue renders template strings inside an arbitrary parameter value,
// walking maps and lists; non-strings pass through.
func RenderValue(value any, view View) (any, error) {
	switch t := value.(type) {
	case string:
		if !IsTemplate(t) {
			return t, nil
		}
		rendered, _, err := Render(t, view)
		return rendered, err
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			rendered, err := RenderValue(v, view)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			rendered, err := RenderValue(v, view)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}
