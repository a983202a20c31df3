// Package template implements the reply template dialect: {{name}} scalar
// substitution and a single level of {{#each list}}…{{/each}} iteration.
// The dialect is deliberately non-Turing-complete (no conditionals, no
// nesting), so rendering is a two-pass string scan rather than a parser.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Scope holds the variables visible to a template: wizard vars, sql_query
// results, and the implicit bot/user bindings.
type Scope map[string]any

// ErrUnknownDirective is returned when a template uses a block directive
// other than #each. The rendered text is still usable: the offending
// directive is stripped and the rest of the template renders normally.
var ErrUnknownDirective = errors.New("unknown template directive")

var (
	eachRe    = regexp.MustCompile(`\{\{#each\s+([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
	scalarRe  = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)
	unknownRe = regexp.MustCompile(`\{\{#([A-Za-z_][A-Za-z0-9_]*)[^}]*\}\}`)
)

const eachClose = "{{/each}}"

// Render expands tmpl against scope. emptyText, when non-empty, is returned
// verbatim if the template contains {{#each}} blocks and every iterated
// collection resolves to nothing (missing, empty, or not a list).
//
// A non-nil error reports an unknown directive; the returned string is then
// the template rendered with the directive removed.
func Render(tmpl, emptyText string, scope Scope) (string, error) {
	var renderErr error

	tmpl, stripped := stripUnknownDirectives(tmpl)
	if stripped {
		renderErr = ErrUnknownDirective
	}

	out, sawEach, sawRows := expandEach(tmpl, scope)
	if sawEach && !sawRows && emptyText != "" {
		return emptyText, renderErr
	}

	return expandScalars(out, scope), renderErr
}

// expandEach runs the first pass: every {{#each name}}…{{/each}} block is
// replaced by its body rendered once per element. Element keys shadow the
// outer scope inside the block. The first {{/each}} closes the block; nested
// loops are not supported.
func expandEach(tmpl string, scope Scope) (out string, sawEach, sawRows bool) {
	var b strings.Builder
	rest := tmpl
	for {
		loc := eachRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			return b.String(), sawEach, sawRows
		}
		sawEach = true
		b.WriteString(rest[:loc[0]])
		name := rest[loc[2]:loc[3]]
		tail := rest[loc[1]:]

		end := strings.Index(tail, eachClose)
		if end < 0 {
			// Unterminated block: drop the opener and keep going.
			rest = tail
			continue
		}
		body := tail[:end]
		rest = tail[end+len(eachClose):]

		for _, row := range listValue(scope[name]) {
			sawRows = true
			b.WriteString(expandScalarsRow(body, row, scope))
		}
	}
}

// Scalars substitutes {{name}} placeholders only, with no block directives.
// The i18n resolver uses it so translated values share the renderer's scalar
// vocabulary.
func Scalars(s string, scope Scope) string {
	return expandScalars(s, scope)
}

// expandScalars substitutes {{name}} occurrences from scope. Missing names
// render as the empty string. Substitution is single-pass: values containing
// placeholders are not re-expanded.
func expandScalars(tmpl string, scope Scope) string {
	return scalarRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[2 : len(m)-2]
		return scalarString(scope[name])
	})
}

// expandScalarsRow is expandScalars with the element row consulted first.
func expandScalarsRow(tmpl string, row map[string]any, outer Scope) string {
	return scalarRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[2 : len(m)-2]
		if v, ok := row[name]; ok {
			return scalarString(v)
		}
		return scalarString(outer[name])
	})
}

// stripUnknownDirectives removes any {{#name …}} block opener other than
// #each, together with a matching {{/name}} closer if present.
func stripUnknownDirectives(tmpl string) (string, bool) {
	stripped := false
	for {
		loc := unknownRe.FindStringSubmatchIndex(tmpl)
		if loc == nil {
			return tmpl, stripped
		}
		name := tmpl[loc[2]:loc[3]]
		if name == "each" {
			// Skip past this opener; scan the remainder only.
			rest, s := stripUnknownDirectives(tmpl[loc[1]:])
			return tmpl[:loc[1]] + rest, s
		}
		stripped = true
		tmpl = tmpl[:loc[0]] + tmpl[loc[1]:]
		tmpl = strings.Replace(tmpl, "{{/"+name+"}}", "", 1)
	}
}

// listValue coerces the common row-set shapes into a slice of row maps.
// Anything else (scalars, nil, strings) iterates zero times.
func listValue(v any) []map[string]any {
	switch rows := v.(type) {
	case []map[string]any:
		return rows
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if m, ok := r.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// scalarString renders a scalar value the way replies expect: booleans as
// True/False, numbers without exponent notation, timestamps in a compact
// form. Missing and non-scalar values render empty.
func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case fmt.Stringer:
		return x.String()
	default:
		return ""
	}
}
