package expression

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	wferrors "github.com/tombee/conductor/pkg/errors"
)

// Lookup resolves a dotted path to a value. Implementations define the
// precedence order used when a path could mean more than one thing (for the
// workflow context this is: built-ins, then variables, then step results).
type Lookup interface {
	Resolve(path string) (interface{}, bool)
}

// MapLookup resolves paths against an ordered list of maps, returning the
// first hit. Earlier maps take precedence over later ones.
type MapLookup struct {
	Layers []map[string]interface{}
}

// Resolve walks a dot-separated path (e.g. "steps.fetch.status") against each
// layer in order, navigating nested maps. The first layer containing the
// full path wins.
func (m MapLookup) Resolve(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	for _, layer := range m.Layers {
		if v, ok := resolveParts(layer, parts); ok {
			return v, true
		}
	}
	return nil, false
}

func resolveParts(root map[string]interface{}, parts []string) (interface{}, bool) {
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

// Interpolate scans s for `{{ expr }}` tokens and replaces each with the
// stringified result of resolving expr against lookup. Unlike the condition
// evaluator, this is a plain byte scanner with no support for operators,
// nested braces, or escaping: the first "}}" after an opening "{{" always
// closes the token, and the content between them is trimmed and treated as a
// single dotted path or built-in name.
//
// A template containing no "{{" is returned unmodified without allocating.
func Interpolate(s string, lookup Lookup) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))

	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])

		afterOpen := rest[start+2:]
		end := strings.Index(afterOpen, "}}")
		if end < 0 {
			return "", &wferrors.InterpolationError{
				Expression: rest[start:],
				Reason:     "unterminated {{ }} token",
			}
		}

		expr := strings.TrimSpace(afterOpen[:end])
		value, err := resolveToken(expr, lookup)
		if err != nil {
			return "", err
		}
		b.WriteString(stringify(value))

		rest = afterOpen[end+2:]
	}

	return b.String(), nil
}

// resolveToken resolves a single trimmed {{ }} payload: a built-in name or a
// dotted path into variables/step results.
func resolveToken(expr string, lookup Lookup) (interface{}, error) {
	if expr == "" {
		return nil, &wferrors.InterpolationError{Expression: expr, Reason: "empty expression"}
	}

	if v, ok := builtin(expr); ok {
		return v, nil
	}

	if lookup != nil {
		if v, ok := lookup.Resolve(expr); ok {
			return v, nil
		}
	}

	return nil, &wferrors.InterpolationError{Expression: expr, Reason: "not found in built-ins, variables, or step results"}
}

// builtin resolves the small set of always-available names, checked before
// variables or step results (built-ins win on name collision).
func builtin(name string) (interface{}, bool) {
	switch name {
	case "now":
		return time.Now().UTC().Format(time.RFC3339), true
	case "today":
		return time.Now().UTC().Format("2006-01-02"), true
	default:
		return nil, false
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
