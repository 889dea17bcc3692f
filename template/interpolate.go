// Package template implements the rendering engine: variable interpolation,
// recursive template expansion through xnovu_render calls, a TTL-cached
// loader, per-channel rendering, HTML sanitization, and template validation.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// placeholderRe matches `{{ path }}` occurrences whose inner expression is a
// plain variable path: IDENT ( '.' IDENT | '[' INT ']' )*. Render calls
// (which carry parentheses) deliberately do not match.
var placeholderRe = regexp.MustCompile(
	`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\[[0-9]+\])*)\s*\}\}`)

// Interpolate replaces `{{ path }}` occurrences with the string form of the
// value at path in vars. Missing paths stay as the literal placeholder so a
// downstream template can resupply them. A present nil renders as "null".
func Interpolate(s string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := lookupPath(vars, path)
		if !ok {
			return match
		}
		return stringify(v)
	})
}

// pathSegmentRe splits a path into identifier and index segments.
var pathSegmentRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|\[[0-9]+\]`)

// lookupPath walks vars along the path grammar. The boolean reports whether
// every segment resolved; a resolved nil value returns (nil, true).
func lookupPath(vars map[string]any, path string) (any, bool) {
	segments := pathSegmentRe.FindAllString(path, -1)
	var cur any = vars
	for _, seg := range segments {
		if strings.HasPrefix(seg, "[") {
			idx, err := strconv.Atoi(seg[1 : len(seg)-1])
			if err != nil {
				return nil, false
			}
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// stringify renders a variable value the way templates expect: nil as
// "null", numbers and booleans in their natural form, composites as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
