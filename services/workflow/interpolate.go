package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// Interpolate replaces each {{name}} in template with the variable's string form.
// Names are looked up as flat keys first, then as dot paths into nested values.
// Unresolved placeholders are left untouched.
func Interpolate(template string, variables map[string]any) string {
	if len(variables) == 0 || !placeholderPattern.MatchString(template) {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := lookupPath(variables, name)
		if !ok {
			return match
		}
		return stringify(v)
	})
}

// lookupPath resolves a flat key or a dot-notation path (order.total) against variables.
// Nested maps and slices are walked directly; any other value (a struct, a typed map)
// is resolved through its JSON form for the rest of the path.
func lookupPath(variables map[string]any, path string) (any, bool) {
	if v, ok := variables[path]; ok {
		return v, true
	}

	var cur any = variables
	for rest := path; rest != ""; {
		seg, tail, _ := strings.Cut(rest, ".")
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		case nil:
			return nil, false
		default:
			b, err := json.Marshal(node)
			if err != nil {
				return nil, false
			}
			res := gjson.GetBytes(b, rest)
			if !res.Exists() {
				return nil, false
			}
			return res.Value(), true
		}
		rest = tail
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(t)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// stringParam returns node.Data[key] interpolated, or "" when absent or not a string.
func stringParam(node Node, key string, variables map[string]any) string {
	s, _ := node.Data[key].(string)
	if s == "" {
		return ""
	}
	return Interpolate(s, variables)
}

// requireString is stringParam that fails with MissingParameterError when the field is absent or blank.
func requireString(node Node, key string, variables map[string]any) (string, error) {
	s := stringParam(node, key, variables)
	if s == "" {
		return "", errMissing(node.ID, key)
	}
	return s, nil
}
