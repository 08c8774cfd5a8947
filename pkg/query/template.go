// Package query renders ${name} placeholders into query text and screens the
// result before it is sent to a datasource.
package query

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// placeholderRegex matches ${parameter_name} placeholders in query templates.
// Names must start with a letter or underscore, followed by any number of
// alphanumeric characters or underscores.
var placeholderRegex = regexp.MustCompile(`\$\{([a-zA-Z_]\w*)\}`)

// NullLiteral is rendered for parameters absent from the supplied map.
const NullLiteral = "NULL"

// ExtractPlaceholders finds all ${param} placeholders and returns a
// deduplicated list of names in order of first appearance.
//
// Example:
//
//	names := ExtractPlaceholders("SELECT * FROM orders WHERE id = ${id} OR ref = ${id}")
//	// names == []string{"id"}
func ExtractPlaceholders(text string) []string {
	matches := placeholderRegex.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var names []string

	for _, match := range matches {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	return names
}

// Render substitutes every ${param} occurrence with the rendered form of its
// bound value. Rendering is type-directed:
//
//   - numeric values render unquoted as their literal text
//   - every other non-nil value renders as a single-quoted string
//   - a parameter missing from the map (or bound to nil) renders as NULL
//
// Quotes inside string values are NOT escaped. A value containing a single
// quote can break out of the literal; this is a documented limitation of the
// naive substitution mode, mitigated (not fixed) by ScreenParameters and
// Validate. Mismatched "${" without a closing "}" is left verbatim.
//
// Rendering is deterministic: the same template and parameter map always
// produce byte-identical output.
func Render(text string, params map[string]any) string {
	return placeholderRegex.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		value, ok := params[name]
		if !ok {
			return NullLiteral
		}
		return renderValue(value)
	})
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return NullLiteral
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return fmt.Sprint(val)
	case json.Number:
		return val.String()
	default:
		return "'" + fmt.Sprint(val) + "'"
	}
}
