package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/notifykit/notifykit/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([\w$][\w$.-]*)\s*\}\}`)

// Compile substitutes {{ dotted.key }} placeholders in text with values
// looked up in a flattened view of context.
//
// Text without placeholders is returned unchanged for any context. When
// placeholders are present, context must be a non-nil keyed mapping;
// anything else fails with ErrValidation. Keys that do not resolve
// substitute as the empty string.
func Compile(text string, context any) (string, error) {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	if context == nil {
		return "", fmt.Errorf("%w: template has placeholders but no context was provided", domain.ErrValidation)
	}

	mapping, ok := context.(map[string]any)
	if !ok {
		switch context.(type) {
		case []any:
			return "", fmt.Errorf("%w: template context must be a key-value mapping, got an array", domain.ErrValidation)
		default:
			return "", fmt.Errorf("%w: template context must be a key-value mapping, got %T", domain.ErrValidation, context)
		}
	}

	flat := Flatten(mapping)

	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		return flat[key]
	}), nil
}

// Flatten collapses a nested mapping into dotted keys, e.g.
// {"world": {"value": "x"}} becomes {"world.value": "x"}. Leaf values are
// rendered with fmt.Sprint; nil leaves render empty.
func Flatten(mapping map[string]any) map[string]string {
	flat := make(map[string]string, len(mapping))
	flattenInto(flat, "", mapping)
	return flat
}

func flattenInto(flat map[string]string, prefix string, mapping map[string]any) {
	for key, value := range mapping {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		switch v := value.(type) {
		case map[string]any:
			flattenInto(flat, path, v)
		case nil:
			flat[path] = ""
		case string:
			flat[path] = v
		default:
			flat[path] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
}
