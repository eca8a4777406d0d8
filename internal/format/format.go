// SPDX-License-Identifier: MIT

// Package format renders brace-placeholder templates. SQL templates and
// Graphite path templates use the same syntax: {name} substitutes a value,
// {{ and }} produce literal braces.
package format

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPlaceholder is returned when the template names a placeholder
// with no value.
var ErrUnknownPlaceholder = errors.New("unknown placeholder")

// Expand substitutes every {name} in template with values[name].
func Expand(template string, values map[string]string) (string, error) {
	var out strings.Builder
	out.Grow(len(template))

	for i := 0; i < len(template); i++ {
		switch c := template[i]; c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				out.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			name := template[i+1 : i+1+end]
			value, ok := values[name]
			if !ok {
				return "", fmt.Errorf("%w: %q", ErrUnknownPlaceholder, name)
			}
			out.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				out.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("single '}' at offset %d", i)
		default:
			out.WriteByte(c)
		}
	}
	return out.String(), nil
}
