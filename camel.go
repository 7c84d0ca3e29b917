package pgts

import (
	"strings"

	"github.com/iancoleman/strcase"
)

// RowTransformer rewrites raw rows before they are checked and decoded.
type RowTransformer func(rows []Row) []Row

// CamelOptions customizes MakeCamelCaser.
type CamelOptions struct {
	// Exclude reports keys that are kept as is. Defaults to keys starting
	// with an underscore.
	Exclude func(key string) bool
	// KeyMapper renames a key. Defaults to CamelCase.
	KeyMapper func(key string) string
}

// CamelCaseRows renames the keys of every row, and of maps nested in them,
// to lowerCamelCase.
var CamelCaseRows = MakeCamelCaser(CamelOptions{})

// MakeCamelCaser builds a RowTransformer from opts.
func MakeCamelCaser(opts CamelOptions) RowTransformer {
	if opts.Exclude == nil {
		opts.Exclude = func(key string) bool { return strings.HasPrefix(key, "_") }
	}
	if opts.KeyMapper == nil {
		opts.KeyMapper = CamelCase
	}

	var transform func(v any) any
	mapKeys := func(m map[string]any) map[string]any {
		out := make(map[string]any, len(m))
		for k, v := range m {
			if !opts.Exclude(k) {
				k = opts.KeyMapper(k)
			}
			out[k] = transform(v)
		}
		return out
	}
	transform = func(v any) any {
		switch x := v.(type) {
		case map[string]any:
			return mapKeys(x)
		case []any:
			out := make([]any, len(x))
			for i, e := range x {
				out[i] = transform(e)
			}
			return out
		case []map[string]any:
			out := make([]map[string]any, len(x))
			for i, e := range x {
				out[i] = mapKeys(e)
			}
			return out
		}
		return v
	}

	return func(rows []Row) []Row {
		out := make([]Row, len(rows))
		for i, row := range rows {
			out[i] = mapKeys(row)
		}
		return out
	}
}

// CamelCase converts snake_case, kebab-case, spaced and PascalCase keys to
// lowerCamelCase. Digits end a word, so unit2code becomes unit2Code.
func CamelCase(s string) string {
	return strcase.ToLowerCamel(s)
}
