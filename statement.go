package pgts

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dleclere/pg-ts/driver"
)

// Statement is a parameterized SQL statement using $n placeholders.
type Statement = driver.Statement

// Row is a raw result row keyed by column name.
type Row = driver.Row

// Fragment is a piece of SQL passed as a SQL argument. Raw fragments are
// spliced verbatim. Fragments built by SQLFragment bind their own arguments
// into the enclosing statement.
type Fragment struct {
	text string
	args []any
	raw  bool
}

// Raw marks fragment as trusted SQL text. It is never parameterized, so it
// must not contain user input.
func Raw(fragment string) Fragment {
	return Fragment{text: fragment, raw: true}
}

// SQLFragment builds a parameterized piece of SQL for use as an argument to
// SQL or to another SQLFragment. Its ? placeholders follow the same rules as
// SQL and share the enclosing statement's $n numbering, so a value equal to
// one bound elsewhere in the statement reuses its index.
//
// Usage:
//
//	where := pgts.SQLFragment("kind = ? AND factor > ?", "mass", 1)
//	stmt := pgts.SQL("SELECT * FROM units WHERE code <> ? AND ?", "kg", where)
func SQLFragment(text string, args ...any) Fragment {
	return Fragment{text: text, args: args}
}

// Named asks the backend to prepare stmt under name and reuse the plan.
func Named(name string, stmt Statement) Statement {
	stmt.Name = name
	return stmt
}

// SQL builds a Statement from text with ? placeholders.
//
// Placeholders inside quoted strings, quoted identifiers, comments and
// dollar-quoted bodies are left alone, and ?? yields a literal question mark.
// Arguments are bound as follows:
//
//   - nil and nil pointers render as NULL instead of a placeholder
//   - non-nil pointers are dereferenced
//   - Raw fragments are spliced verbatim
//   - SQLFragment values are expanded in place, binding their own arguments
//   - values deeply equal to an earlier value reuse its $n index; slices are
//     never folded this way
//
// SQL panics when the number of placeholders and arguments differ, as the
// mismatch is a programming error.
func SQL(text string, args ...any) Statement {
	var sb statementBuilder
	sb.b.Grow(len(text) + len(args)*2)
	sb.expand(text, args)
	return Statement{Text: sb.b.String(), Values: sb.values}
}

type statementBuilder struct {
	b      strings.Builder
	values []any
}

func (sb *statementBuilder) expand(text string, args []any) {
	next := 0
	for _, span := range driver.SplitSQL(text) {
		if !span.Code {
			sb.b.WriteString(span.Text)
			continue
		}
		s := span.Text
		for i := 0; i < len(s); i++ {
			switch {
			case s[i] == '?' && i+1 < len(s) && s[i+1] == '?':
				sb.b.WriteByte('?')
				i++
			case s[i] == '?':
				if next >= len(args) {
					panic(fmt.Sprintf("pgts: SQL: more placeholders than the %d argument(s) in %q", len(args), text))
				}
				sb.bind(args[next])
				next++
			default:
				sb.b.WriteByte(s[i])
			}
		}
	}

	if next != len(args) {
		panic(fmt.Sprintf("pgts: SQL: %d placeholder(s) for %d argument(s) in %q", next, len(args), text))
	}
}

func (sb *statementBuilder) bind(v any) {
	if f, ok := v.(Fragment); ok {
		if f.raw {
			sb.b.WriteString(f.text)
			return
		}
		sb.expand(f.text, f.args)
		return
	}

	v, isNull, isSlice := normalize(v)
	if isNull {
		sb.b.WriteString("NULL")
		return
	}

	if !isSlice {
		for i, existing := range sb.values {
			if isSliceValue(existing) {
				continue
			}
			if reflect.DeepEqual(existing, v) {
				sb.b.WriteString("$" + strconv.Itoa(i+1))
				return
			}
		}
	}

	sb.values = append(sb.values, v)
	sb.b.WriteString("$" + strconv.Itoa(len(sb.values)))
}

// normalize dereferences pointers and reports whether v binds as NULL and
// whether it is a slice.
func normalize(v any) (out any, isNull, isSlice bool) {
	if v == nil {
		return nil, true, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, true, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return nil, true, false
	}
	return rv.Interface(), false, rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
}

func isSliceValue(v any) bool {
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}
