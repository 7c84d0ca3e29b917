package bundriver

import (
	"strings"

	"github.com/dleclere/pg-ts/driver"
)

// Rebind converts $n placeholders into the positional ? placeholders bun
// formats, expanding values in order of occurrence. Literal question marks
// are escaped everywhere since bun's formatter does not track quoting.
// Placeholders inside quoted strings, identifiers, comments and dollar-quoted
// bodies are not touched.
func Rebind(text string, values []any) (string, []any) {
	if len(values) == 0 {
		return text, nil
	}

	var (
		b    strings.Builder
		args = make([]any, 0, len(values))
	)
	b.Grow(len(text) + 8)

	for _, span := range driver.SplitSQL(text) {
		s := span.Text
		for i := 0; i < len(s); i++ {
			ch := s[i]
			if ch == '?' {
				b.WriteString(`\?`)
				continue
			}
			if ch != '$' || !span.Code {
				b.WriteByte(ch)
				continue
			}

			j := i + 1
			n := 0
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				n = n*10 + int(s[j]-'0')
				j++
			}
			if j == i+1 || n < 1 || n > len(values) {
				b.WriteByte(ch)
				continue
			}
			b.WriteByte('?')
			args = append(args, values[n-1])
			i = j - 1
		}
	}

	return b.String(), args
}
