package driver

import "strings"

// Span is a run of SQL text. Code spans lie outside quoted strings, quoted
// identifiers, comments and dollar-quoted bodies; only they may hold
// placeholders.
type Span struct {
	Text string
	Code bool
}

// SplitSQL splits text into alternating code and non-code spans.
// Concatenating the spans yields text. Unterminated literals and comments run
// to the end of text.
func SplitSQL(text string) []Span {
	var (
		spans []Span
		start int
	)
	emit := func(end int, code bool) {
		if end > start {
			spans = append(spans, Span{Text: text[start:end], Code: code})
		}
		start = end
	}

	for i := 0; i < len(text); {
		c := text[i]
		end := -1
		switch {
		case c == '\'':
			end = quotedEnd(text, i, isEscapeString(text, i))
		case c == '"':
			end = quotedEnd(text, i, false)
		case strings.HasPrefix(text[i:], "--"):
			end = len(text)
			if j := strings.IndexByte(text[i:], '\n'); j >= 0 {
				end = i + j + 1
			}
		case strings.HasPrefix(text[i:], "/*"):
			end = len(text)
			if j := strings.Index(text[i+2:], "*/"); j >= 0 {
				end = i + 2 + j + 2
			}
		case c == '$' && (i == 0 || !isIdentByte(text[i-1])):
			if tag, ok := dollarTag(text[i:]); ok {
				end = len(text)
				if j := strings.Index(text[i+len(tag):], tag); j >= 0 {
					end = i + len(tag) + j + len(tag)
				}
			}
		}
		if end < 0 {
			i++
			continue
		}
		emit(i, true)
		emit(end, false)
		i = end
	}
	emit(len(text), true)
	return spans
}

// quotedEnd returns the index just past the literal opened at text[i].
// Doubled quotes stay inside the literal, and so do backslash escapes when
// escapes is set.
func quotedEnd(text string, i int, escapes bool) int {
	q := text[i]
	for j := i + 1; j < len(text); j++ {
		switch {
		case escapes && text[j] == '\\':
			j++
		case text[j] == q && j+1 < len(text) && text[j+1] == q:
			j++
		case text[j] == q:
			return j + 1
		}
	}
	return len(text)
}

// isEscapeString reports whether the quote at text[i] opens an E'...' string.
func isEscapeString(text string, i int) bool {
	if i == 0 || (text[i-1] != 'E' && text[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentByte(text[i-2])
}

// dollarTag reads a $tag$ or $$ opener at the start of s. $1 is a positional
// parameter, not a tag.
func dollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		isDigit := c >= '0' && c <= '9'
		if !isIdentByte(c) || (isDigit && j == 1) {
			return "", false
		}
	}
	return "", false
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80
}
