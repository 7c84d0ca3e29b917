package pgts

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrCopyColumns is returned by CopyRows when a row does not have one value
// per column.
var ErrCopyColumns = errors.New("pgts: copy row length does not match columns")

// CopyRows bulk loads rows into table using COPY ... FROM STDIN in text
// format. Each row holds one value per column, in order. nil is loaded as
// NULL. The number of rows copied is returned.
//
// Usage:
//
//	n, err := pgts.CopyRows(ctx, conn, "public.units", []string{"code", "name"}, [][]any{
//		{"kg", "kilogram"},
//		{"m", "metre"},
//	})
func CopyRows(ctx context.Context, conn *Connection, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("%w: row %d has %d values, want %d", ErrCopyColumns, i, len(row), len(columns))
		}
	}

	var (
		done    = make(chan struct{})
		started bool
	)
	source := func() (io.Reader, error) {
		pr, pw := io.Pipe()
		started = true
		go func() {
			defer close(done)
			pw.CloseWithError(writeCopyText(pw, rows))
		}()
		return pr, nil
	}

	n, err := conn.CopyFrom(ctx, copyStatement(table, columns), source)
	if started {
		// The pipe reader is closed by now, so the writer cannot block.
		<-done
	}
	return n, err
}

func copyStatement(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("COPY ")
	b.WriteString(pgx.Identifier(strings.Split(table, ".")).Sanitize())
	if len(columns) > 0 {
		b.WriteString(" (")
		for i, col := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgx.Identifier{col}.Sanitize())
		}
		b.WriteString(")")
	}
	b.WriteString(" FROM STDIN")
	return b.String()
}

func writeCopyText(w io.Writer, rows [][]any) error {
	bw := bufio.NewWriter(w)
	for _, row := range rows {
		for i, v := range row {
			if i > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(copyValue(v))
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// copyFloat spells infinities the way PostgreSQL float input expects them.
func copyFloat(f float64, bitSize int) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, bitSize)
}

var copyEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
)

// copyValue renders v as a COPY text field.
func copyValue(v any) string {
	switch x := v.(type) {
	case nil:
		return `\N`
	case string:
		return copyEscaper.Replace(x)
	case []byte:
		if x == nil {
			return `\N`
		}
		// bytea hex input, with the backslash escaped for COPY
		return `\\x` + hex.EncodeToString(x)
	case bool:
		if x {
			return "t"
		}
		return "f"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return copyFloat(x, 64)
	case float32:
		return copyFloat(float64(x), 32)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return `\N`
		}
		return copyValue(rv.Elem().Interface())
	}
	return copyEscaper.Replace(fmt.Sprint(v))
}
