package bundriver

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dleclere/pg-ts/driver"
	"github.com/dleclere/pg-ts/hooks"
)

func newMockPool(t testing.TB, hs ...hooks.Hook) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New(): %v", err)
	}
	p := New(db, hooks.BunHook(hs...))
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, mock
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		values   []any
		expected string
		args     []any
	}{
		{"no values", "SELECT 1", nil, "SELECT 1", nil},
		{"ordered", "SELECT $1, $2", []any{1, "a"}, "SELECT ?, ?", []any{1, "a"}},
		{"reused", "SELECT $1 WHERE x = $1", []any{5}, "SELECT ? WHERE x = ?", []any{5, 5}},
		{"reordered", "SELECT $2, $1", []any{1, 2}, "SELECT ?, ?", []any{2, 1}},
		{"two digits", "SELECT $10", []any{1, 2, 3, 4, 5, 6, 7, 8, 9, "ten"}, "SELECT ?", []any{"ten"}},
		{"quoted", "SELECT '$1', $1", []any{1}, "SELECT '$1', ?", []any{1}},
		{"escaped quote", "SELECT 'it''s $1', $1", []any{1}, "SELECT 'it''s $1', ?", []any{1}},
		{"identifier", `SELECT "$1" FROM t WHERE a = $1`, []any{1}, `SELECT "$1" FROM t WHERE a = ?`, []any{1}},
		{"question mark", "SELECT data ? 'k' WHERE id = $1", []any{1}, `SELECT data \? 'k' WHERE id = ?`, []any{1}},
		{"out of range", "SELECT $2", []any{1}, "SELECT $2", []any{}},
		{"cast", "SELECT $1::int", []any{1}, "SELECT ?::int", []any{1}},
		{"line comment", "SELECT $1 -- not $1\n", []any{1}, "SELECT ? -- not $1\n", []any{1}},
		{"block comment", "/* $1 */ SELECT $1", []any{1}, "/* $1 */ SELECT ?", []any{1}},
		{"dollar quoted body", "SELECT $fn$ $1 $fn$, $$ $1 $$, $1", []any{1}, "SELECT $fn$ $1 $fn$, $$ $1 $$, ?", []any{1}},
		{"escape string", `SELECT E'\'$1', $1`, []any{1}, `SELECT E'\'$1', ?`, []any{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := Rebind(tt.text, tt.values)
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
			if !reflect.DeepEqual(args, tt.args) {
				t.Errorf("expected args %v, got %v", tt.args, args)
			}
		})
	}
}

func TestConn_Query(t *testing.T) {
	p, mock := newMockPool(t)

	mock.ExpectQuery("SELECT id, name FROM units WHERE code = 'kg'").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "kilogram").
			AddRow(2, "kilogramme"))

	ctx := context.Background()
	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer c.Release(nil)

	res, err := c.Query(ctx, driver.Statement{
		Text:   "SELECT id, name FROM units WHERE code = $1",
		Values: []any{"kg"},
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if !reflect.DeepEqual(res.Columns, []string{"id", "name"}) {
		t.Errorf("unexpected columns %v", res.Columns)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(res.Rows))
	}
	if res.Rows[1]["name"] != "kilogramme" {
		t.Errorf("expected kilogramme, got %v", res.Rows[1]["name"])
	}
	if res.RowsAffected != -1 {
		t.Errorf("expected RowsAffected -1, got %d", res.RowsAffected)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConn_QueryEmpty(t *testing.T) {
	p, mock := newMockPool(t)
	mock.ExpectQuery("DELETE FROM units").WillReturnRows(sqlmock.NewRows(nil))

	ctx := context.Background()
	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer c.Release(nil)

	res, err := c.Query(ctx, driver.Statement{Text: "DELETE FROM units"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Rows == nil || len(res.Rows) != 0 {
		t.Errorf("expected empty non-nil rows, got %#v", res.Rows)
	}
}

func TestConn_QueryError(t *testing.T) {
	p, mock := newMockPool(t)
	boom := errors.New("relation does not exist")
	mock.ExpectQuery("SELECT * FROM missing").WillReturnError(boom)

	ctx := context.Background()
	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer c.Release(nil)

	_, err = c.Query(ctx, driver.Statement{Text: "SELECT * FROM missing"})
	if !errors.Is(err, boom) {
		t.Errorf("expected driver error, got %v", err)
	}
}

func TestConn_Parsers(t *testing.T) {
	p, mock := newMockPool(t)
	p.WithParsers(map[string]driver.Parser{
		"Unit_Code": func(text string) (any, error) { return strings.ToUpper(text), nil },
	})

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("code").OfType("UNIT_CODE", ""),
		sqlmock.NewColumn("name").OfType("TEXT", ""),
	).AddRow("kg", "kilogram")
	mock.ExpectQuery("SELECT code, name FROM units").WillReturnRows(rows)

	ctx := context.Background()
	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer c.Release(nil)

	res, err := c.Query(ctx, driver.Statement{Text: "SELECT code, name FROM units"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Rows[0]["code"] != "KG" {
		t.Errorf("expected parsed KG, got %v", res.Rows[0]["code"])
	}
	if res.Rows[0]["name"] != "kilogram" {
		t.Errorf("expected untouched name, got %v", res.Rows[0]["name"])
	}
}

type recordingHook struct {
	queries []string
}

func (h *recordingHook) BeforeQuery(ctx context.Context, event *hooks.Event) context.Context {
	h.queries = append(h.queries, event.Query)
	return ctx
}

func (h *recordingHook) AfterQuery(context.Context, *hooks.Event) {}

func TestConn_QueryRunsHooks(t *testing.T) {
	h := &recordingHook{}
	p, mock := newMockPool(t, h)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	ctx := context.Background()
	c, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer c.Release(nil)

	if _, err := c.Query(ctx, driver.Statement{Text: "SELECT 1"}); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(h.queries) != 1 || h.queries[0] != "SELECT 1" {
		t.Errorf("expected hook to see SELECT 1, got %v", h.queries)
	}
}

func TestConn_Release(t *testing.T) {
	tests := []struct {
		name     string
		reason   error
		expected sql.DBStats
	}{
		{"clean", nil, sql.DBStats{OpenConnections: 1, Idle: 1}},
		{"poisoned", errors.New("rollback failed"), sql.DBStats{OpenConnections: 0, Idle: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newMockPool(t)

			c, err := p.Acquire(context.Background())
			if err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}
			c.Release(tt.reason)

			s := p.Bun().Stats()
			if s.OpenConnections != tt.expected.OpenConnections || s.Idle != tt.expected.Idle {
				t.Errorf("expected open=%d idle=%d, got open=%d idle=%d",
					tt.expected.OpenConnections, tt.expected.Idle, s.OpenConnections, s.Idle)
			}
		})
	}
}

func TestPool_CloseIdempotent(t *testing.T) {
	p, mock := newMockPool(t)
	mock.ExpectClose()

	if p.Ending() {
		t.Error("new pool should not be ending")
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !p.Ending() {
		t.Error("closed pool should be ending")
	}
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestOpen_RequiresURL(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
}
