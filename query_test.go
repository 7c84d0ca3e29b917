package pgts

import (
	"context"
	"errors"
	"testing"

	"github.com/dleclere/pg-ts/driver"
)

type unitRow struct {
	Code string `db:"code"`
	Name string `db:"name"`
}

func TestQueryOne(t *testing.T) {
	fp := &fakePool{script: rowsFor("SELECT", driver.Row{"code": "kg", "name": "kilogram"})}

	var got unitRow
	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		var err error
		got, err = QueryOne[unitRow](ctx, conn, SQL("SELECT code, name FROM units WHERE code = ?", "kg"))
		return err
	})
	if err != nil {
		t.Fatalf("QueryOne failed: %v", err)
	}
	if got.Code != "kg" || got.Name != "kilogram" {
		t.Errorf("Unexpected row %+v", got)
	}

	stmts := fp.statements
	if len(stmts) != 1 || stmts[0].Text != "SELECT code, name FROM units WHERE code = $1" || stmts[0].Values[0] != "kg" {
		t.Errorf("Unexpected statements %+v", stmts)
	}
}

func TestQueryOne_RowCount(t *testing.T) {
	tests := []struct {
		name         string
		rows         []driver.Row
		wantReceived string
		wantNotFound bool
	}{
		{"no rows", nil, "0", true},
		{"two rows", []driver.Row{{"code": "kg"}, {"code": "g"}}, "> 1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakePool{script: rowsFor("SELECT", tt.rows...)}

			err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
				_, err := QueryOne[unitRow](ctx, conn, SQL("SELECT * FROM units"), WithAnnotation("lookup"))
				return err
			})

			var rcErr *RowCountError
			if !errors.As(err, &rcErr) {
				t.Fatalf("Expected *RowCountError, got %v", err)
			}
			if rcErr.Received != tt.wantReceived || rcErr.Annotation != "lookup" {
				t.Errorf("Unexpected error %+v", rcErr)
			}
			if IsNotFound(err) != tt.wantNotFound {
				t.Errorf("IsNotFound = %v, want %v", IsNotFound(err), tt.wantNotFound)
			}
		})
	}
}

func TestQueryNone(t *testing.T) {
	fp := &fakePool{}
	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		return QueryNone(ctx, conn, SQL("DELETE FROM units WHERE code = ?", "kg"))
	})
	if err != nil {
		t.Fatalf("QueryNone failed: %v", err)
	}

	fp = &fakePool{script: rowsFor("DELETE", driver.Row{"code": "kg"})}
	err = withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		return QueryNone(ctx, conn, SQL("DELETE FROM units RETURNING code"))
	})
	if !IsRowCountError(err) {
		t.Errorf("Expected *RowCountError, got %v", err)
	}
}

func TestQueryOneOrMore(t *testing.T) {
	fp := &fakePool{script: rowsFor("SELECT", driver.Row{"code": "kg"}, driver.Row{"code": "g"})}

	var got []string
	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		var err error
		got, err = QueryOneOrMore[string](ctx, conn, SQL("SELECT code FROM units"))
		return err
	})
	if err != nil {
		t.Fatalf("QueryOneOrMore failed: %v", err)
	}
	if len(got) != 2 || got[0] != "kg" || got[1] != "g" {
		t.Errorf("Expected rows in engine order, got %v", got)
	}

	fp = &fakePool{}
	err = withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		_, err := QueryOneOrMore[string](ctx, conn, SQL("SELECT code FROM units"))
		return err
	})
	if !IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestQueryOneOrNone(t *testing.T) {
	fp := &fakePool{}
	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		got, err := QueryOneOrNone[unitRow](ctx, conn, SQL("SELECT * FROM units"))
		if got != nil {
			t.Errorf("Expected nil, got %+v", got)
		}
		return err
	})
	if err != nil {
		t.Fatalf("QueryOneOrNone failed: %v", err)
	}

	fp = &fakePool{script: rowsFor("SELECT", driver.Row{"code": "kg", "name": "kilogram"})}
	err = withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		got, err := QueryOneOrNone[unitRow](ctx, conn, SQL("SELECT * FROM units"))
		if err == nil && (got == nil || got.Code != "kg") {
			t.Errorf("Unexpected row %+v", got)
		}
		return err
	})
	if err != nil {
		t.Fatalf("QueryOneOrNone failed: %v", err)
	}

	fp = &fakePool{script: rowsFor("SELECT", driver.Row{"code": "kg"}, driver.Row{"code": "g"})}
	err = withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		_, err := QueryOneOrNone[unitRow](ctx, conn, SQL("SELECT * FROM units"))
		return err
	})
	if !IsRowCountError(err) || IsNotFound(err) {
		t.Errorf("Expected too many rows, got %v", err)
	}
}

func TestQueryAny_EmptyIsNotNil(t *testing.T) {
	fp := &fakePool{}
	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		got, err := QueryAny[unitRow](ctx, conn, SQL("SELECT * FROM units"))
		if got == nil || len(got) != 0 {
			t.Errorf("Expected empty non-nil slice, got %#v", got)
		}
		return err
	})
	if err != nil {
		t.Fatalf("QueryAny failed: %v", err)
	}
}

func TestQuery_ValidationError(t *testing.T) {
	fp := &fakePool{script: rowsFor("SELECT",
		driver.Row{"code": "kg", "name": 1},
		driver.Row{"name": "gram"},
	)}

	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		_, err := QueryAny[unitRow](ctx, conn, SQL("SELECT * FROM units"), WithAnnotation(42))
		return err
	})

	var rvErr *RowValidationError
	if !errors.As(err, &rvErr) {
		t.Fatalf("Expected *RowValidationError, got %v", err)
	}
	if rvErr.Shape != "pgts.unitRow" || rvErr.Annotation != 42 {
		t.Errorf("Unexpected error %+v", rvErr)
	}
	if len(rvErr.FieldErrors) != 2 {
		t.Errorf("Expected an error per bad field, got %v", rvErr.FieldErrors)
	}
}

func TestQuery_DriverError(t *testing.T) {
	boom := errors.New("boom")
	fp := &fakePool{script: func(context.Context, driver.Statement) (*driver.Result, error) {
		return nil, boom
	}}

	stmt := SQL("SELECT * FROM units WHERE code = ?", "kg")
	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		_, err := QueryOne[unitRow](ctx, conn, stmt, WithAnnotation("lookup"))
		return err
	})

	var dqe *DriverQueryError
	if !errors.As(err, &dqe) {
		t.Fatalf("Expected *DriverQueryError, got %v", err)
	}
	if !errors.Is(err, boom) || dqe.Statement.Text != stmt.Text || dqe.Annotation != "lookup" {
		t.Errorf("Unexpected error %+v", dqe)
	}
}

func TestQuery_CamelCaseKeys(t *testing.T) {
	type camelRow struct {
		UnitCode string `db:"unitCode"`
	}

	fp := &fakePool{script: rowsFor("SELECT", driver.Row{"unit_code": "kg"})}
	camel := func(c *Config) { c.CamelCaseKeys = true }

	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		got, err := QueryOne[map[string]any](ctx, conn, SQL("SELECT unit_code FROM units"))
		if err != nil {
			return err
		}
		if got["unitCode"] != "kg" {
			t.Errorf("Expected camel-cased key, got %v", got)
		}

		raw, err := QueryOne[map[string]any](ctx, conn, SQL("SELECT unit_code FROM units"), WithoutTransform())
		if err != nil {
			return err
		}
		if raw["unit_code"] != "kg" {
			t.Errorf("Expected raw key, got %v", raw)
		}

		typed, err := QueryOne[camelRow](ctx, conn, SQL("SELECT unit_code FROM units"))
		if err != nil {
			return err
		}
		if typed.UnitCode != "kg" {
			t.Errorf("Unexpected row %+v", typed)
		}
		return nil
	}, camel)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
}

func TestQuery_TransformerRunsBeforeContract(t *testing.T) {
	fp := &fakePool{script: rowsFor("SELECT",
		driver.Row{"code": "kg", "name": "kilogram"},
		driver.Row{"code": "g", "name": "gram"},
	)}
	firstOnly := func(rows []Row) []Row { return rows[:1] }

	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		_, err := QueryOne[unitRow](ctx, conn, SQL("SELECT * FROM units"), WithTransformer(firstOnly))
		return err
	})
	if err != nil {
		t.Errorf("Expected contract to see transformed rows, got %v", err)
	}
}

func TestConnection_UseAfterRelease(t *testing.T) {
	fp := &fakePool{}

	var leaked *Connection
	err := withConn(t, fp, func(ctx context.Context, conn *Connection) error {
		leaked = conn
		return nil
	})
	if err != nil {
		t.Fatalf("WithConnection failed: %v", err)
	}
	if !leaked.Released() {
		t.Fatal("Expected connection to be released")
	}

	_, err = QueryAny[unitRow](context.Background(), leaked, SQL("SELECT 1"))
	if !errors.Is(err, ErrConnectionReleased) {
		t.Errorf("Expected ErrConnectionReleased, got %v", err)
	}
	if len(fp.statements) != 0 {
		t.Errorf("Expected nothing to reach the driver, got %v", fp.texts())
	}

	leaked.Release(errors.New("again"))
	if fp.releases != 1 {
		t.Errorf("Expected a single release, got %d", fp.releases)
	}
}
