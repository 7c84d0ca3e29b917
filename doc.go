/*
Package pgts provides a typed query and transaction layer over PostgreSQL.

pgts wraps a connection pool with a few guarantees:
  - Every checked-out connection is released exactly once
  - Connections whose transaction state is unknown are discarded
  - Query results are checked against a row-count contract
  - Rows are validated and decoded into Go types
  - Transactions always end in exactly one COMMIT or ROLLBACK

Two backends are available: pgx (the default) and bun on database/sql.

# Basic Usage

	cfg := pgts.DefaultConfig(os.Getenv("DATABASE_URL"))
	cfg.Logger = slog.Default()
	cfg.LogSlowQueries = 100 * time.Millisecond

	pool, err := pgts.NewPool(ctx, cfg)
	if err != nil {
	    log.Fatal(err)
	}
	defer pool.End(ctx)

# Statements

Placeholders are written as ? and numbered in order. Equal values share one
parameter; nil becomes NULL. Raw fragments are spliced as text, and
SQLFragment values bind their own arguments into the outer numbering.

	stmt := pgts.SQL("SELECT * FROM units WHERE code = ? OR alias = ?", code, code)
	// SELECT * FROM units WHERE code = $1 OR alias = $1

	order := pgts.SQL("SELECT * FROM units ORDER BY ?", pgts.Raw("name DESC"))

	where := pgts.SQLFragment("kind = ? AND code <> ?", kind, code)
	scoped := pgts.SQL("SELECT * FROM units WHERE alias = ? AND ?", code, where)
	// SELECT * FROM units WHERE alias = $1 AND kind = $2 AND code <> $1

# Queries

	type Unit struct {
	    Code string `db:"code"`
	    Name string `db:"name"`
	}

	unit, err := pgts.WithConnection(ctx, pool, func(ctx context.Context, conn *pgts.Connection) (Unit, error) {
	    return pgts.QueryOne[Unit](ctx, conn, pgts.SQL("SELECT code, name FROM units WHERE code = ?", "kg"))
	})
	if pgts.IsNotFound(err) {
	    // no such unit
	}

QueryNone, QueryOne, QueryOneOrMore, QueryOneOrNone and QueryAny fail with
*RowCountError when the number of rows does not match, and with
*RowValidationError when a row does not fit the target type.

# Transactions

	err := pool.WithConnection(ctx, func(ctx context.Context, conn *pgts.Connection) error {
	    return conn.Transaction(ctx, func(ctx context.Context, conn *pgts.Connection) error {
	        if err := pgts.QueryNone(ctx, conn, pgts.SQL("INSERT INTO units (code) VALUES (?)", "kg")); err != nil {
	            return err // rollback
	        }
	        return nil // commit
	    })
	})

A transaction whose ROLLBACK fails returns *TransactionRollbackError, and the
pool discards the connection instead of reusing it.

# Error Handling

	if err != nil {
	    var qErr *pgts.DriverQueryError
	    if errors.As(err, &qErr) {
	        fmt.Println(qErr.Code)       // DUPLICATE
	        fmt.Println(qErr.Constraint) // units_pkey
	        fmt.Println(qErr.Statement.Text)
	    }
	}
*/
package pgts
