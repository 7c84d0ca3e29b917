package pgts

import (
	"context"
	"reflect"
)

// QueryOption configures a single query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	annotation  any
	transformer RowTransformer
}

// WithAnnotation attaches a diagnostic value to every error of the query.
func WithAnnotation(v any) QueryOption {
	return func(o *queryOptions) {
		o.annotation = v
	}
}

// WithTransformer rewrites rows before they are checked and decoded,
// replacing the connection default.
func WithTransformer(fn RowTransformer) QueryOption {
	return func(o *queryOptions) {
		o.transformer = fn
	}
}

// WithoutTransform decodes the rows exactly as returned by the driver.
func WithoutTransform() QueryOption {
	return WithTransformer(nil)
}

func (c *Connection) queryOptions(opts []QueryOption) queryOptions {
	o := queryOptions{transformer: c.transformer}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// fetch runs stmt, transforms the rows and enforces contract.
func fetch(ctx context.Context, conn *Connection, contract RowCount, stmt Statement, o queryOptions) ([]Row, error) {
	res, err := conn.Query(ctx, stmt, o.annotation)
	if err != nil {
		return nil, err
	}

	rows := res.Rows
	if o.transformer != nil {
		rows = o.transformer(rows)
	}

	if err := contract.Check(len(rows), stmt, o.annotation); err != nil {
		return nil, err
	}
	return rows, nil
}

// decode validates rows against T. value is reported as the offending value.
func decode[T any](rows []Row, value any, o queryOptions) ([]T, error) {
	out, fieldErrs := decodeRows[T](rows)
	if len(fieldErrs) > 0 {
		return nil, &RowValidationError{
			Shape:       reflect.TypeOf((*T)(nil)).Elem().String(),
			Value:       value,
			Annotation:  o.annotation,
			FieldErrors: fieldErrs,
		}
	}
	return out, nil
}

// QueryNone runs stmt and fails with *RowCountError if it returns rows.
func QueryNone(ctx context.Context, conn *Connection, stmt Statement, opts ...QueryOption) error {
	_, err := fetch(ctx, conn, None, stmt, conn.queryOptions(opts))
	return err
}

// QueryOne runs stmt and decodes its only row into T. Zero or several rows
// fail with *RowCountError.
func QueryOne[T any](ctx context.Context, conn *Connection, stmt Statement, opts ...QueryOption) (T, error) {
	var zero T
	o := conn.queryOptions(opts)

	rows, err := fetch(ctx, conn, One, stmt, o)
	if err != nil {
		return zero, err
	}
	out, err := decode[T](rows, rows[0], o)
	if err != nil {
		return zero, err
	}
	return out[0], nil
}

// QueryOneOrMore runs stmt and decodes its rows into T, in the order
// returned. No rows fail with *RowCountError.
func QueryOneOrMore[T any](ctx context.Context, conn *Connection, stmt Statement, opts ...QueryOption) ([]T, error) {
	o := conn.queryOptions(opts)

	rows, err := fetch(ctx, conn, OneOrMore, stmt, o)
	if err != nil {
		return nil, err
	}
	return decode[T](rows, rows, o)
}

// QueryOneOrNone runs stmt and decodes its row into T, or returns nil when
// there is none. Several rows fail with *RowCountError.
func QueryOneOrNone[T any](ctx context.Context, conn *Connection, stmt Statement, opts ...QueryOption) (*T, error) {
	o := conn.queryOptions(opts)

	rows, err := fetch(ctx, conn, OneOrNone, stmt, o)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out, err := decode[T](rows, rows, o)
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// QueryAny runs stmt and decodes all of its rows into T. The result is
// never nil.
func QueryAny[T any](ctx context.Context, conn *Connection, stmt Statement, opts ...QueryOption) ([]T, error) {
	o := conn.queryOptions(opts)

	rows, err := fetch(ctx, conn, Any, stmt, o)
	if err != nil {
		return nil, err
	}
	return decode[T](rows, rows, o)
}
