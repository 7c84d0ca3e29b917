package pgxdriver

import (
	"context"
	sqldriver "database/sql/driver"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dleclere/pg-ts/driver"
)

// ErrTypeNotFound is returned by Open when a parser names a type that does
// not exist in pg_type.
var ErrTypeNotFound = errors.New("pgxdriver: type not found")

const typeQuery = `SELECT DISTINCT ON (typname) typname, oid, typarray
FROM pg_type
WHERE typname = ANY($1)
ORDER BY typname, oid`

type resolvedType struct {
	name     string
	oid      uint32
	arrayOID uint32
	parse    driver.Parser
}

// resolveTypes looks up the OIDs of the parser types over a short-lived
// session. The first pg_type row per name wins.
func resolveTypes(ctx context.Context, cfg *pgx.ConnConfig, parsers map[string]driver.Parser) ([]resolvedType, error) {
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)

	conn, err := pgx.ConnectConfig(ctx, cfg.Copy())
	if err != nil {
		return nil, fmt.Errorf("pgxdriver: connect for type lookup: %w", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, typeQuery, names)
	if err != nil {
		return nil, fmt.Errorf("pgxdriver: type lookup: %w", err)
	}
	defer rows.Close()

	found := make(map[string]resolvedType, len(names))
	for rows.Next() {
		var rt resolvedType
		if err := rows.Scan(&rt.name, &rt.oid, &rt.arrayOID); err != nil {
			return nil, fmt.Errorf("pgxdriver: type lookup: %w", err)
		}
		rt.parse = parsers[rt.name]
		found[rt.name] = rt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgxdriver: type lookup: %w", err)
	}

	types := make([]resolvedType, 0, len(names))
	for _, name := range names {
		rt, ok := found[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
		}
		types = append(types, rt)
	}
	return types, nil
}

// registerTypes installs a ParserCodec for each type, and an array codec
// over it when the type has an array counterpart.
func registerTypes(m *pgtype.Map, types []resolvedType) {
	for _, rt := range types {
		elem := &pgtype.Type{Name: rt.name, OID: rt.oid, Codec: &ParserCodec{Parse: rt.parse}}
		m.RegisterType(elem)
		if rt.arrayOID != 0 {
			m.RegisterType(&pgtype.Type{
				Name:  "_" + rt.name,
				OID:   rt.arrayOID,
				Codec: &pgtype.ArrayCodec{ElementType: elem},
			})
		}
	}
}

// ParserCodec decodes a column's text representation with a user parser.
// Encoding is delegated to the text codec, so parameters of the type are
// sent as text.
type ParserCodec struct {
	Parse driver.Parser
}

func (c *ParserCodec) FormatSupported(format int16) bool {
	return format == pgtype.TextFormatCode
}

func (c *ParserCodec) PreferredFormat() int16 {
	return pgtype.TextFormatCode
}

func (c *ParserCodec) PlanEncode(m *pgtype.Map, oid uint32, format int16, value any) pgtype.EncodePlan {
	return pgtype.TextCodec{}.PlanEncode(m, oid, format, value)
}

func (c *ParserCodec) PlanScan(m *pgtype.Map, oid uint32, format int16, target any) pgtype.ScanPlan {
	if _, ok := target.(*any); ok && format == pgtype.TextFormatCode {
		return parserScanPlan{parse: c.Parse}
	}
	return pgtype.TextCodec{}.PlanScan(m, oid, format, target)
}

func (c *ParserCodec) DecodeDatabaseSQLValue(_ *pgtype.Map, _ uint32, _ int16, src []byte) (sqldriver.Value, error) {
	if src == nil {
		return nil, nil
	}
	return string(src), nil
}

func (c *ParserCodec) DecodeValue(_ *pgtype.Map, _ uint32, _ int16, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	return c.Parse(string(src))
}

type parserScanPlan struct {
	parse driver.Parser
}

func (p parserScanPlan) Scan(src []byte, target any) error {
	dst := target.(*any)
	if src == nil {
		*dst = nil
		return nil
	}
	v, err := p.parse(string(src))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
