// Package hooks provides query observability for pgts backends.
//
// Hooks are written once against Event and attached to a backend through
// Tracer (pgx) or BunHook (bun).
package hooks

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/uptrace/bun"
)

// maxQueryLen caps query text recorded in logs and spans.
const maxQueryLen = 500

// Event describes one statement execution.
type Event struct {
	Query     string
	StartTime time.Time
	Err       error
}

// Hook observes statement executions.
type Hook interface {
	BeforeQuery(ctx context.Context, event *Event) context.Context
	AfterQuery(ctx context.Context, event *Event)
}

type eventCtxKey struct{}

func before(ctx context.Context, hs []Hook, ev *Event) context.Context {
	for _, h := range hs {
		ctx = h.BeforeQuery(ctx, ev)
	}
	return context.WithValue(ctx, eventCtxKey{}, ev)
}

func after(ctx context.Context, hs []Hook, err error) {
	ev, ok := ctx.Value(eventCtxKey{}).(*Event)
	if !ok {
		return
	}
	ev.Err = err
	for i := len(hs) - 1; i >= 0; i-- {
		hs[i].AfterQuery(ctx, ev)
	}
}

// PgxTracer adapts hooks to pgx.QueryTracer.
type PgxTracer struct {
	hooks []Hook
}

var _ pgx.QueryTracer = (*PgxTracer)(nil)

// Tracer returns a pgx.QueryTracer running hs in order, or nil when hs is empty.
func Tracer(hs ...Hook) *PgxTracer {
	if len(hs) == 0 {
		return nil
	}
	return &PgxTracer{hooks: hs}
}

// TraceQueryStart is called by pgx before a query is sent.
func (t *PgxTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return before(ctx, t.hooks, &Event{Query: data.SQL, StartTime: time.Now()})
}

// TraceQueryEnd is called by pgx once a query completes.
func (t *PgxTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	after(ctx, t.hooks, data.Err)
}

// BunQueryHook adapts hooks to bun.QueryHook.
type BunQueryHook struct {
	hooks []Hook
}

var _ bun.QueryHook = (*BunQueryHook)(nil)

// BunHook returns a bun.QueryHook running hs in order.
func BunHook(hs ...Hook) *BunQueryHook {
	return &BunQueryHook{hooks: hs}
}

// BeforeQuery is called by bun before a query is executed.
func (b *BunQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return before(ctx, b.hooks, &Event{Query: event.Query, StartTime: event.StartTime})
}

// AfterQuery is called by bun after a query is executed.
func (b *BunQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	after(ctx, b.hooks, event.Err)
}

func truncate(query string) string {
	if len(query) > maxQueryLen {
		return query[:maxQueryLen] + "..."
	}
	return query
}

// OperationType extracts the operation type from a query
func OperationType(query string) string {
	query = strings.TrimSpace(strings.ToUpper(query))
	switch {
	case strings.HasPrefix(query, "SELECT"), strings.HasPrefix(query, "WITH"):
		return "select"
	case strings.HasPrefix(query, "INSERT"):
		return "insert"
	case strings.HasPrefix(query, "UPDATE"):
		return "update"
	case strings.HasPrefix(query, "DELETE"):
		return "delete"
	case strings.HasPrefix(query, "COPY"):
		return "copy"
	case strings.HasPrefix(query, "CREATE"):
		return "create"
	case strings.HasPrefix(query, "DROP"):
		return "drop"
	case strings.HasPrefix(query, "ALTER"):
		return "alter"
	case strings.HasPrefix(query, "TRUNCATE"):
		return "truncate"
	case strings.HasPrefix(query, "BEGIN"):
		return "begin"
	case strings.HasPrefix(query, "COMMIT"):
		return "commit"
	case strings.HasPrefix(query, "ROLLBACK"):
		return "rollback"
	default:
		return "other"
	}
}
