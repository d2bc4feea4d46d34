package dorm

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Result carries the execution metadata of a non-query statement.
type Result struct {
	// LastInsertID is the row identifier assigned by the engine for the most
	// recent INSERT on this connection.
	LastInsertID int64

	// RowsAffected is the number of rows touched by the statement.
	RowsAffected int64
}

// Row is a single result row with named-field access. Column order is
// preserved from the statement so positional value shapes stay stable.
type Row struct {
	columns []string
	values  []any
}

// Columns returns the row's column names in statement order.
func (r Row) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Values returns the row's values in statement order.
func (r Row) Values() []any {
	return append([]any(nil), r.values...)
}

// Get returns the value of the named column and whether it is present.
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// ColumnInfo is live column metadata returned by table introspection.
type ColumnInfo struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	Default    any
}

// Conn is the execution boundary between the ORM and the SQL engine. The
// engine is a black box: it runs SQL text with positional parameters and
// hands back rows with named fields, a row count, and a last-inserted
// identifier. Engine errors (constraint violations, malformed SQL) are
// returned verbatim, never translated.
//
// Implementations must serialize statement execution themselves or rely on
// the underlying handle doing so; dorm adds no locking of its own.
type Conn interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) (Result, error)

	// Query runs a statement and materializes its rows. Each call issues
	// the statement anew; nothing is cached.
	Query(ctx context.Context, query string, args ...any) ([]Row, error)

	// Introspect returns the live column metadata of a table, or an empty
	// slice when the table does not exist.
	Introspect(ctx context.Context, table string) ([]ColumnInfo, error)
}

// NewConn wraps an open database handle as a direct, blocking Conn. Every
// call runs on the caller's goroutine against the shared connection.
func NewConn(db *sql.DB) Conn {
	return &sqlConn{db: db}
}

type sqlConn struct {
	db *sql.DB
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	var out Result
	// SQLite supports both; other engines may not, and that is fine.
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	return out, nil
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Read errors surface via rows.Err

	return collectRows(rows)
}

func (c *sqlConn) Introspect(ctx context.Context, table string) ([]ColumnInfo, error) {
	// PRAGMA arguments cannot be bound, so the identifier is quoted inline.
	rows, err := c.Query(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("introspecting table %s: %w", table, err)
	}
	infos := make([]ColumnInfo, 0, len(rows))
	for _, row := range rows {
		name, _ := row.Get("name")
		typ, _ := row.Get("type")
		notNull, _ := row.Get("notnull")
		pk, _ := row.Get("pk")
		dflt, _ := row.Get("dflt_value")
		infos = append(infos, ColumnInfo{
			Name:       asString(name),
			Type:       asString(typ),
			NotNull:    asBool(notNull),
			PrimaryKey: asBool(pk),
			Default:    dflt,
		})
	}
	return infos, nil
}

// collectRows drains a sql.Rows into materialized Row values.
func collectRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range values {
			// Drivers may reuse byte buffers between rows.
			if b, ok := v.([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
		}
		out = append(out, Row{columns: cols, values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asBool(v any) bool {
	return asInt64(v) != 0
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	default:
		return 0
	}
}
