// Package dorm maps declared record types onto tables in a single-file SQL
// database. It builds parameterized SQL from a copy-on-refine query builder,
// hydrates rows back into records through per-column conversions, and evolves
// the schema either by live reconciliation or by an ordered migration ledger.
//
// The scope is deliberately narrow: single-table CRUD plus additive schema
// migration. There are no joins, no multi-statement transactions, and no
// connection pooling; every statement commits on its own.
//
// A DB owns an explicit registry of bound tables. Models are registered by
// the caller - there is no scanning or reflection over user types:
//
//	db := dorm.New(dorm.NewConn(sqlDB))
//	users, err := db.Bind("User", dorm.Model{Columns: map[string]dorm.Column{
//		"id":    dorm.PK,
//		"email": dorm.UniqueEmail,
//	}})
package dorm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Version is the library version.
const Version = "0.3.0"

// Model declares a record type before it is bound to a connection: a table
// name, a primary-key field, and a field-to-column mapping. Zero values get
// sensible defaults at bind time.
type Model struct {
	// Table is the table name. Empty means the snake-cased registration name.
	Table string

	// PK is the primary-key field. Empty means the column marked PrimaryKey,
	// or the implicit "rowid" when no column is marked.
	PK string

	// Columns maps field names to their descriptors. Order is irrelevant;
	// DDL and statement field lists use a deterministic order fixed at bind.
	Columns map[string]Column
}

// Filters is a set of equality constraints, ANDed together. The reserved key
// "pk" aliases the bound table's primary-key field.
type Filters map[string]any

// Option configures a DB.
type Option func(*DB)

// WithLogger routes dorm's structured log output (statement traces, schema
// warnings) to the given logger instead of slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(db *DB) { db.log = log }
}

// DB is the table registry bound to one connection. It replaces per-type
// shared state: every bound table carries an explicit reference back to the
// DB that created it.
type DB struct {
	conn Conn
	log  *slog.Logger

	mu     sync.RWMutex
	tables map[string]*Table
}

// New creates a registry around an execution strategy. Use NewConn for the
// direct, blocking strategy or NewWorker for the deferred one.
func New(conn Conn, opts ...Option) *DB {
	db := &DB{
		conn:   conn,
		log:    slog.Default(),
		tables: make(map[string]*Table),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Conn returns the execution strategy the registry was built on.
func (db *DB) Conn() Conn {
	return db.conn
}

// Bind validates a model declaration and registers it under the given name.
// Exactly one column may be marked as the primary key; a declaration that
// violates a column invariant fails here, before any SQL is issued.
func (db *DB) Bind(name string, m Model) (*Table, error) {
	if len(m.Columns) == 0 {
		return nil, &DescriptorError{Reason: fmt.Sprintf("model %q declares no columns", name)}
	}

	table := m.Table
	if table == "" {
		table = snake(name)
	}

	columns := make(map[string]Column, len(m.Columns))
	fields := make([]string, 0, len(m.Columns))
	for fname, col := range m.Columns {
		if err := col.validate(fname); err != nil {
			return nil, err
		}
		columns[fname] = col
		fields = append(fields, fname)
	}
	sort.Strings(fields)

	pk := m.PK
	marked := 0
	for _, fname := range fields {
		if columns[fname].PrimaryKey {
			marked++
			pk = fname
		}
	}
	if marked > 1 {
		return nil, &DescriptorError{Reason: fmt.Sprintf("model %q marks %d primary keys, want at most one", name, marked)}
	}
	if pk == "" {
		pk = "rowid"
	}

	t := &Table{
		db:      db,
		model:   name,
		name:    table,
		pk:      pk,
		columns: columns,
		fields:  fields,
	}

	db.mu.Lock()
	db.tables[name] = t
	db.mu.Unlock()

	db.log.Debug("bound model", "model", name, "table", table, "pk", pk)
	return t, nil
}

// BindIntrospected builds a table registration from the live schema instead
// of a declaration. The column set comes from the engine's table metadata, so
// records hydrate every live column even though none was declared. The table
// name defaults to the snake-cased registration name.
func (db *DB) BindIntrospected(ctx context.Context, name, table string) (*Table, error) {
	if table == "" {
		table = snake(name)
	}
	infos, err := db.conn.Introspect(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("dorm: table %q does not exist", table)
	}

	columns := make(map[string]Column, len(infos))
	fields := make([]string, 0, len(infos))
	pk := "rowid"
	for _, info := range infos {
		col := Column{
			SQLType:    info.Type,
			NotNull:    info.NotNull,
			PrimaryKey: info.PrimaryKey,
		}
		if info.Default != nil {
			col.Default = asString(info.Default)
		}
		columns[info.Name] = col
		fields = append(fields, info.Name)
		if info.PrimaryKey {
			pk = info.Name
		}
	}
	sort.Strings(fields)

	t := &Table{
		db:      db,
		model:   name,
		name:    table,
		pk:      pk,
		columns: columns,
		fields:  fields,
	}

	db.mu.Lock()
	db.tables[name] = t
	db.mu.Unlock()

	db.log.Debug("bound introspected table", "model", name, "table", table, "pk", pk)
	return t, nil
}

// Table returns a registered table by its registration name.
func (db *DB) Table(name string) (*Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	return t, ok
}

// Tables returns all registered tables, ordered by registration name.
func (db *DB) Tables() []*Table {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Table, 0, len(names))
	for _, name := range names {
		out = append(out, db.tables[name])
	}
	return out
}

// Table is a record type bound to a connection: the declared columns, the
// resolved table and primary-key names, and the query entry points.
type Table struct {
	db      *DB
	model   string
	name    string
	pk      string
	columns map[string]Column
	fields  []string // declared field names in deterministic (sorted) order
}

// Name returns the live table name.
func (t *Table) Name() string { return t.name }

// PKField returns the primary-key field name.
func (t *Table) PKField() string { return t.pk }

// Fields returns the declared field names in the order used for DDL and
// statement field lists.
func (t *Table) Fields() []string {
	return append([]string(nil), t.fields...)
}

// Column returns a declared column descriptor.
func (t *Table) Column(field string) (Column, bool) {
	c, ok := t.columns[field]
	return c, ok
}

// Query returns an empty query builder for the table.
func (t *Table) Query() Query {
	return Query{table: t}
}

// Filter is shorthand for Query().Filter(f).
func (t *Table) Filter(f Filters) Query {
	return t.Query().Filter(f)
}

// Exists reports whether the live table is present in the database.
func (t *Table) Exists(ctx context.Context) (bool, error) {
	rows, err := t.fetch(ctx,
		"SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", t.name)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Raw runs an arbitrary query against the bound connection and returns its
// rows. The SQL is passed through untouched.
func (t *Table) Raw(ctx context.Context, query string, args ...any) ([]Row, error) {
	return t.fetch(ctx, query, args...)
}

// Exec runs an arbitrary statement against the bound connection.
func (t *Table) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	return t.exec(ctx, query, args...)
}

func (t *Table) fetch(ctx context.Context, query string, args ...any) ([]Row, error) {
	t.db.log.Debug("query", "model", t.model, "sql", query, "params", args)
	return t.db.conn.Query(ctx, query, args...)
}

func (t *Table) exec(ctx context.Context, query string, args ...any) (Result, error) {
	t.db.log.Debug("execute", "model", t.model, "sql", query, "params", args)
	return t.db.conn.Exec(ctx, query, args...)
}

var (
	snakeFirst = regexp.MustCompile("(.)([A-Z][a-z]+)")
	snakeRest  = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// snake converts a CamelCase registration name to snake_case.
func snake(name string) string {
	s := snakeFirst.ReplaceAllString(name, "${1}_${2}")
	return strings.ToLower(snakeRest.ReplaceAllString(s, "${1}_${2}"))
}
