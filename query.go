package dorm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type cond struct {
	field string
	value any
}

// Query composes equality filters, ordering and a row limit into SQL text
// plus bound parameters. Queries have value semantics: every refinement
// returns a new Query and never mutates the receiver, so a base query can be
// reused safely across variants.
type Query struct {
	table   *Table
	filters []cond
	order   []string
	limit   int
}

func (q Query) clone() Query {
	q.filters = append([]cond(nil), q.filters...)
	q.order = append([]string(nil), q.order...)
	return q
}

// Filter adds equality constraints, ANDed with any existing ones. The
// reserved key "pk" aliases the table's primary-key field. Refining a field
// that is already filtered replaces its value in place - filters behave as a
// mapping, so the last write wins and clause positions stay stable. New
// entries are appended in sorted key order so the generated SQL is
// deterministic.
func (q Query) Filter(f Filters) Query {
	out := q.clone()
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field := k
		if field == "pk" {
			field = q.table.pk
		}
		if i := condIndex(out.filters, field); i >= 0 {
			out.filters[i].value = f[k]
			continue
		}
		out.filters = append(out.filters, cond{field: field, value: f[k]})
	}
	return out
}

func condIndex(filters []cond, field string) int {
	for i, c := range filters {
		if c.field == field {
			return i
		}
	}
	return -1
}

// Order replaces the ordering. A leading "-" marks a field descending.
// Fields that are not declared columns are silently dropped, so a query
// carried across schema drift degrades instead of failing.
func (q Query) Order(fields ...string) Query {
	out := q.clone()
	out.order = append([]string(nil), fields...)
	return out
}

// Limit caps the number of rows returned. Zero means no limit.
func (q Query) Limit(n int) Query {
	out := q.clone()
	out.limit = n
	return out
}

// SelectSQL renders the query as a SELECT statement with positional
// parameters. With no explicit field list it selects every declared column,
// prepending the primary key when it is not itself declared.
func (q Query) SelectSQL(fields ...string) (string, []any) {
	selects := fields
	if len(selects) == 0 {
		selects = q.table.Fields()
		if !containsField(selects, q.table.pk) {
			selects = append([]string{q.table.pk}, selects...)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selects, ", "), q.table.name)

	params := make([]any, 0, len(q.filters))
	if len(q.filters) > 0 {
		wheres := make([]string, 0, len(q.filters))
		for _, c := range q.filters {
			wheres = append(wheres, c.field+" = ?")
			params = append(params, c.value)
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(wheres, " AND "))
	}

	var orders []string
	for _, field := range q.order {
		desc := strings.HasPrefix(field, "-")
		name := strings.TrimLeft(field, "-")
		if _, ok := q.table.columns[name]; !ok {
			continue
		}
		if desc {
			orders = append(orders, name+" DESC")
		} else {
			orders = append(orders, name+" ASC")
		}
	}
	if len(orders) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(orders, ", "))
	}

	if q.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
	}

	return b.String(), params
}

// UpdateSQL renders an UPDATE statement writing the given field values,
// scoped by the query's filters. Fields that are not declared columns are
// dropped with a warning. With no filters the WHERE clause degrades to an
// always-true predicate, so the statement touches every row; callers must
// filter on the primary key to scope an update safely.
func (q Query) UpdateSQL(values map[string]any) (string, []any, error) {
	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var sets []string
	var params []any
	for _, field := range fields {
		col, ok := q.table.columns[field]
		if !ok {
			q.table.db.log.Warn("column does not exist", "model", q.table.model, "column", field)
			continue
		}
		stored, err := col.storageValue(values[field])
		if err != nil {
			return "", nil, fmt.Errorf("converting %s.%s: %w", q.table.name, field, err)
		}
		sets = append(sets, field+" = ?")
		params = append(params, stored)
	}

	wheres := make([]string, 0, len(q.filters))
	for _, c := range q.filters {
		wheres = append(wheres, c.field+" = ?")
		params = append(params, c.value)
	}
	if len(wheres) == 0 {
		wheres = append(wheres, "1 = 1")
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		q.table.name, strings.Join(sets, ", "), strings.Join(wheres, " AND "))
	return sql, params, nil
}

// All runs the query and hydrates every matching record.
func (q Query) All(ctx context.Context) ([]*Record, error) {
	query, params := q.SelectSQL()
	rows, err := q.table.fetch(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := q.table.hydrate(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Each runs the query and calls fn for every matching record, stopping at
// the first error. Every call re-issues the query; nothing is cached between
// iterations.
func (q Query) Each(ctx context.Context, fn func(*Record) error) error {
	records, err := q.All(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Count runs the query with the field list replaced by a row-count aggregate.
func (q Query) Count(ctx context.Context) (int64, error) {
	query, params := q.SelectSQL("count(*)")
	rows, err := q.table.fetch(ctx, query, params...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt64(rows[0].Values()[0]), nil
}

// Values runs the query over the given fields (all declared columns when
// empty) and shapes the result by two flags: lists selects ordered value
// tuples over field-keyed maps, and flat unnests the chosen shape into its
// elements. Declared columns pass through their ToNative conversion;
// undeclared fields come back raw.
func (q Query) Values(ctx context.Context, fields []string, lists, flat bool) ([]any, error) {
	query, params := q.SelectSQL(fields...)
	rows, err := q.table.fetch(ctx, query, params...)
	if err != nil {
		return nil, err
	}

	var out []any
	for _, row := range rows {
		natives := make([]any, len(row.columns))
		for i, name := range row.columns {
			v := row.values[i]
			if col, ok := q.table.columns[name]; ok {
				nv, err := col.nativeValue(v)
				if err != nil {
					return nil, fmt.Errorf("hydrating %s.%s: %w", q.table.name, name, err)
				}
				v = nv
			}
			natives[i] = v
		}
		switch {
		case lists && flat:
			out = append(out, natives...)
		case lists:
			out = append(out, natives)
		case flat:
			for i, name := range row.columns {
				out = append(out, map[string]any{name: natives[i]})
			}
		default:
			m := make(map[string]any, len(row.columns))
			for i, name := range row.columns {
				m[name] = natives[i]
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// Get fetches at most one record. In strict mode it reads one extra row
// solely to detect multiplicity, failing with ErrNotFound on zero rows and
// ErrMultipleObjects on more than one. Outside strict mode it returns nil on
// zero rows and silently picks the first of many - a documented ambiguity,
// not a defect to compensate for.
func (q Query) Get(ctx context.Context, strict bool) (*Record, error) {
	limit := 1
	if strict {
		limit = 2
	}
	records, err := q.Limit(limit).All(ctx)
	if err != nil {
		return nil, err
	}
	if strict {
		switch {
		case len(records) == 0:
			return nil, fmt.Errorf("query on %s: %w", q.table.name, ErrNotFound)
		case len(records) > 1:
			return nil, fmt.Errorf("query on %s: %w", q.table.name, ErrMultipleObjects)
		}
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// GetValue fetches one record like Get and returns the named field from it,
// or def when no record (or no such field) is found.
func (q Query) GetValue(ctx context.Context, field string, def any, strict bool) (any, error) {
	rec, err := q.Get(ctx, strict)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return def, nil
	}
	if v, ok := rec.Get(field); ok {
		return v, nil
	}
	return def, nil
}

// Update writes the given field values to every row matched by the filters
// and returns the number of rows affected. See UpdateSQL for the unscoped
// behavior.
func (q Query) Update(ctx context.Context, values map[string]any) (int64, error) {
	query, params, err := q.UpdateSQL(values)
	if err != nil {
		return 0, err
	}
	res, err := q.table.exec(ctx, query, params...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
