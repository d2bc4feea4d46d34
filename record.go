package dorm

import (
	"context"
	"fmt"
	"strings"
)

// Record is one row of a bound table held in memory: a mapping of declared
// field names to native values, plus an extra bucket for values whose columns
// were never declared (introspected or ad-hoc tables). A record starts
// unsaved; Save dispatches to INSERT or UPDATE based on the primary key.
type Record struct {
	table  *Table
	fields map[string]any
	extra  map[string]any
}

// New constructs an unsaved record with the given initial field values. The
// reserved key "pk" aliases the primary-key field.
func (t *Table) New(fields map[string]any) *Record {
	r := &Record{
		table:  t,
		fields: make(map[string]any),
		extra:  make(map[string]any),
	}
	for name, value := range fields {
		r.Set(name, value)
	}
	return r
}

// Insert constructs a record and persists it immediately.
func (t *Table) Insert(ctx context.Context, fields map[string]any) (*Record, error) {
	r := t.New(fields)
	if err := r.Save(ctx, true); err != nil {
		return nil, err
	}
	return r, nil
}

// hydrate converts an engine row into a record. Declared columns pass through
// their ToNative conversion; anything else lands raw in the extra bucket.
func (t *Table) hydrate(row Row) (*Record, error) {
	r := &Record{
		table:  t,
		fields: make(map[string]any, len(row.columns)),
		extra:  make(map[string]any),
	}
	for i, name := range row.columns {
		value := row.values[i]
		col, declared := t.columns[name]
		switch {
		case declared:
			native, err := col.nativeValue(value)
			if err != nil {
				return nil, fmt.Errorf("hydrating %s.%s: %w", t.name, name, err)
			}
			r.fields[name] = native
		case name == t.pk:
			r.fields[name] = value
		default:
			r.extra[name] = value
		}
	}
	return r, nil
}

// Get returns a field value. The reserved name "pk" aliases the primary-key
// field; undeclared fields are served from the extra bucket.
func (r *Record) Get(name string) (any, bool) {
	if name == "pk" {
		name = r.table.pk
	}
	if v, ok := r.fields[name]; ok {
		return v, true
	}
	v, ok := r.extra[name]
	return v, ok
}

// Set assigns a field value. Declared fields (and the primary key) are typed;
// anything else goes to the extra bucket.
func (r *Record) Set(name string, value any) {
	if name == "pk" {
		name = r.table.pk
	}
	if _, declared := r.table.columns[name]; declared || name == r.table.pk {
		r.fields[name] = value
		return
	}
	r.extra[name] = value
}

// Fields returns a copy of the declared field values currently set.
func (r *Record) Fields() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Extra returns a copy of the undeclared field values.
func (r *Record) Extra() map[string]any {
	out := make(map[string]any, len(r.extra))
	for k, v := range r.extra {
		out[k] = v
	}
	return out
}

// PK returns the primary-key value, or nil when unset.
func (r *Record) PK() any {
	return r.fields[r.table.pk]
}

// SetPK assigns the primary-key value.
func (r *Record) SetPK(value any) {
	r.fields[r.table.pk] = value
}

// hasPK reports whether the record carries a usable primary key. Zero counts
// as unset, matching the engine's treatment of integer row identifiers.
func (r *Record) hasPK() bool {
	switch v := r.PK().(type) {
	case nil:
		return false
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}

func (r *Record) String() string {
	return fmt.Sprintf("<%s pk=%v>", r.table.model, r.PK())
}

// insertSQL builds an INSERT listing every declared non-primary-key field the
// record currently has set, with ToStorage applied. The primary key is listed
// only when the caller pre-set it.
func (r *Record) insertSQL() (string, []any, error) {
	var names []string
	var params []any
	for _, fname := range r.table.fields {
		col := r.table.columns[fname]
		if col.PrimaryKey || fname == r.table.pk {
			continue
		}
		value, ok := r.fields[fname]
		if !ok {
			continue
		}
		stored, err := col.storageValue(value)
		if err != nil {
			return "", nil, fmt.Errorf("converting %s.%s: %w", r.table.name, fname, err)
		}
		names = append(names, fname)
		params = append(params, stored)
	}
	if r.hasPK() {
		names = append([]string{r.table.pk}, names...)
		params = append([]any{r.PK()}, params...)
	}

	placeholders := make([]string, len(names))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.table.name, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	return sql, params, nil
}

// Save persists the record. With forceInsert, or when no primary key is set,
// it INSERTs and back-fills the primary key from the engine's last-inserted
// identifier (unless the caller supplied one). Otherwise it UPDATEs every
// declared non-primary-key field currently set, scoped by primary-key
// equality - a full-field write, not a diff against prior values.
func (r *Record) Save(ctx context.Context, forceInsert bool) error {
	if forceInsert || !r.hasPK() {
		query, params, err := r.insertSQL()
		if err != nil {
			return err
		}
		hadPK := r.hasPK()
		res, err := r.table.exec(ctx, query, params...)
		if err != nil {
			return err
		}
		if !hadPK {
			r.SetPK(res.LastInsertID)
		}
		return nil
	}

	values := make(map[string]any)
	for _, fname := range r.table.fields {
		col := r.table.columns[fname]
		if col.PrimaryKey || fname == r.table.pk {
			continue
		}
		if v, ok := r.fields[fname]; ok {
			values[fname] = v
		}
	}
	_, err := r.table.Filter(Filters{"pk": r.PK()}).Update(ctx, values)
	return err
}

// Refresh re-reads the record by primary key and overwrites its entire field
// set, extra bucket included. Values set in memory but never saved are lost.
func (r *Record) Refresh(ctx context.Context) error {
	fresh, err := r.table.Filter(Filters{"pk": r.PK()}).Get(ctx, true)
	if err != nil {
		return err
	}
	r.fields = fresh.fields
	r.extra = fresh.extra
	return nil
}
