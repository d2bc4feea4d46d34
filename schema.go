package dorm

import (
	"context"
	"fmt"
	"strings"
)

// SchemaChanges diffs the declared columns against the live table and returns
// the DDL needed to close the gap. The diff is purely additive:
//
//   - No live table yields a single CREATE TABLE statement.
//   - A declared column missing live yields ALTER TABLE ... ADD COLUMN.
//   - A base-type mismatch on an existing column is a warning, never an
//     ALTER; dorm never rewrites or narrows an existing column.
//   - A live column absent from the declaration is warned as orphaned,
//     never dropped.
//
// Renames and narrowing therefore require a hand-written migration script.
func (t *Table) SchemaChanges(ctx context.Context) ([]string, error) {
	infos, err := t.db.conn.Introspect(ctx, t.name)
	if err != nil {
		return nil, err
	}

	if len(infos) == 0 {
		parts := make([]string, 0, len(t.fields))
		for _, fname := range t.fields {
			td, err := t.columns[fname].Typedef(fname)
			if err != nil {
				return nil, err
			}
			parts = append(parts, td)
		}
		return []string{fmt.Sprintf("CREATE TABLE %s (%s)", t.name, strings.Join(parts, ", "))}, nil
	}

	live := make(map[string]string, len(infos))
	for _, info := range infos {
		live[info.Name] = info.Type
	}

	var statements []string
	for _, fname := range t.fields {
		col := t.columns[fname]
		liveType, present := live[fname]
		if present {
			declared := baseType(col.SQLType)
			if !strings.EqualFold(baseType(liveType), declared) {
				t.db.log.Warn("column type mismatch",
					"table", t.name, "column", fname,
					"live", liveType, "declared", declared)
			}
			continue
		}
		td, err := col.Typedef(fname)
		if err != nil {
			return nil, err
		}
		statements = append(statements, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", t.name, td))
	}

	for _, info := range infos {
		if _, declared := t.columns[info.Name]; !declared {
			t.db.log.Warn("orphaned column", "table", t.name, "column", info.Name)
		}
	}

	return statements, nil
}

// SchemaChanges aggregates the reconciliation diff across every registered
// table, in registration-name order, without applying anything.
func (db *DB) SchemaChanges(ctx context.Context) ([]string, error) {
	var statements []string
	for _, t := range db.Tables() {
		stmts, err := t.SchemaChanges(ctx)
		if err != nil {
			return nil, fmt.Errorf("diffing schema for %s: %w", t.name, err)
		}
		statements = append(statements, stmts...)
	}
	return statements, nil
}

// Reconcile computes the registry-wide schema diff and applies it directly.
// This is the bind-time path for projects that do not keep a migration
// ledger. Running it twice against an unchanged declaration set applies
// nothing the second time.
func (db *DB) Reconcile(ctx context.Context) error {
	statements, err := db.SchemaChanges(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		db.log.Info("applying schema change", "sql", stmt)
		if _, err := db.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying %q: %w", stmt, err)
		}
	}
	return nil
}
