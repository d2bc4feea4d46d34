package dorm

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ledgerModelName is the registry key of the migration ledger. The ledger is
// declared through the ORM itself: one row per applied script.
const ledgerModelName = "Migration"

func ledgerModel() Model {
	return Model{Columns: map[string]Column{
		"module":  String,
		"name":    String,
		"applied": Timestamp,
	}}
}

// Script is one migration step: a sortable name and a forward action run
// with direct access to the execution boundary. Names establish the apply
// order within a group, so they must sort chronologically (a timestamp
// prefix, typically).
type Script struct {
	Name    string
	Forward func(ctx context.Context, conn Conn) error
}

// ledger returns the bound ledger table, registering it on first use.
func (db *DB) ledger() (*Table, error) {
	if t, ok := db.Table(ledgerModelName); ok {
		return t, nil
	}
	return db.Bind(ledgerModelName, ledgerModel())
}

// Migrate replays every pending script of a group, in name order. A script is
// pending iff its name sorts strictly after the group's most recently applied
// script name; when nothing has been applied yet, every script is pending.
// Each completed script is recorded in the ledger before the next one runs.
//
// A script failure aborts the run and propagates verbatim. There is no
// partial-script recovery, but the ledger reflects only fully completed
// scripts, so a failed run can be retried and resumes at the failure point.
func (db *DB) Migrate(ctx context.Context, group string, scripts []Script) error {
	ledger, err := db.ledger()
	if err != nil {
		return err
	}

	exists, err := ledger.Exists(ctx)
	if err != nil {
		return err
	}
	var latest string
	applied := false
	if exists {
		// Names sort chronologically, so "-name" breaks ties between
		// scripts applied within the same timestamp granule.
		v, err := ledger.Filter(Filters{"module": group}).
			Order("-applied", "-name").
			GetValue(ctx, "name", nil, false)
		if err != nil {
			return err
		}
		if v != nil {
			latest = asString(v)
			applied = true
		}
	} else {
		stmts, err := ledger.SchemaChanges(ctx)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if _, err := db.conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("creating migration ledger: %w", err)
			}
		}
	}

	ordered := append([]Script(nil), scripts...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	for _, script := range ordered {
		// TODO: select the full applied set and flag older names that were
		// never run; scripts interleaved by merged branches are skipped
		// silently under the strictly-after-latest rule.
		if applied && script.Name <= latest {
			continue
		}
		if script.Forward == nil {
			return fmt.Errorf("dorm: migration %q has no forward action", script.Name)
		}
		db.log.Info("running migration", "group", group, "script", script.Name)
		if err := script.Forward(ctx, db.conn); err != nil {
			return fmt.Errorf("migration %q: %w", script.Name, err)
		}
		if _, err := ledger.Insert(ctx, map[string]any{"module": group, "name": script.Name}); err != nil {
			return fmt.Errorf("recording migration %q: %w", script.Name, err)
		}
	}
	return nil
}

// ScriptsFromFS loads migration scripts from the *.sql files of a directory,
// sorted by name. It works equally over os.DirFS and an embed.FS, so scripts
// can be compiled into the binary. Files whose names start with "_" or "~"
// are skipped. A script whose body contains no statements fails at run time,
// which is the contract for generated empty stubs: they must be filled in.
func ScriptsFromFS(fsys fs.FS, dir string) ([]Script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}
	var scripts []Script
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".sql")
		if name == "" || name[0] == '_' || name[0] == '~' {
			continue
		}
		scripts = append(scripts, Script{
			Name:    name,
			Forward: sqlScript(fsys, path.Join(dir, entry.Name())),
		})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
	return scripts, nil
}

// sqlScript builds a forward action that executes a file's statements one at
// a time, in order.
func sqlScript(fsys fs.FS, filePath string) func(context.Context, Conn) error {
	return func(ctx context.Context, conn Conn) error {
		data, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", filePath, err)
		}
		statements := splitStatements(string(data))
		if len(statements) == 0 {
			return fmt.Errorf("dorm: migration script %s has no statements", filePath)
		}
		for _, stmt := range statements {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// splitStatements strips line comments and splits a script on ";". Good
// enough for the DDL/DML these scripts carry; string literals containing
// semicolons belong in a hand-written Script, not a .sql stub.
func splitStatements(script string) []string {
	var kept []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	var out []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// WriteScript authors a migration script stub in dir, named by the current
// UTC time so that generated scripts sort chronologically. With statements it
// writes one per line; without, it writes a placeholder stub that fails
// loudly at migrate time until a body is written.
func WriteScript(dir string, statements []string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating migrations directory: %w", err)
	}
	now := time.Now().UTC()
	name := fmt.Sprintf("%s_%06d", now.Format("20060102_150405"), now.Nanosecond()/1000)
	scriptPath := filepath.Join(dir, name+".sql")

	var b strings.Builder
	if len(statements) == 0 {
		b.WriteString("-- Write the forward migration below.\n")
		b.WriteString("-- A script with no statements fails at migrate time.\n")
	} else {
		for _, stmt := range statements {
			b.WriteString(stmt)
			b.WriteString(";\n")
		}
	}
	if err := os.WriteFile(scriptPath, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing migration script: %w", err)
	}
	return scriptPath, nil
}

// Generate computes the registry-wide reconciliation diff without applying it
// and authors a new script carrying the statements. With an empty diff it
// writes nothing unless force is set, in which case it authors an empty stub
// requiring a hand-written body. It returns the path of the written script,
// or "" when there was nothing to write.
func (db *DB) Generate(ctx context.Context, dir string, force bool) (string, error) {
	statements, err := db.SchemaChanges(ctx)
	if err != nil {
		return "", err
	}
	if len(statements) == 0 && !force {
		return "", nil
	}
	scriptPath, err := WriteScript(dir, statements)
	if err != nil {
		return "", err
	}
	db.log.Info("wrote migration", "path", scriptPath, "statements", len(statements))
	return scriptPath, nil
}
