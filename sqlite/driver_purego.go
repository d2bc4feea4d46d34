//go:build !cgo_sqlite

// Pure Go SQLite driver via modernc.org/sqlite.
// This is the default; it needs no CGO toolchain.
package sqlite

import (
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const (
	driverName = "sqlite"
	driverType = "purego"
)

// dsn builds a connection string for the modernc driver, which takes pragmas
// in _pragma=name(value) form.
func dsn(cfg Config) string {
	s := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		s += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	return s
}
