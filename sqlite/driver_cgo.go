//go:build cgo_sqlite

// CGO SQLite driver using mattn/go-sqlite3.
//
// Build with: go build -tags cgo_sqlite
// Requires: CGO_ENABLED=1
package sqlite

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	driverName = "sqlite3"
	driverType = "cgo"
)

// dsn builds a connection string for the mattn driver, which takes pragmas
// as underscore-prefixed query parameters.
// See: https://github.com/mattn/go-sqlite3#connection-string
func dsn(cfg Config) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}
