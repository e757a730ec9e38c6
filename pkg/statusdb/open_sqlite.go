//go:build !cgo

package statusdb

import (
	"context"
	"database/sql"
	"errors"

	sqlite "modernc.org/sqlite"
)

const driverLibsql = "libsql"

func init() {
	sql.Register(driverLibsql, &sqlite.Driver{})
}

// openDB opens a pure-Go SQLite database. Remote URLs need the cgo build.
func openDB(ctx context.Context, cfg SQLiteConfig) (*sql.DB, error) {
	t, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	if t.loc == locRemote {
		return nil, errors.New("remote status store url requires a cgo-enabled build")
	}
	return openTarget(ctx, driverLibsql, t)
}
