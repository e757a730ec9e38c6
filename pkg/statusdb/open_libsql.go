//go:build cgo

package statusdb

import (
	"context"
	"database/sql"

	_ "github.com/tursodatabase/go-libsql"
)

const driverLibsql = "libsql"

// openDB opens a libsql database, local or remote.
func openDB(ctx context.Context, cfg SQLiteConfig) (*sql.DB, error) {
	t, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	return openTarget(ctx, driverLibsql, t)
}
