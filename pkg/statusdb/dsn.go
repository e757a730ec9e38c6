package statusdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SQLiteConfig configures the embedded backend. URL wins over Path.
type SQLiteConfig struct {
	// Path is the database file, or ":memory:".
	Path string

	// URL is a remote libsql database, e.g. libsql://status.turso.io.
	URL string

	// AuthToken authenticates URL.
	AuthToken string
}

type location int

const (
	locMemory location = iota
	locFile
	locRemote
)

// target is a resolved SQLiteConfig.
type target struct {
	loc location
	dsn string
}

// resolve validates cfg and, for file databases, creates the parent dir.
func (cfg SQLiteConfig) resolve() (target, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return target{}, fmt.Errorf("status store url %q is not a database url", raw)
		}
		if token := strings.TrimSpace(cfg.AuthToken); token != "" && u.Query().Get("authToken") == "" {
			q := u.Query()
			q.Set("authToken", token)
			u.RawQuery = q.Encode()
		}
		return target{loc: locRemote, dsn: u.String()}, nil
	}

	path := strings.TrimSpace(cfg.Path)
	switch path {
	case "":
		return target{}, errors.New("status store path or url is required")
	case ":memory:":
		return target{loc: locMemory, dsn: path}, nil
	}
	path = filepath.Clean(strings.TrimPrefix(path, "file:"))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return target{}, fmt.Errorf("create status store dir: %w", err)
	}
	return target{loc: locFile, dsn: "file:" + path}, nil
}

// openTarget opens t with driver and checks the connection.
func openTarget(ctx context.Context, driver string, t target) (*sql.DB, error) {
	db, err := sql.Open(driver, t.dsn)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping status store: %w", err)
	}
	if err := t.tune(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// tune keeps local databases on one connection. File databases run in WAL
// mode so a second pass on the host waits on the busy timeout.
func (t target) tune(ctx context.Context, db *sql.DB) error {
	switch t.loc {
	case locRemote:
		return nil
	case locMemory:
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
		return nil
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		var out string
		if err := db.QueryRowContext(ctx, pragma).Scan(&out); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}
