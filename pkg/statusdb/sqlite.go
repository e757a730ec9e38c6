package statusdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/flowstatus/pkg/status"
)

const backendSQLite = "sqlite"

// SchemaVersion is the current embedded schema version.
const SchemaVersion = 1

// SQLiteStore keeps records in an embedded SQLite (or libsql) database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens the database and applies the schema.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, &StoreError{Op: "open", Backend: backendSQLite, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, &StoreError{Op: "migrate", Backend: backendSQLite, Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS sample_runs (
			id TEXT PRIMARY KEY,
			rev TEXT NOT NULL,
			project_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			lane TEXT NOT NULL,
			sample TEXT NOT NULL,
			flowcell TEXT NOT NULL,
			status TEXT NOT NULL,
			instrument_type TEXT NOT NULL,
			-- history as the timestamp-keyed JSON object, newest first
			history_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		// Mirrors latest_data/sample_id.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sample_runs_key
			ON sample_runs(project_id, run_id, lane, sample);`,
		// Mirrors full_doc/run_id_to_doc.
		`CREATE INDEX IF NOT EXISTS idx_sample_runs_run ON sample_runs(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version = ? WHERE id = 1`, SchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

const selectColumns = `id, rev, project_id, run_id, lane, sample, flowcell, status, instrument_type, history_json`

func (s *SQLiteStore) Find(ctx context.Context, k Key) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM sample_runs
		WHERE project_id = ? AND run_id = ? AND lane = ? AND sample = ?`,
		k.Project, k.RunID, k.Lane, k.Sample)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StoreError{Op: "find", Backend: backendSQLite, Key: k.String(), Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StoreError{Op: "find", Backend: backendSQLite, Key: k.String(), Err: err}
	}
	return r, nil
}

func (s *SQLiteStore) Create(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	history, err := json.Marshal(r.Values)
	if err != nil {
		return &StoreError{Op: "create", Backend: backendSQLite, Key: r.Key().String(), Err: err}
	}
	rev := nextRev("")
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sample_runs (`+selectColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, rev, r.ProjectID, r.RunID, string(r.Lane), r.Sample, r.Flowcell,
		string(r.Status), r.InstrumentType, string(history), nowString())
	if err != nil {
		if isUniqueViolation(err) {
			err = ErrConflict
		}
		return &StoreError{Op: "create", Backend: backendSQLite, Key: r.Key().String(), Err: err}
	}
	r.Rev = rev
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, r *Record) error {
	history, err := json.Marshal(r.Values)
	if err != nil {
		return &StoreError{Op: "update", Backend: backendSQLite, Key: r.ID, Err: err}
	}
	rev := nextRev(r.Rev)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sample_runs
		SET rev = ?, flowcell = ?, status = ?, instrument_type = ?, history_json = ?, updated_at = ?
		WHERE id = ? AND rev = ?`,
		rev, r.Flowcell, string(r.Status), r.InstrumentType, string(history), nowString(), r.ID, r.Rev)
	if err != nil {
		return &StoreError{Op: "update", Backend: backendSQLite, Key: r.ID, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StoreError{Op: "update", Backend: backendSQLite, Key: r.ID, Err: err}
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sample_runs WHERE id = ?`, r.ID).Scan(&exists)
		if err == nil && exists == 0 {
			return &StoreError{Op: "update", Backend: backendSQLite, Key: r.ID, Err: ErrNotFound}
		}
		return &StoreError{Op: "update", Backend: backendSQLite, Key: r.ID, Err: ErrConflict}
	}
	r.Rev = rev
	return nil
}

func (s *SQLiteStore) ListByRun(ctx context.Context, runID, project string) ([]*Record, error) {
	query := `SELECT ` + selectColumns + ` FROM sample_runs WHERE run_id = ?`
	args := []any{runID}
	if project != "" {
		query += ` AND project_id = ?`
		args = append(args, project)
	}
	query += ` ORDER BY project_id, lane, sample`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "list", Backend: backendSQLite, Key: runID, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, &StoreError{Op: "list", Backend: backendSQLite, Key: runID, Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Backend: backendSQLite, Key: runID, Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &StoreError{Op: "ping", Backend: backendSQLite, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc rowScanner) (*Record, error) {
	var (
		r       Record
		lane    string
		st      string
		history string
	)
	if err := sc.Scan(&r.ID, &r.Rev, &r.ProjectID, &r.RunID, &lane, &r.Sample, &r.Flowcell, &st, &r.InstrumentType, &history); err != nil {
		return nil, err
	}
	r.Lane = Lane(lane)
	r.Status = status.Status(st)
	if parsed, err := status.Parse(st); err == nil {
		r.Status = parsed
	}
	if err := json.Unmarshal([]byte(history), &r.Values); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
