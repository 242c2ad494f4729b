package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/actionforge/flowrun/core"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflow_versions (
	workflow_id TEXT    NOT NULL,
	version     INTEGER NOT NULL,
	digest      TEXT    NOT NULL,
	document    TEXT    NOT NULL,
	created_at  TEXT    NOT NULL,
	PRIMARY KEY (workflow_id, version)
);
CREATE TABLE IF NOT EXISTS workflow_runs (
	id          TEXT    PRIMARY KEY,
	workflow_id TEXT    NOT NULL,
	version     INTEGER NOT NULL,
	status      TEXT    NOT NULL,
	started_at  TEXT    NOT NULL,
	run         TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_runs_workflow ON workflow_runs (workflow_id, started_at);
`

// fixed width so that timestamps sort as text
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps versions and runs in a single sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, core.CreateErr(err, "unable to create data directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, core.CreateErr(err, "unable to open sqlite database '%s'", dbPath)
	}
	// version allocation in SaveVersion relies on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, core.CreateErr(err, "unable to create tables")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveVersion(ctx context.Context, workflowId string, doc core.Document) (Snapshot, error) {
	if err := checkWorkflowId(workflowId); err != nil {
		return Snapshot{}, err
	}

	raw, digest, err := encodeDocument(doc)
	if err != nil {
		return Snapshot{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, core.CreateErr(err, "unable to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var latest int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM workflow_versions WHERE workflow_id = ?`, workflowId,
	).Scan(&latest)
	if err != nil {
		return Snapshot{}, core.CreateErr(err, "unable to read latest version of '%s'", workflowId)
	}

	version := latest + 1
	createdAt := timeNow()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_versions (workflow_id, version, digest, document, created_at) VALUES (?, ?, ?, ?, ?)`,
		workflowId, version, digest, string(raw), createdAt.Format(sqliteTimeFormat),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return Snapshot{}, conflict(workflowId, version)
		}
		return Snapshot{}, core.CreateErr(err, "unable to save version %d of '%s'", version, workflowId)
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, core.CreateErr(err, "unable to commit version %d of '%s'", version, workflowId)
	}

	return decodeSnapshot(workflowId, version, digest, createdAt, raw)
}

func (s *SQLiteStore) GetVersion(ctx context.Context, workflowId string, version int) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, digest, document, created_at FROM workflow_versions WHERE workflow_id = ? AND version = ?`,
		workflowId, version)
	return scanSnapshot(workflowId, version, row)
}

func (s *SQLiteStore) LatestVersion(ctx context.Context, workflowId string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, digest, document, created_at FROM workflow_versions WHERE workflow_id = ? ORDER BY version DESC LIMIT 1`,
		workflowId)
	return scanSnapshot(workflowId, 0, row)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, workflowId string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, digest, document, created_at FROM workflow_versions WHERE workflow_id = ? ORDER BY version ASC`,
		workflowId)
	if err != nil {
		return nil, core.CreateErr(err, "unable to list versions of '%s'", workflowId)
	}
	defer rows.Close()

	snapshots := []Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(workflowId, 0, rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(workflowId string, version int, row scanner) (Snapshot, error) {
	var (
		digest, document, createdStr string
	)
	err := row.Scan(&version, &digest, &document, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, notFound(workflowId, version)
	} else if err != nil {
		return Snapshot{}, core.CreateErr(err, "unable to read version of '%s'", workflowId)
	}

	createdAt, _ := time.Parse(sqliteTimeFormat, createdStr)
	return decodeSnapshot(workflowId, version, digest, createdAt, []byte(document))
}

func (s *SQLiteStore) SaveRun(ctx context.Context, workflowId string, version int, run *core.RunState) error {
	if err := checkWorkflowId(workflowId); err != nil {
		return err
	}

	raw, err := encodeRun(run)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, workflow_id, version, status, started_at, run) VALUES (?, ?, ?, ?, ?, ?)`,
		run.Id, workflowId, version, string(run.Status), run.StartedAt.UTC().Format(sqliteTimeFormat), string(raw),
	)
	if err != nil {
		return core.CreateErr(err, "unable to save run '%s'", run.Id)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, workflowId string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, run FROM workflow_runs WHERE workflow_id = ? ORDER BY started_at DESC, rowid DESC`,
		workflowId)
	if err != nil {
		return nil, core.CreateErr(err, "unable to list runs of '%s'", workflowId)
	}
	defer rows.Close()

	records := []RunRecord{}
	for rows.Next() {
		var (
			version int
			raw     string
		)
		if err := rows.Scan(&version, &raw); err != nil {
			return nil, core.CreateErr(err, "unable to read run of '%s'", workflowId)
		}
		run, err := decodeRun([]byte(raw))
		if err != nil {
			return nil, err
		}
		records = append(records, RunRecord{
			WorkflowId: workflowId,
			Version:    version,
			Run:        run,
		})
	}
	return records, rows.Err()
}
