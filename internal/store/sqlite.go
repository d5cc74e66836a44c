package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements RunStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	stage      TEXT NOT NULL,
	snapshot   TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
CREATE INDEX IF NOT EXISTS idx_runs_expires_at ON runs(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SavePipeline(ctx context.Context, snap *model.PipelineSnapshot) error {
	return s.save(ctx, snap.ID, model.RunKindPipeline, snap.Stage, snap, snap.CreatedAt, snap.UpdatedAt, snap.ExpiresAt)
}

func (s *SQLiteStore) SaveDispatch(ctx context.Context, snap *model.DispatchSnapshot) error {
	return s.save(ctx, snap.ID, model.RunKindDispatch, snap.Stage, snap, snap.CreatedAt, snap.UpdatedAt, snap.ExpiresAt)
}

func (s *SQLiteStore) save(ctx context.Context, id string, kind model.RunKind, stage model.Stage, snap any, createdAt, updatedAt, expiresAt time.Time) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, stage, snapshot, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   stage = excluded.stage,
		   snapshot = excluded.snapshot,
		   updated_at = excluded.updated_at,
		   expires_at = excluded.expires_at`,
		id, string(kind), string(stage), string(body), createdAt.UTC(), updatedAt.UTC(), expiresAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save run %s", id)
}

func (s *SQLiteStore) GetPipeline(ctx context.Context, id string) (*model.PipelineSnapshot, error) {
	var snap model.PipelineSnapshot
	if err := s.get(ctx, id, model.RunKindPipeline, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) GetDispatch(ctx context.Context, id string) (*model.DispatchSnapshot, error) {
	var snap model.DispatchSnapshot
	if err := s.get(ctx, id, model.RunKindDispatch, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) get(ctx context.Context, id string, kind model.RunKind, dest any) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM runs WHERE id = ? AND kind = ?`,
		id, string(kind),
	).Scan(&body)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: get run %s", id)
	}
	if err := json.Unmarshal([]byte(body), dest); err != nil {
		return eris.Wrapf(err, "sqlite: unmarshal run %s", id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, filter RunFilter) ([]RunInfo, error) {
	query := `SELECT id, kind, stage, created_at, updated_at, expires_at FROM runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var infos []RunInfo
	for rows.Next() {
		var info RunInfo
		var created, updated, expires time.Time
		if err := rows.Scan(&info.ID, &info.Kind, &info.Stage, &created, &updated, &expires); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		info.CreatedAt = created.UTC().Format(time.RFC3339)
		info.UpdatedAt = updated.UTC().Format(time.RFC3339)
		info.ExpiresAt = expires.UTC().Format(time.RFC3339)
		infos = append(infos, info)
	}
	return infos, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired runs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}
