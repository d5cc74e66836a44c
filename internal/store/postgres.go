package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it,
// which keeps the Postgres store testable without a live database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements RunStore using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"save_run":   saveRunSQL,
	"get_run":    getRunSQL,
	"delete_run": deleteRunSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	stage      TEXT NOT NULL,
	snapshot   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
CREATE INDEX IF NOT EXISTS idx_runs_expires_at ON runs(expires_at);
`

const (
	saveRunSQL = `INSERT INTO runs (id, kind, stage, snapshot, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   stage = EXCLUDED.stage,
		   snapshot = EXCLUDED.snapshot,
		   updated_at = EXCLUDED.updated_at,
		   expires_at = EXCLUDED.expires_at`
	getRunSQL    = `SELECT snapshot FROM runs WHERE id = $1 AND kind = $2`
	deleteRunSQL = `DELETE FROM runs WHERE id = $1`
)

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SavePipeline(ctx context.Context, snap *model.PipelineSnapshot) error {
	return s.save(ctx, snap.ID, model.RunKindPipeline, snap.Stage, snap, snap.CreatedAt, snap.UpdatedAt, snap.ExpiresAt)
}

func (s *PostgresStore) SaveDispatch(ctx context.Context, snap *model.DispatchSnapshot) error {
	return s.save(ctx, snap.ID, model.RunKindDispatch, snap.Stage, snap, snap.CreatedAt, snap.UpdatedAt, snap.ExpiresAt)
}

func (s *PostgresStore) save(ctx context.Context, id string, kind model.RunKind, stage model.Stage, snap any, createdAt, updatedAt, expiresAt time.Time) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}

	_, err = s.pool.Exec(ctx, saveRunSQL,
		id, string(kind), string(stage), body, createdAt.UTC(), updatedAt.UTC(), expiresAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save run %s", id)
}

func (s *PostgresStore) GetPipeline(ctx context.Context, id string) (*model.PipelineSnapshot, error) {
	var snap model.PipelineSnapshot
	if err := s.get(ctx, id, model.RunKindPipeline, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) GetDispatch(ctx context.Context, id string) (*model.DispatchSnapshot, error) {
	var snap model.DispatchSnapshot
	if err := s.get(ctx, id, model.RunKindDispatch, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) get(ctx context.Context, id string, kind model.RunKind, dest any) error {
	var body []byte
	err := s.pool.QueryRow(ctx, getRunSQL, id, string(kind)).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: get run %s", id)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return eris.Wrapf(err, "postgres: unmarshal run %s", id)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter RunFilter) ([]RunInfo, error) {
	query := `SELECT id, kind, stage, created_at, updated_at, expires_at FROM runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		query += ` AND kind = $1`
	}
	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		query += ` AND stage = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var infos []RunInfo
	for rows.Next() {
		var info RunInfo
		var created, updated, expires time.Time
		if err := rows.Scan(&info.ID, &info.Kind, &info.Stage, &created, &updated, &expires); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		info.CreatedAt = created.UTC().Format(time.RFC3339)
		info.UpdatedAt = updated.UTC().Format(time.RFC3339)
		info.ExpiresAt = expires.UTC().Format(time.RFC3339)
		infos = append(infos, info)
	}
	return infos, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteRunSQL, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired runs")
	}
	return int(tag.RowsAffected()), nil
}
