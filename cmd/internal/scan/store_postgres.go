package scan

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists jobs in <schema>.scan_jobs and the last-scan
// pointer in the single-row <schema>.scan_last table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "netreaper").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("scan: empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "netreaper"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("scan: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+pgIdent(s.schema, "scan_jobs")+` (
  job_id       TEXT PRIMARY KEY,
  target       TEXT NOT NULL,
  mode         TEXT NOT NULL,
  status       TEXT NOT NULL,
  created_by   TEXT NULL,
  created_at   TIMESTAMPTZ NOT NULL,
  started_at   TIMESTAMPTZ NULL,
  completed_at TIMESTAMPTZ NULL,
  return_code  INT NULL,
  output_file  TEXT NULL,
  error        TEXT NULL,
  CONSTRAINT chk_scan_jobs_id_ulid_len CHECK (char_length(job_id) = 26)
);

CREATE TABLE IF NOT EXISTS `+pgIdent(s.schema, "scan_last")+` (
  id          BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
  output_file TEXT NOT NULL,
  target      TEXT NOT NULL,
  scanned_at  TIMESTAMPTZ NOT NULL
);`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, job Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "scan_jobs")+` (
		     job_id, target, mode, status, created_by, created_at, started_at, completed_at, return_code, output_file, error
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.Target, string(job.Mode), string(job.Status), nullText(job.CreatedBy), job.CreatedAt,
		job.StartedAt, job.CompletedAt, job.ReturnCode, nullText(job.OutputFile), nullText(job.Error),
	)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, job Job) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "scan_jobs")+`
		    SET status = $2, started_at = $3, completed_at = $4, return_code = $5, output_file = $6, error = $7
		  WHERE job_id = $1`,
		job.ID, string(job.Status), job.StartedAt, job.CompletedAt, job.ReturnCode, nullText(job.OutputFile), nullText(job.Error),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Job, error) {
	var (
		out                     Job
		mode, status            string
		createdBy, file, errMsg *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, target, mode, status, created_by, created_at, started_at, completed_at, return_code, output_file, error
		   FROM `+pgIdent(s.schema, "scan_jobs")+`
		  WHERE job_id = $1`,
		id,
	).Scan(&out.ID, &out.Target, &mode, &status, &createdBy, &out.CreatedAt, &out.StartedAt, &out.CompletedAt, &out.ReturnCode, &file, &errMsg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	out.Mode = Mode(mode)
	out.Status = Status(status)
	out.CreatedBy = deref(createdBy)
	out.OutputFile = deref(file)
	out.Error = deref(errMsg)
	out.CreatedAt = out.CreatedAt.UTC()
	return out, nil
}

func (s *PostgresStore) SetLastScan(ctx context.Context, ls LastScan) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "scan_last")+` (id, output_file, target, scanned_at)
		 VALUES (TRUE, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET output_file = EXCLUDED.output_file, target = EXCLUDED.target, scanned_at = EXCLUDED.scanned_at`,
		ls.OutputFile, ls.Target, ls.ScannedAt,
	)
	return err
}

func (s *PostgresStore) LastScan(ctx context.Context) (LastScan, bool, error) {
	var (
		ls LastScan
		at time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT output_file, target, scanned_at FROM `+pgIdent(s.schema, "scan_last")+` WHERE id`,
	).Scan(&ls.OutputFile, &ls.Target, &at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LastScan{}, false, nil
		}
		return LastScan{}, false, err
	}
	ls.ScannedAt = at.UTC()
	return ls, true, nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func nullText(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
