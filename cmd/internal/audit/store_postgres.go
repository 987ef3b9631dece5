package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore writes entries to <schema>.audit_log.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore constructs a PostgresStore; schema defaults to "netreaper".
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("audit: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "netreaper"
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

// EnsureSchema creates the schema and table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table()+` (
		  id         uuid PRIMARY KEY,
		  created_at timestamptz NOT NULL,
		  action     text NOT NULL,
		  conn_id    text,
		  remote     text,
		  subject    text,
		  command    text,
		  outcome    text NOT NULL,
		  reason     text,
		  exit_code  integer
		)`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, e Entry) error {
	e = Stamp(e)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (
			id, created_at, action, conn_id, remote, subject, command, outcome, reason, exit_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.TS, string(e.Action), nilIfBlank(e.ConnID), nilIfBlank(e.Remote), nilIfBlank(e.Subject),
		nilIfBlank(e.Command), e.Outcome, nilIfBlank(e.Reason), e.ExitCode)
	return err
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "audit_log"}.Sanitize()
}

func nilIfBlank(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
