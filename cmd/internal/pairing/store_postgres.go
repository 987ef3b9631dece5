package pairing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore persists pairing sessions in PostgreSQL.
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
			return ErrInvalidInput
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
		return nil, ErrInvalidInput
	}
	return st, nil
}

// EnsureSchema creates the schema and table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	sessions := pgIdent(s.schema, "pairing_sessions")
	_, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize())
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+sessions+` (
		  code        text PRIMARY KEY,
		  device_id   text NOT NULL,
		  role        text NOT NULL CHECK (role IN ('remote', 'gui')),
		  status      text NOT NULL,
		  created_by  text NOT NULL DEFAULT '',
		  created_at  timestamptz NOT NULL,
		  expires_at  timestamptz NOT NULL
		)`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sessions := pgIdent(s.schema, "pairing_sessions")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+sessions+` (code, device_id, role, status, created_by, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.Code, sess.DeviceID, sess.Role, sess.Status, sess.CreatedBy, sess.CreatedAt, sess.ExpiresAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, code string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	sessions := pgIdent(s.schema, "pairing_sessions")

	var out Session
	err := s.pool.QueryRow(ctx,
		`SELECT code, device_id, role, status, created_by, created_at, expires_at
		   FROM `+sessions+`
		  WHERE code = $1`,
		code,
	).Scan(&out.Code, &out.DeviceID, &out.Role, &out.Status, &out.CreatedBy, &out.CreatedAt, &out.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return out, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	sessions := pgIdent(s.schema, "pairing_sessions")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+sessions+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
