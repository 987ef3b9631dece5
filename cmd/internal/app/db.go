package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"netreaper/cmd/internal/fault"
)

const dbApplicationName = "netreaperd"

// poolConfig turns the NETREAPER_DB_* settings into a pgxpool config.
// Parse errors never echo the URL, which usually carries a password.
func poolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fault.Configf("app.poolConfig", "NETREAPER_DATABASE_URL is not a valid connection string")
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pcfg.MinConns = min(cfg.DBMinConns, pcfg.MaxConns)
	}
	if cfg.DBConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.DBConnLifetime
	}
	if cfg.DBConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.DBConnIdleTime
	}
	if cfg.DBConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = dbApplicationName
	}
	return pcfg, nil
}

// NewDBPool opens the pool and fails unless the database answers within the
// connect timeout. Stores create their own tables through EnsureSchema.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := PingDB(ctx, pool, nonZeroDuration(cfg.DBConnectTimeout, 5*time.Second)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: unreachable: %w", err)
	}
	return pool, nil
}

// PingDB round-trips to the server; /readyz and startup both use it.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
