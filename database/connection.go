package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ridoystarlord/schemabuild/config"
)

// OpenPool returns a connection pool for conn. The pool is pinged before it
// is returned; callers own it and must Close it.
func OpenPool(ctx context.Context, conn config.Connection) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(conn.ConnString())
	if err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}
	// A build talks to the database from one stage at a time.
	poolCfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// OpenDB returns a database/sql handle backed by the pgx driver. The
// migration applier works on *sql.DB so it can run on any driver.
func OpenDB(ctx context.Context, conn config.Connection) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(conn.ConnString())
	if err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(2)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return db, nil
}

// Ping opens a single connection to conn, pings it and closes it.
func Ping(ctx context.Context, conn config.Connection) error {
	c, err := pgx.Connect(ctx, conn.ConnString())
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close(context.Background())

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// ServerVersion reports the server_version setting, used by the health command.
func ServerVersion(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	var version string
	if err := pool.QueryRow(ctx, `SHOW server_version`).Scan(&version); err != nil {
		return "", fmt.Errorf("query server version: %w", err)
	}
	return version, nil
}
