package runner

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/ridoystarlord/schemabuild/errs"
)

// Dialect captures the few SQL differences the applier cares about.
type Dialect struct {
	Name        string
	placeholder func(n int) string
	lock        func(ctx context.Context, db *sql.DB, key string) (release func(), err error)
	tableExists func(ctx context.Context, db *sql.DB, table string) (bool, error)
}

// Postgres uses $n placeholders and a session advisory lock that fails fast
// when another run already holds it.
var Postgres = Dialect{
	Name:        "postgres",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	lock:        postgresTryLock,
	tableExists: func(ctx context.Context, db *sql.DB, table string) (bool, error) {
		var exists bool
		err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, quoteIdent(table)).Scan(&exists)
		return exists, err
	},
}

// SQLite is single-writer, so locking is left to the engine.
var SQLite = Dialect{
	Name:        "sqlite",
	placeholder: func(int) string { return "?" },
	lock: func(context.Context, *sql.DB, string) (func(), error) {
		return func() {}, nil
	},
	tableExists: func(ctx context.Context, db *sql.DB, table string) (bool, error) {
		var n int
		err := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		return n > 0, err
	},
}

// Placeholders returns n comma-separated bind parameters.
func (d Dialect) Placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = d.placeholder(i + 1)
	}
	return strings.Join(ps, ", ")
}

// quoteIdent double-quotes a table name for both Postgres and SQLite.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// postgresTryLock takes pg_try_advisory_lock on a dedicated connection. The
// lock belongs to that session, so the same connection releases it.
func postgresTryLock(ctx context.Context, db *sql.DB, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pg_try_advisory_lock(%d): %w", lockID, err)
	}
	if !locked {
		_ = conn.Close()
		return nil, errs.ErrLocked
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		_ = conn.Close()
	}
	return release, nil
}

// hashLockKey produces a stable non-negative int64 from key for use as an
// advisory lock id.
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}
