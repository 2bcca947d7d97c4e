package runner

import (
	"context"
	"database/sql"
	"fmt"
	"os/user"
	"sort"
	"time"
)

// AppliedMigration is one ledger row.
type AppliedMigration struct {
	Version       string
	Description   string
	Script        string
	Checksum      string
	InstalledBy   string
	InstalledOn   time.Time
	ExecutionTime time.Duration
}

// ledger reads and writes the migration history table.
type ledger struct {
	dialect Dialect
	table   string
}

func (l ledger) ensure(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		version      VARCHAR(50) PRIMARY KEY,
		description  VARCHAR(200) NOT NULL,
		script       VARCHAR(1000) NOT NULL,
		checksum     VARCHAR(64) NOT NULL,
		installed_by VARCHAR(100) NOT NULL,
		installed_on TIMESTAMP NOT NULL,
		execution_ms BIGINT NOT NULL
	)`, quoteIdent(l.table)))
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", l.table, err)
	}
	return nil
}

// read returns the ledger rows without creating the table. A missing table
// is an empty ledger.
func (l ledger) read(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	exists, err := l.dialect.tableExists(ctx, db, l.table)
	if err != nil {
		return nil, fmt.Errorf("look up %s table: %w", l.table, err)
	}
	if !exists {
		return nil, nil
	}
	return l.applied(ctx, db)
}

// applied returns every ledger row sorted by ascending version.
func (l ledger) applied(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT version, description, script, checksum, installed_by, installed_on, execution_ms
		FROM %s`, quoteIdent(l.table)))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		var ms int64
		if err := rows.Scan(&m.Version, &m.Description, &m.Script, &m.Checksum, &m.InstalledBy, &m.InstalledOn, &ms); err != nil {
			return nil, fmt.Errorf("scan migration record: %w", err)
		}
		m.ExecutionTime = time.Duration(ms) * time.Millisecond
		applied = append(applied, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration records: %w", err)
	}

	sortApplied(applied)
	return applied, nil
}

// record inserts the ledger row inside tx, so it commits or rolls back
// together with the script's statements.
func (l ledger) record(ctx context.Context, tx *sql.Tx, s Script, installedBy string, elapsed time.Duration) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (version, description, script, checksum, installed_by, installed_on, execution_ms)
		VALUES (%s)`, quoteIdent(l.table), l.dialect.Placeholders(7)),
		s.Version, s.Description, s.Name(), s.Checksum, installedBy, time.Now().UTC(), elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("recording migration %s: %w", s.Version, err)
	}
	return nil
}

func sortApplied(applied []AppliedMigration) {
	sort.Slice(applied, func(i, j int) bool {
		return CompareVersions(applied[i].Version, applied[j].Version) < 0
	})
}

func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		return "unknown"
	}
	return currentUser.Username
}
