package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/logger"
)

// Applier applies versioned scripts to a database and keeps the ledger.
type Applier struct {
	ledger      ledger
	installedBy string
	log         *logger.Logger
}

// NewApplier creates an Applier that records history in table.
func NewApplier(dialect Dialect, table string, log *logger.Logger) *Applier {
	if log == nil {
		log = logger.Nop()
	}
	return &Applier{
		ledger:      ledger{dialect: dialect, table: table},
		installedBy: getCurrentUser(),
		log:         log,
	}
}

// Result summarises one Apply call.
type Result struct {
	Applied  []Script
	UpToDate int // scripts that were already in the ledger
}

// Status is the ledger contents next to the scripts not applied yet.
type Status struct {
	Applied []AppliedMigration
	Pending []Script
}

// Apply runs every script whose version is not in the ledger, in ascending
// version order. Each script runs in its own transaction together with its
// ledger row. The first failure rolls that script back and stops the run;
// a later call resumes from the first unapplied version.
func (a *Applier) Apply(ctx context.Context, db *sql.DB, scripts []Script) (*Result, error) {
	if err := a.ledger.ensure(ctx, db); err != nil {
		return nil, errs.Wrap(errs.KindMigration, "ensure ledger", err)
	}

	release, err := a.ledger.dialect.lock(ctx, db, "schemabuild:"+a.ledger.table)
	if err != nil {
		return nil, errs.Wrap(errs.KindMigration, "lock ledger", err)
	}
	defer release()

	applied, err := a.ledger.applied(ctx, db)
	if err != nil {
		return nil, errs.Wrap(errs.KindMigration, "read ledger", err)
	}
	pending, upToDate, err := plan(applied, scripts)
	if err != nil {
		return nil, err
	}

	result := &Result{UpToDate: upToDate}
	if len(pending) == 0 {
		a.log.Info("No pending migrations.")
		return result, nil
	}

	a.log.Infof("Applying %d migration(s)...", len(pending))
	for _, s := range pending {
		if err := a.applyOne(ctx, db, s); err != nil {
			a.log.With().Str("version", s.Version).Str("script", s.Name()).Err(err).Logger().Error("migration failed")
			return result, errs.MigrationFailure(s.Version, err)
		}
		result.Applied = append(result.Applied, s)
	}

	a.log.Info("All migrations applied.")
	return result, nil
}

// Pending returns the scripts Apply would run, after validating the ledger.
// It only reads; a database without a ledger has every script pending.
func (a *Applier) Pending(ctx context.Context, db *sql.DB, scripts []Script) ([]Script, error) {
	applied, err := a.ledger.read(ctx, db)
	if err != nil {
		return nil, errs.Wrap(errs.KindMigration, "read ledger", err)
	}
	pending, _, err := plan(applied, scripts)
	return pending, err
}

// Status reports the ledger rows and the scripts that are not applied yet.
// Unlike Apply it does not validate checksums, so it can show a drifted ledger.
// It never creates the ledger table.
func (a *Applier) Status(ctx context.Context, db *sql.DB, scripts []Script) (*Status, error) {
	applied, err := a.ledger.read(ctx, db)
	if err != nil {
		return nil, errs.Wrap(errs.KindMigration, "read ledger", err)
	}

	done := make(map[string]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}

	st := &Status{Applied: applied}
	for _, s := range sorted(scripts) {
		if !done[s.Version] {
			st.Pending = append(st.Pending, s)
		}
	}
	return st, nil
}

// Preview writes the SQL of every pending script to w without applying anything.
func (a *Applier) Preview(ctx context.Context, db *sql.DB, scripts []Script, w io.Writer) error {
	pending, err := a.Pending(ctx, db, scripts)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(w, "No pending migrations.")
		return nil
	}

	fmt.Fprintln(w, "================ DRY RUN: Migration Preview ================")
	for _, s := range pending {
		fmt.Fprintf(w, "\n-- Migration %s: %s (%s) --\n", s.Version, s.Description, s.Name())
		fmt.Fprintln(w, s.SQL)
	}
	fmt.Fprintln(w, "============================================================")
	fmt.Fprintln(w, "(Dry run only. No migrations were applied.)")
	return nil
}

// plan validates the ledger against scripts and returns what is left to apply.
// A changed checksum or a ledger version without a script stops the run
// before anything is applied.
func plan(applied []AppliedMigration, scripts []Script) ([]Script, int, error) {
	byVersion := make(map[string]AppliedMigration, len(applied))
	for _, m := range applied {
		byVersion[m.Version] = m
	}

	local := make(map[string]bool, len(scripts))
	var pending []Script
	upToDate := 0
	for _, s := range sorted(scripts) {
		local[s.Version] = true
		m, ok := byVersion[s.Version]
		if !ok {
			pending = append(pending, s)
			continue
		}
		if m.Checksum != s.Checksum {
			return nil, 0, errs.MigrationFailure(s.Version,
				fmt.Errorf("%w: ledger has %s, %s has %s", errs.ErrChecksumMismatch, short(m.Checksum), s.Name(), short(s.Checksum)))
		}
		upToDate++
	}

	for _, m := range applied {
		if !local[m.Version] {
			return nil, 0, errs.MigrationFailure(m.Version,
				fmt.Errorf("%w: %s", errs.ErrMissingScript, m.Script))
		}
	}
	return pending, upToDate, nil
}

func (a *Applier) applyOne(ctx context.Context, db *sql.DB, s Script) (err error) {
	start := time.Now()
	a.log.Infof("Applying: %s", s.Name())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, s.SQL); err != nil {
		return fmt.Errorf("executing %s: %w", s.Name(), err)
	}
	if err = a.ledger.record(ctx, tx, s, a.installedBy, time.Since(start)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", s.Name(), err)
	}

	a.log.With().Str("version", s.Version).Str("elapsed", time.Since(start).String()).Logger().Debug("migration committed")
	return nil
}

func sorted(scripts []Script) []Script {
	out := make([]Script, len(scripts))
	copy(out, scripts)
	SortScripts(out)
	return out
}

func short(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
