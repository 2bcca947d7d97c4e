package sequencer

import (
	"context"
	"errors"

	"github.com/ridoystarlord/schemabuild/config"
	"github.com/ridoystarlord/schemabuild/database"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/generator"
	"github.com/ridoystarlord/schemabuild/introspect"
	"github.com/ridoystarlord/schemabuild/logger"
	"github.com/ridoystarlord/schemabuild/runner"
)

// MigrateStage applies the scripts in Dir through the pgx database/sql driver.
type MigrateStage struct {
	Dir   string
	Table string
	Log   *logger.Logger
}

func (m MigrateStage) Apply(ctx context.Context, conn config.Connection) error {
	scripts, err := runner.LoadScripts(m.Dir, m.Log)
	if err != nil {
		return asKind(errs.KindMigration, "load scripts from "+m.Dir, err)
	}

	db, err := database.OpenDB(ctx, conn)
	if err != nil {
		return errs.Wrap(errs.KindMigration, "connect", err)
	}
	defer db.Close()

	_, err = runner.NewApplier(runner.Postgres, m.Table, m.Log).Apply(ctx, db, scripts)
	return err
}

// GenerateStage introspects the connection's schema and writes code.
type GenerateStage struct {
	Config      config.Generate
	LedgerTable string
	Log         *logger.Logger
}

func (g GenerateStage) Generate(ctx context.Context, conn config.Connection) error {
	gen, err := generator.New(g.Config, g.LedgerTable, g.Log)
	if err != nil {
		return err
	}

	pool, err := database.OpenPool(ctx, conn)
	if err != nil {
		return errs.IntrospectionFailure(conn.Schema, err)
	}
	defer pool.Close()

	_, err = gen.Generate(ctx, introspect.NewPgCatalog(pool), conn.Schema, g.Config.Output)
	return err
}

// asKind keeps errors that already carry a kind and wraps the rest.
func asKind(kind errs.Kind, msg string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Wrap(kind, msg, err)
}
