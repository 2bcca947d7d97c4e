package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemabuild/database"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/runner"
)

var dryRunMigrate bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations to an existing database",
	Long: `Apply pending migrations to the configured database without provisioning one.

Examples:
  schemabuild migrate                                  # use the config connection
  schemabuild migrate --url postgres://u:p@host/db     # use a URL
  schemabuild migrate --dry-run                        # print pending SQL only
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		conn, err := targetConnection(cfg)
		if err != nil {
			return err
		}

		scripts, err := runner.LoadScripts(cfg.Migrations.Dir, log)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		db, err := database.OpenDB(ctx, conn)
		if err != nil {
			return errs.Wrap(errs.KindMigration, "connect", err)
		}
		defer db.Close()

		applier := runner.NewApplier(runner.Postgres, cfg.Migrations.Table, log)
		if dryRunMigrate {
			return applier.Preview(ctx, db, scripts, os.Stdout)
		}

		result, err := applier.Apply(ctx, db, scripts)
		if result != nil {
			for _, s := range result.Applied {
				color.Green("✅ Applied %s", s.Name())
			}
		}
		if err != nil {
			return err
		}
		color.New(color.FgGreen, color.Bold).Printf("🎉 %d applied, %d already up to date\n", len(result.Applied), result.UpToDate)
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&dryRunMigrate, "dry-run", false, "Preview the SQL that would be executed without applying migrations")
}
