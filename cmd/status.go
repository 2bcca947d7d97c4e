package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemabuild/database"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/runner"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
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

		st, err := runner.NewApplier(runner.Postgres, cfg.Migrations.Table, log).Status(ctx, db, scripts)
		if err != nil {
			return err
		}

		checksums := map[string]string{}
		for _, s := range scripts {
			checksums[s.Version] = s.Checksum
		}

		fmt.Println("✅ Applied migrations:")
		for _, m := range st.Applied {
			local, ok := checksums[m.Version]
			switch {
			case !ok:
				color.Red("   - %s (script missing)", m.Script)
			case local != m.Checksum:
				color.Yellow("   - %s (checksum changed)", m.Script)
			default:
				fmt.Println("   -", m.Script)
			}
		}

		fmt.Println("\n🕒 Pending migrations:")
		for _, s := range st.Pending {
			fmt.Println("   -", s.Name())
		}
		return nil
	},
}
