package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemabuild/database"
	"github.com/ridoystarlord/schemabuild/introspect"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database connectivity",
	Long: `Check that the configured database is reachable and report its version,
whether the schema exists and whether the migration ledger is present.

Examples:
  schemabuild health                    # check the config connection
  schemabuild health --timeout 10s      # set a custom timeout
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		conn, err := targetConnection(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		pool, err := database.OpenPool(ctx, conn)
		if err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
		defer pool.Close()

		version, err := database.ServerVersion(ctx, pool)
		if err != nil {
			return err
		}
		color.Green("✅ Database at %s is healthy (PostgreSQL %s)", conn.Address(), version)

		catalog := introspect.NewPgCatalog(pool)
		exists, err := catalog.SchemaExists(ctx, conn.Schema)
		if err != nil {
			return err
		}
		if !exists {
			color.Yellow("⚠️  Schema %q not found", conn.Schema)
			return nil
		}

		tables, err := catalog.Relations(ctx, conn.Schema)
		if err != nil {
			return err
		}
		for _, t := range tables {
			if t.Name == cfg.Migrations.Table {
				fmt.Printf("📊 Migration ledger %s.%s present\n", conn.Schema, t.Name)
				return nil
			}
		}
		color.Yellow("⚠️  Migration ledger %s not found. Run 'schemabuild migrate' to create it.", cfg.Migrations.Table)
		return nil
	},
}

func init() {
	healthCmd.Flags().DurationVarP(&healthTimeout, "timeout", "t", 5*time.Second, "Timeout for health check")
}
