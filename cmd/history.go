package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemabuild/database"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/runner"
)

var (
	historyLimit    int
	historyDetailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the migration ledger",
	Long: `Show the rows of the migration ledger with install time, duration and user.

Examples:
  schemabuild history                    # newest first
  schemabuild history --limit 10         # last 10 migrations
  schemabuild history --detailed         # include checksums
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

		ctx := cmd.Context()
		db, err := database.OpenDB(ctx, conn)
		if err != nil {
			return errs.Wrap(errs.KindMigration, "connect", err)
		}
		defer db.Close()

		st, err := runner.NewApplier(runner.Postgres, cfg.Migrations.Table, log).Status(ctx, db, nil)
		if err != nil {
			return err
		}

		history := st.Applied
		if len(history) == 0 {
			fmt.Println("📋 No migration history found")
			return nil
		}

		sort.SliceStable(history, func(i, j int) bool {
			return history[i].InstalledOn.After(history[j].InstalledOn)
		})
		if historyLimit > 0 && len(history) > historyLimit {
			history = history[:historyLimit]
		}

		showMigrationHistory(history, historyDetailed)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 0, "Show only the newest N migrations")
	historyCmd.Flags().BoolVarP(&historyDetailed, "detailed", "d", false, "Show checksums and script names")
}

func showMigrationHistory(history []runner.AppliedMigration, detailed bool) {
	blue := color.New(color.FgBlue, color.Bold)
	cyan := color.New(color.FgCyan)

	fmt.Println("📋 Migration History")
	fmt.Println(strings.Repeat("=", 60))

	for i, m := range history {
		fmt.Printf("\n%d. ", i+1)
		blue.Printf("V%s %s\n", m.Version, m.Description)
		cyan.Printf("   📅 Installed: %s\n", m.InstalledOn.Format("2006-01-02 15:04:05"))
		cyan.Printf("   ⏱️  Duration: %v\n", m.ExecutionTime)
		cyan.Printf("   👤 User: %s\n", m.InstalledBy)
		if detailed {
			cyan.Printf("   📄 Script: %s\n", m.Script)
			cyan.Printf("   🔒 Checksum: %s\n", m.Checksum)
		}
	}
}
