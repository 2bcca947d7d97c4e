package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemabuild/config"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/provision"
	"github.com/ridoystarlord/schemabuild/sequencer"
)

var migrateOnly bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Provision a database, migrate it, generate code and tear it down",
	Long: `Run the full build sequence against a disposable Postgres container.

The container is bound to the configured fixed port. If the port is taken the
build fails immediately. Once the container is up it is always removed, also
when migration or generation fails.

Examples:
  schemabuild build                     # provision, migrate, generate, tear down
  schemabuild build --migrate-only      # skip code generation
  schemabuild build --port 55432        # use another fixed port
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		rt, err := provision.NewDockerRuntime()
		if err != nil {
			return errs.ProvisionFailure("docker", err)
		}
		defer rt.Close()

		prov := provision.NewDockerProvisioner(rt, cfg, provision.WithLogger(log))
		migrate := sequencer.MigrateStage{Dir: cfg.Migrations.Dir, Table: cfg.Migrations.Table, Log: log}
		generate := sequencer.GenerateStage{Config: cfg.Generate, LedgerTable: cfg.Migrations.Table, Log: log}

		opts := []sequencer.Option{sequencer.WithLogger(log)}
		if migrateOnly {
			opts = append(opts, sequencer.MigrateOnly())
		}

		printBuildHeader(cfg)
		report := sequencer.New(prov, migrate, generate, opts...).Run(cmd.Context())
		printReport(report)

		if report.Failed {
			return fmt.Errorf("build failed in %s stage: %w", report.Stage, report.Err)
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().BoolVar(&migrateOnly, "migrate-only", false, "Stop after applying migrations")
	buildCmd.Flags().String("image", "", "Database container image")
	buildCmd.Flags().Duration("startup-timeout", 0, "How long to wait for the database to accept connections")

	bindFlag(buildCmd.Flags(), config.KeyImage, "image")
	bindFlag(buildCmd.Flags(), config.KeyStartupTimeout, "startup-timeout")
}

func printBuildHeader(cfg config.Config) {
	cyan := color.New(color.FgCyan)
	cyan.Printf("🐘 Image:      %s\n", cfg.Image)
	cyan.Printf("🔌 Database:   %s (schema %s)\n", cfg.Connection.JDBCStyleURL(), cfg.Connection.Schema)
	cyan.Printf("📁 Migrations: %s\n", cfg.Migrations.Dir)
	cyan.Printf("📦 Output:     %s (package %s)\n", cfg.Generate.Output, cfg.Generate.Package)
}

func printReport(report sequencer.Report) {
	trail := make([]string, len(report.Trail))
	for i, st := range report.Trail {
		trail[i] = string(st)
	}
	fmt.Println("   " + strings.Join(trail, " → "))

	if report.TeardownErr != nil {
		color.New(color.FgYellow).Printf("⚠️  Teardown: %v\n", report.TeardownErr)
	}
	if report.Failed {
		color.New(color.FgRed, color.Bold).Printf("❌ Build failed (%s)\n", report.Stage)
		return
	}
	color.New(color.FgGreen, color.Bold).Println("✅ Build succeeded")
}
