package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemabuild/config"
	"github.com/ridoystarlord/schemabuild/database"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/generator"
	"github.com/ridoystarlord/schemabuild/introspect"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate Go code from an existing database schema",
	Long: `Introspect one schema of the configured database and regenerate the output
directory. Previous contents of the directory are replaced.

Examples:
  schemabuild generate                          # config connection and output
  schemabuild generate --schema billing         # another schema
  schemabuild generate -o internal/db -p db     # custom output and package
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

		gen, err := generator.New(cfg.Generate, cfg.Migrations.Table, log)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		pool, err := database.OpenPool(ctx, conn)
		if err != nil {
			return errs.IntrospectionFailure(conn.Schema, err)
		}
		defer pool.Close()

		artifacts, err := gen.Generate(ctx, introspect.NewPgCatalog(pool), conn.Schema, cfg.Generate.Output)
		if err != nil {
			return err
		}

		color.Green("✅ Generated %d file(s) in %s/", len(artifacts.Files), artifacts.Dir)
		for _, f := range artifacts.Files {
			color.Cyan("   - %s", f)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringP("package", "p", "", "Package name for generated code")
	bindFlag(generateCmd.Flags(), config.KeyPackage, "package")
}
