package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemabuild/config"
)

var (
	initForce   bool
	initExample bool
)

const exampleMigration = `CREATE TABLE t (
    id   int PRIMARY KEY,
    name varchar NOT NULL
);
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a schemabuild.yaml and the migrations directory",
	Long: `Write a config file with the default build settings and create the
migrations directory.

Examples:
  schemabuild init                 # write schemabuild.yaml
  schemabuild init --example       # also add V1__create_t.sql
  schemabuild init --force         # overwrite an existing config
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfgFile); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
		}

		cfg := config.Defaults()
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cfgFile, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", cfgFile, err)
		}
		color.Green("✅ Created %s", cfgFile)

		if err := os.MkdirAll(cfg.Migrations.Dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", cfg.Migrations.Dir, err)
		}
		color.Green("✅ Created %s/", cfg.Migrations.Dir)

		if initExample {
			path := filepath.Join(cfg.Migrations.Dir, "V1__create_t.sql")
			if _, err := os.Stat(path); err == nil {
				color.Yellow("⚠️  %s already exists, leaving it alone", path)
			} else if err := os.WriteFile(path, []byte(exampleMigration), 0644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			} else {
				color.Green("✅ Created %s", path)
			}
		}

		fmt.Println("📝 Add migrations as V<version>__<description>.sql")
		fmt.Println("🚀 Run 'schemabuild build' to migrate a fresh database and generate code")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initExample, "example", false, "Add an example migration")
}
