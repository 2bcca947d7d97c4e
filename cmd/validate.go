package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/generator"
	"github.com/ridoystarlord/schemabuild/runner"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config, migration scripts and type rules without a database",
	Long: `Validate everything a build needs before any container is started:

- config values (ports, timeouts, package name, policies)
- migration file names and duplicate versions; a misnamed .sql file fails
- type remapping rules and exclude patterns

Examples:
  schemabuild validate
  schemabuild validate --config ci.yaml
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen)
		green.Println("✅ Config is valid")

		scripts, skipped, err := runner.ScanScripts(cfg.Migrations.Dir)
		if err != nil {
			return err
		}
		green.Printf("✅ %d migration script(s) in %s\n", len(scripts), cfg.Migrations.Dir)
		for _, s := range scripts {
			fmt.Printf("   - V%s %s\n", s.Version, s.Description)
		}
		if len(skipped) > 0 {
			yellow := color.New(color.FgYellow)
			for _, s := range skipped {
				yellow.Printf("⚠️  %s would never be applied: %s\n", s.Name, s.Reason)
			}
			return errs.Invalid(fmt.Sprintf("%d misnamed file(s) in %s", len(skipped), cfg.Migrations.Dir))
		}

		if _, err := generator.New(cfg.Generate, cfg.Migrations.Table, log); err != nil {
			return err
		}
		green.Printf("✅ %d type rule(s) compiled\n", len(cfg.Generate.Rules))
		return nil
	},
}
