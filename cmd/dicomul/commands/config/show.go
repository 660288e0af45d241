package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/internal/cli/output"
	"github.com/marmos91/dicomul/pkg/config"
)

var (
	showOutput  string
	showSecrets bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration dicomul would run with: the file merged with
DICOMUL_* environment overrides and defaults. Secrets are masked unless
--show-secrets is given.

Examples:
  dicomul config show
  dicomul config show -o json --show-secrets`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print secrets in clear")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return err
	}

	view := cfg.Redacted()
	if showSecrets {
		view = *cfg
	}
	if format == output.FormatJSON {
		return output.PrintJSON(os.Stdout, view)
	}
	return output.PrintYAML(os.Stdout, view)
}
