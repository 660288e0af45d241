package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dicomul configuration file.

Checks for syntax errors, missing required fields, invalid values and a
presentation context policy that cannot be built.

Examples:
  # Validate default config
  dicomul config validate

  # Validate specific config file
  dicomul config validate --config /etc/dicomul/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	policy, err := cfg.AcceptorPolicy()
	if err != nil {
		return fmt.Errorf("invalid presentation context policy: %w", err)
	}

	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := configWarnings(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  AE title:          %s\n", cfg.Policy.AETitle)
	_, _ = fmt.Fprintf(out, "  DICOM port:        %d\n", cfg.Server.Port)
	_, _ = fmt.Fprintf(out, "  Abstract syntaxes: %d\n", len(policy.AbstractSyntaxes()))
	_, _ = fmt.Fprintf(out, "  Capture store:     %s\n", cfg.Capture.Type)
	_, _ = fmt.Fprintf(out, "  Log level:         %s\n", cfg.Logging.Level)
	return nil
}

// configWarnings lists settings that load but are probably not intended.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	id := cfg.Identity
	providers := len(id.Users) > 0 || id.JWT.Enabled || id.Kerberos.Enabled
	if id.Enforce && !providers {
		warnings = append(warnings, "identity.enforce is set but no identity provider is configured: every association will be rejected")
	}
	if id.JWT.Enabled && id.JWT.Secret == "" {
		warnings = append(warnings, "identity.jwt is enabled without a secret")
	}
	if cfg.API.RequireToken && id.JWT.Secret == "" {
		warnings = append(warnings, "api.require_token is set without identity.jwt.secret: every API request will be refused")
	}
	if cfg.Capture.Type == "" || cfg.Capture.Type == "none" {
		warnings = append(warnings, "capture is disabled: received commands and datasets are discarded")
	}
	return warnings
}
