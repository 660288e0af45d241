package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a sample configuration file",
	Long: `Create a sample dicomul configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/dicomul/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  dicomul config init

  # Initialize with custom path
  dicomul config init --config /etc/dicomul/config.yaml

  # Force overwrite existing config
  dicomul config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	var err error
	if path != "" {
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the policy section to list the abstract syntaxes you accept")
	_, _ = fmt.Fprintln(out, "  2. Start the acceptor with: dicomul start")
	_, _ = fmt.Fprintf(out, "  3. Or specify custom config: dicomul start --config %s\n", path)
	_, _ = fmt.Fprintln(out, "\nSecurity note:")
	_, _ = fmt.Fprintln(out, "  A random JWT secret has been generated for development use.")
	_, _ = fmt.Fprintln(out, "  For production, override it with an environment variable:")
	_, _ = fmt.Fprintln(out, "    export DICOMUL_IDENTITY_JWT_SECRET=$(openssl rand -hex 32)")
	return nil
}
