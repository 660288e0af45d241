// Package config holds the "dicomul config" subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is "dicomul config".
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Create, inspect and validate the configuration file",
}

func init() {
	Cmd.AddCommand(initCmd, editCmd, validateCmd, showCmd, schemaCmd)
}

// configPath returns the --config value inherited from the root command.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
