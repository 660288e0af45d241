// Package commands implements the dicomul CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/cmd/dicomul/commands/config"
)

var (
	// Set from main at startup.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dicomul",
	Short: "dicomul - DICOM Upper Layer acceptor and requestor",
	Long: `dicomul speaks the DICOM Upper Layer protocol over TCP. It runs an
acceptor that negotiates associations against a configured presentation
context policy, captures the commands and datasets it receives and audits
every association. The same binary is a requestor for testing peers.

Use "dicomul [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dicomul/config.yaml)")

	// Server lifecycle.
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, logsCmd, associationsCmd)
	// Requestor and credentials.
	rootCmd.AddCommand(echoCmd, tokenCmd, passwdCmd, peerCmd)
	rootCmd.AddCommand(config.Cmd, versionCmd, completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
