package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/internal/cli/prompt"
	"github.com/marmos91/dicomul/pkg/auth/password"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Hash a password for the identity user table",
	Long: `Prompt for a password and print a users entry for identity.users.

Example:
  dicomul passwd alice >> users.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := prompt.NewPassword(8)
		if err != nil {
			return err
		}
		hash, err := password.HashPassword(pw)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "- username: %s\n  password_hash: %q\n", args[0], hash)
		return err
	},
}
