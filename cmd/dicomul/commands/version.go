package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/marmos91/dicomul/pkg/ul/assoc"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "dicomul %s\n", Version)
		_, _ = fmt.Fprintf(out, "  commit:                  %s\n", Commit)
		_, _ = fmt.Fprintf(out, "  built:                   %s\n", Date)
		_, _ = fmt.Fprintf(out, "  go:                      %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		_, _ = fmt.Fprintf(out, "  implementation class:    %s\n", assoc.ImplementationClassUID)
		_, _ = fmt.Fprintf(out, "  implementation version:  %s\n", assoc.ImplementationVersionName)
	},
}
