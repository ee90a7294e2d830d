package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for build, Go, and Gofulmen details.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !extended {
			_, err := fmt.Fprintf(out, "%s %s\n", binaryName, versionInfo.Version)
			return err
		}

		deps := crucible.GetVersion()
		lines := []string{
			fmt.Sprintf("%s %s", binaryName, versionInfo.Version),
			fmt.Sprintf("Commit:   %s", versionInfo.Commit),
			fmt.Sprintf("Built:    %s", versionInfo.BuildDate),
			fmt.Sprintf("Go:       %s (%s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH),
			fmt.Sprintf("Gofulmen: %s", deps.Gofulmen),
			fmt.Sprintf("Crucible: %s", deps.Crucible),
		}
		_, err := fmt.Fprint(out, ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
