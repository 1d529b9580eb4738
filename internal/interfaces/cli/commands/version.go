package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gowikimark/gowikimark/pkg/gowikimark"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "gowikimark version %s\n", version)
			fmt.Fprintf(w, "  library: %s\n", gowikimark.GetVersion())
			fmt.Fprintf(w, "  commit: %s\n", commit)
			fmt.Fprintf(w, "  built: %s\n", date)
			fmt.Fprintf(w, "  go: %s\n", runtime.Version())
		},
	}
}
