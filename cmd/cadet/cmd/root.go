package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	isatty "github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cadet",
	Short: "Cadet puts opaque CAD archives under git",
	Long: `Cadet puts large, opaque CAD archive files under git by expanding each
archive into a diff-friendly directory tree, packing residual binary
payloads into size-capped chunk archives, and coordinating exclusive
per-file edit rights through git-lfs file locks.

Install the git hooks once per clone with "cadet install": from then on
commits of unexported archive content are blocked, checkouts and merges
rematerialize working archives from their trees, and pushes are gated on
the locks the pusher holds.
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cadetFlags.root.noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
			color.NoColor = true
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	addRepoFlag(rootCmd)
	addLogLevelFlag(rootCmd)
	addNoColorFlag(rootCmd)
}
