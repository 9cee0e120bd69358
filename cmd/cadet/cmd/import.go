package cmd

import (
	"context"

	"github.com/cadops/cadet/pkg/transform"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <archive-or-tree> [<archive-or-tree>...]",
	Short: "Rebuild archives from their expanded trees",
	Long: `Rebuilds each archive from its expanded tree: chunk archives are
unpacked first, then every tree file except the marker and the chunk
containers is written into a freshly built archive, staged next to its
destination and renamed into place only once complete.

Arguments may name either end of the mapping, the archive file or its
expanded tree directory.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := newRunEnv(ctx, false)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}
		opts := []transform.Option{transform.Logger(env.l)}
		if cadetFlags.transform.tree != "" {
			opts = append(opts, transform.Destination(cadetFlags.transform.tree))
		}
		tr := transform.New(env.fs, env.cfg, opts...)

		for _, arg := range args {
			abs, rel, err := env.archiveArg(arg)
			if err != nil {
				wrapFatalln("bad path", err)
				return
			}
			res, err := tr.Import(ctx, abs)
			if err != nil {
				wrapFatalln("import "+rel, err)
				return
			}
			line := color.GreenString(res.Archive)
			if res.Drifted {
				line += color.YellowString(" (tree drifted from its marker)")
			}
			infoLogger.Printf("%s: %d member(s), %s",
				line, res.Members, units.HumanSize(float64(res.Bytes)))
		}
	},
}

func init() {
	addTreeFlag(importCmd)
	rootCmd.AddCommand(importCmd)
}
