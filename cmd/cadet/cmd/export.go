package cmd

import (
	"context"

	"github.com/cadops/cadet/pkg/transform"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <archive> [<archive>...]",
	Short: "Expand archives into their diff-friendly trees",
	Long: `Expands each archive into its expanded tree, packs matched binary
members into size-capped chunk archives, writes the tree marker and
replaces the archive file with an empty placeholder.

An archive that is already a placeholder is skipped. The source archive
is only replaced once the whole tree has been written, an interrupted
export is recovered by running it again.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := newRunEnv(ctx, false)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}
		actor, err := env.resolveActor(ctx, cadetFlags.transform.actor)
		if err != nil {
			// exports without an identity are fine, markers record "unknown actor" as empty
			actor = ""
		}
		opts := []transform.Option{transform.Actor(actor), transform.Logger(env.l)}
		if cadetFlags.transform.tree != "" {
			opts = append(opts, transform.Destination(cadetFlags.transform.tree))
		}
		tr := transform.New(env.fs, env.cfg, opts...)

		for _, arg := range args {
			abs, rel, err := env.archiveArg(arg)
			if err != nil {
				wrapFatalln("bad archive path", err)
				return
			}
			res, err := tr.Export(ctx, abs)
			if err != nil {
				wrapFatalln("export "+rel, err)
				return
			}
			if res.Skipped {
				infoLogger.Printf("%s already exported", rel)
				continue
			}
			infoLogger.Printf("%s: %d member(s), %d chunk archive(s) under %s",
				color.GreenString(rel), res.Members, len(res.Chunked), res.TreeRoot)
			if cadetFlags.transform.stage {
				if err := env.git.Add(ctx, res.TreeRoot, abs); err != nil {
					wrapFatalln("stage export result", err)
					return
				}
			}
		}
	},
}

func init() {
	addTreeFlag(exportCmd)
	addActorFlag(exportCmd, &cadetFlags.transform.actor)
	addMaxChunkSizeFlag(exportCmd)
	addSkipChunkingFlag(exportCmd)
	addStageFlag(exportCmd)
	rootCmd.AddCommand(exportCmd)
}
