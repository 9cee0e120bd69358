package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadops/cadet/pkg/transform"
	"github.com/cadops/cadet/pkg/watcher"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [<dir>]",
	Short: "Export archives automatically as they are saved",
	Long: `Watches a directory tree (the repository root by default) for saves of
tracked archives and runs the export after each save settles. A save is
reported once the file stays quiet for the quiet period, and a chatty
application saving in bursts is rate limited per archive.

Runs until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		env, err := newRunEnv(ctx, false)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}
		dir := env.root
		if len(args) == 1 {
			dir = args[0]
		}
		actor, err := env.resolveActor(ctx, cadetFlags.transform.actor)
		if err != nil {
			actor = ""
		}

		w, err := watcher.New(dir, env.cfg, watcher.Options{
			QuietPeriod: cadetFlags.watch.quiet,
			MinGap:      cadetFlags.watch.minGap,
			Logger:      env.l,
		})
		if err != nil {
			wrapFatalln("start watch", err)
			return
		}

		tr := transform.New(env.fs, env.cfg, transform.Actor(actor), transform.Logger(env.l))
		exp := watcher.NewExporter(w, func(ctx context.Context, archive string) error {
			_, err := tr.Export(ctx, archive)
			return err
		}, watcher.ExporterLogger(env.l))

		go func() {
			<-ctx.Done()
			_ = w.Close()
		}()
		if err := exp.Run(ctx); err != nil && err != context.Canceled {
			wrapFatalln("watch", err)
			return
		}
		infoLogger.Println("watch stopped")
	},
}

func init() {
	watchCmd.Flags().DurationVar(&cadetFlags.watch.quiet, "quiet-period", 2*time.Second,
		"How long an archive must stay quiet after a write before it is exported")
	watchCmd.Flags().DurationVar(&cadetFlags.watch.minGap, "min-gap", 5*time.Second,
		"Smallest interval between two exports of the same archive")
	addActorFlag(watchCmd, &cadetFlags.transform.actor)
	addMaxChunkSizeFlag(watchCmd)
	rootCmd.AddCommand(watchCmd)
}
