package cmd

import (
	"context"

	"github.com/cadops/cadet/pkg/errors"
	"github.com/cadops/cadet/pkg/locker"
	lockerstatus "github.com/cadops/cadet/pkg/locker/status"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <archive>",
	Short: "Give up the edit lock on an archive",
	Long: `Releases the distributed edit lock on an archive. Only the holder can
release a lock, --force breaks a lock someone else abandoned.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := newRunEnv(ctx, true)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}
		actor, err := env.resolveActor(ctx, cadetFlags.lock.actor)
		if err != nil {
			wrapFatalln("resolve acting identity", err)
			return
		}
		_, rel, err := env.archiveArg(args[0])
		if err != nil {
			wrapFatalln("bad archive path", err)
			return
		}
		locks := locker.New(env.fs, env.git, env.cfg, locker.Logger(env.l))
		if err := locks.Release(ctx, rel, actor, cadetFlags.lock.force); err != nil {
			switch {
			case errors.Is(err, lockerstatus.ErrNotLocked):
				wrapFatalWithCodef(1, "%s is not locked", rel)
			default:
				var held *locker.HeldError
				if errors.As(err, &held) {
					wrapFatalWithCodef(1, "%s is locked by %s (use --force to break it)",
						held.Path, color.RedString(held.Owner))
					return
				}
				wrapFatalln("unlock "+rel, err)
			}
			return
		}
		infoLogger.Printf("unlocked %s", color.GreenString(rel))
	},
}

func init() {
	addForceFlag(unlockCmd)
	addActorFlag(unlockCmd, &cadetFlags.lock.actor)
	rootCmd.AddCommand(unlockCmd)
}
