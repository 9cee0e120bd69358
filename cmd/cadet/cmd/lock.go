package cmd

import (
	"context"

	"github.com/cadops/cadet/pkg/errors"
	"github.com/cadops/cadet/pkg/locker"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock <archive>",
	Short: "Take the edit lock on an archive",
	Long: `Takes the distributed edit lock on an archive. The lock is held on
the archive's tree marker through git-lfs file locking, so exactly one
person at a time may change the archive across every clone.

When the archive was never exported its marker is created and staged
first, git-lfs refuses to lock a path it has never seen.

With --force a lock held by someone else is broken and re-taken.`,
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
		if err := locks.Acquire(ctx, rel, actor, cadetFlags.lock.force); err != nil {
			var held *locker.HeldError
			if errors.As(err, &held) {
				wrapFatalWithCodef(1, "%s is locked by %s (use --force to steal it)",
					held.Path, color.RedString(held.Owner))
				return
			}
			wrapFatalln("lock "+rel, err)
			return
		}
		infoLogger.Printf("locked %s as %s", color.GreenString(rel), actor)
	},
}

func init() {
	addForceFlag(lockCmd)
	addActorFlag(lockCmd, &cadetFlags.lock.actor)
	rootCmd.AddCommand(lockCmd)
}
