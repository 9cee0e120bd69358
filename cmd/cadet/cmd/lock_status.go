package cmd

import (
	"context"

	"github.com/cadops/cadet/pkg/locker"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var lockStatusCmd = &cobra.Command{
	Use:   "status <archive>",
	Short: "Show who holds the lock on an archive",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := newRunEnv(ctx, true)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}
		_, rel, err := env.archiveArg(args[0])
		if err != nil {
			wrapFatalln("bad archive path", err)
			return
		}
		locks := locker.New(env.fs, env.git, env.cfg, locker.Logger(env.l))
		record, held, err := locks.Holder(ctx, rel)
		if err != nil {
			wrapFatalln("query lock", err)
			return
		}
		if !held {
			infoLogger.Printf("%s is not locked", rel)
			return
		}
		infoLogger.Printf("%s is locked by %s (id %s)",
			rel, color.YellowString(record.Owner), record.ID)
	},
}

func init() {
	lockCmd.AddCommand(lockStatusCmd)
}
