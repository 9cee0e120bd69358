package cmd

import (
	"context"
	"os"

	"github.com/cadops/cadet/pkg/lifecycle"
	"github.com/spf13/cobra"
)

// hookCmd namespaces the entry points git invokes through the installed
// hook scripts. Exit codes follow the hook contract: 0 allows the
// operation, 1 blocks it on policy, 2 reports an internal failure.
var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Entry points for the installed git hooks",
	Long:   `The subcommands are invoked by the hook scripts "cadet install" writes. They are not meant to be run by hand.`,
	Hidden: true,
}

// newHooks builds the lifecycle dispatcher for one hook invocation. Any
// failure to stand up the environment is an internal error per the hook
// exit contract.
func newHooks(ctx context.Context) *lifecycle.Hooks {
	env, err := newRunEnv(ctx, true)
	if err != nil {
		wrapFatalWithCodef(lifecycle.CodeInternal, "cadet: %v", err)
		return nil
	}
	return lifecycle.New(env.fs, env.git, env.cfg, lifecycle.Logger(env.l))
}

// exitOutcome maps a lifecycle outcome onto the process exit code, with
// the reason on standard error where git surfaces it to the user.
func exitOutcome(out lifecycle.Outcome) {
	if out.Allowed() {
		return
	}
	wrapFatalWithCodef(out.Code, "cadet: %s", out.Reason)
}

var hookPreCommitCmd = &cobra.Command{
	Use:   "pre-commit",
	Short: "Gate a commit on exported archives and held locks",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if h := newHooks(ctx); h != nil {
			exitOutcome(h.PreCommit(ctx))
		}
	},
}

var hookPostCheckoutCmd = &cobra.Command{
	Use:   "post-checkout <old> <new> <branch-flag>",
	Short: "Rematerialize archives after a checkout",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if h := newHooks(ctx); h != nil {
			exitOutcome(h.PostCheckout(ctx, args[0], args[1], args[2]))
		}
	},
}

var hookPostMergeCmd = &cobra.Command{
	Use:   "post-merge <squash-flag>",
	Short: "Rematerialize archives after a merge",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if h := newHooks(ctx); h != nil {
			exitOutcome(h.PostMerge(ctx, args[0]))
		}
	},
}

var hookPostRewriteCmd = &cobra.Command{
	Use:   "post-rewrite <kind>",
	Short: "Rematerialize archives after a history rewrite",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if h := newHooks(ctx); h != nil {
			exitOutcome(h.PostRewrite(ctx, args[0]))
		}
	},
}

var hookPrePushCmd = &cobra.Command{
	Use:   "pre-push <remote> <url>",
	Short: "Gate a push on held locks",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if h := newHooks(ctx); h != nil {
			exitOutcome(h.PrePush(ctx, args[0], args[1], os.Stdin))
		}
	},
}

func init() {
	hookCmd.AddCommand(
		hookPreCommitCmd,
		hookPostCheckoutCmd,
		hookPostMergeCmd,
		hookPostRewriteCmd,
		hookPrePushCmd,
	)
	rootCmd.AddCommand(hookCmd)
}
