package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cadops/cadet/pkg/model"
	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// hookSignature identifies hook scripts written by cadet, so install and
// uninstall never touch scripts owned by something else.
const hookSignature = "# installed by cadet"

var hookEvents = []model.EventKind{
	model.EventPreCommit,
	model.EventPostCheckout,
	model.EventPostMerge,
	model.EventPostRewrite,
	model.EventPrePush,
}

func hookScript(event model.EventKind) string {
	return fmt.Sprintf("#!/bin/sh\n%s, regenerate with \"cadet install --force\"\ncadet hook %s \"$@\"\n",
		hookSignature, event)
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the cadet git hooks into this clone",
	Long: `Writes the pre-commit, post-checkout, post-merge, post-rewrite and
pre-push hook scripts into the repository's hook directory, honoring
core.hooksPath. Each script delegates to "cadet hook <event>".

An existing hook not written by cadet is left alone and reported,
--force overwrites it.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := newRunEnv(ctx, true)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}
		hooksDir, err := env.git.HooksDir(ctx)
		if err != nil {
			wrapFatalln("resolve hook directory", err)
			return
		}
		if err := env.fs.MkdirAll(hooksDir, 0755); err != nil {
			wrapFatalln("create hook directory", err)
			return
		}
		var kept []string
		for _, event := range hookEvents {
			target := filepath.Join(hooksDir, string(event))
			if !cadetFlags.install.force {
				if owned, exists := ownedHook(env.fs, target); exists && !owned {
					kept = append(kept, string(event))
					continue
				}
			}
			if err := afero.WriteFile(env.fs, target, []byte(hookScript(event)), 0755); err != nil {
				wrapFatalln("write hook "+string(event), err)
				return
			}
		}
		if len(kept) > 0 {
			wrapFatalWithCodef(1, "existing hook(s) not written by cadet, rerun with --force to overwrite: %s",
				strings.Join(kept, ", "))
			return
		}
		infoLogger.Printf("hooks installed under %s", color.GreenString(hooksDir))
	},
}

// ownedHook reports whether target exists and whether cadet wrote it
func ownedHook(fs afero.Fs, target string) (owned, exists bool) {
	buf, err := afero.ReadFile(fs, target)
	if err != nil {
		return false, false
	}
	return strings.Contains(string(buf), hookSignature), true
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the cadet git hooks from this clone",
	Long:  `Removes the hook scripts "cadet install" wrote. Hooks owned by anything else are left untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := newRunEnv(ctx, true)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}
		hooksDir, err := env.git.HooksDir(ctx)
		if err != nil {
			wrapFatalln("resolve hook directory", err)
			return
		}
		removed := 0
		for _, event := range hookEvents {
			target := filepath.Join(hooksDir, string(event))
			owned, exists := ownedHook(env.fs, target)
			if !exists {
				continue
			}
			if !owned {
				env.l.Warn("leaving foreign hook in place: " + target)
				continue
			}
			if err := env.fs.Remove(target); err != nil {
				wrapFatalln("remove hook "+string(event), err)
				return
			}
			removed++
		}
		infoLogger.Printf("%d hook(s) removed", removed)
	},
}

func init() {
	force := "force"
	installCmd.Flags().BoolVar(&cadetFlags.install.force, force, false,
		"Overwrite existing hooks not written by cadet")
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
