package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cadops/cadet/pkg/locker"
	"github.com/cadops/cadet/pkg/model"
	"github.com/cadops/cadet/pkg/transform"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [<archive>...]",
	Short: "Show the export and lock state of tracked archives",
	Long: `Shows, for each tracked archive (or the ones given): whether the file
on disk is an exported placeholder or carries direct edits, the marker
generation of its tree, and who currently holds its lock.

Lock information needs the lock primitive and is skipped with a warning
when it is unavailable.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		env, err := newRunEnv(ctx, true)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}

		archives, err := statusTargets(ctx, env, args)
		if err != nil {
			wrapFatalln("resolve archives", err)
			return
		}
		if len(archives) == 0 {
			infoLogger.Println("no tracked archives")
			return
		}

		locks := locker.New(env.fs, env.git, env.cfg, locker.Logger(env.l))
		holders := make(map[string]model.LockRecord)
		if records, lerr := locks.ListActive(ctx); lerr == nil {
			for _, r := range records {
				holders[r.Path] = r
			}
		} else {
			env.l.Warn("lock listing unavailable: " + lerr.Error())
		}

		tr := transform.New(env.fs, env.cfg, transform.Logger(env.l))
		table := uitable.New()
		table.AddRow("ARCHIVE", "STATE", "GENERATION", "LOCK")
		for _, rel := range archives {
			full := filepath.Join(env.root, filepath.FromSlash(rel))
			table.AddRow(rel,
				archiveState(env, full),
				markerGeneration(tr, full),
				lockState(holders, rel, env.cfg))
		}
		infoLogger.Println(table)
	},
}

// statusTargets resolves the archives to report on: the arguments when
// given, every tracked archive otherwise.
func statusTargets(ctx context.Context, env *runEnv, args []string) ([]string, error) {
	if len(args) > 0 {
		out := make([]string, 0, len(args))
		for _, arg := range args {
			_, rel, err := env.archiveArg(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, rel)
		}
		return out, nil
	}
	tracked, err := env.git.TrackedFiles(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range tracked {
		if model.MatchesAny(env.cfg.ArchivePatterns, p) {
			out = append(out, model.ToSlash(p))
		}
	}
	return out, nil
}

func archiveState(env *runEnv, full string) string {
	fi, err := env.fs.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return color.RedString("missing")
		}
		return color.RedString(err.Error())
	}
	if fi.Size() <= env.cfg.EmptyThreshold {
		return color.GreenString("exported")
	}
	return color.YellowString("unexported (%s)", units.HumanSize(float64(fi.Size())))
}

func markerGeneration(tr *transform.Transformer, full string) string {
	m, err := tr.ReadMarker(full)
	if err != nil || m.Generation == "" {
		return "-"
	}
	return m.Generation
}

func lockState(holders map[string]model.LockRecord, rel string, cfg model.Config) string {
	r, held := holders[model.MarkerPath(rel, cfg)]
	if !held {
		return "-"
	}
	return color.YellowString(r.Owner)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
