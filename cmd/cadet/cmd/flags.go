package cmd

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/cadops/cadet/pkg/config"
	"github.com/cadops/cadet/pkg/errors"
	cadetlog "github.com/cadops/cadet/pkg/log"
	"github.com/cadops/cadet/pkg/model"
	"github.com/cadops/cadet/pkg/vcs"
	vcsstatus "github.com/cadops/cadet/pkg/vcs/status"
	"github.com/go-openapi/runtime/flagext"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type flagsT struct {
	root struct {
		repo     string
		logLevel string
		noColor  bool
	}
	transform struct {
		tree         string
		actor        string
		maxChunkSize flagext.ByteSize
		skipChunking bool
		stage        bool
	}
	lock struct {
		force    bool
		actor    string
		template string
	}
	install struct {
		force bool
	}
	watch struct {
		quiet  time.Duration
		minGap time.Duration
	}
}

var cadetFlags flagsT

func addRepoFlag(cmd *cobra.Command) string {
	repo := "repo"
	cmd.PersistentFlags().StringVar(&cadetFlags.root.repo, repo, ".",
		"Path to the repository work tree (any directory inside it)")
	return repo
}

func addLogLevelFlag(cmd *cobra.Command) string {
	loglevel := "loglevel"
	cmd.PersistentFlags().StringVar(&cadetFlags.root.logLevel, loglevel, "",
		"The logging level, one of: info, debug, none (overrides the repository configuration)")
	return loglevel
}

func addNoColorFlag(cmd *cobra.Command) string {
	noColor := "no-color"
	cmd.PersistentFlags().BoolVar(&cadetFlags.root.noColor, noColor, false,
		"Disable colorized output")
	return noColor
}

func addTreeFlag(cmd *cobra.Command) string {
	tree := "tree"
	cmd.Flags().StringVar(&cadetFlags.transform.tree, tree, "",
		"Override the derived expanded tree location")
	return tree
}

func addActorFlag(cmd *cobra.Command, target *string) string {
	actor := "actor"
	cmd.Flags().StringVar(target, actor, "",
		"The acting identity (defaults to git user.name)")
	return actor
}

func addMaxChunkSizeFlag(cmd *cobra.Command) string {
	maxChunkSize := "max-chunk-size"
	cadetFlags.transform.maxChunkSize = 0
	cmd.Flags().Var(&cadetFlags.transform.maxChunkSize, maxChunkSize,
		"Cap on the size of a single chunk archive, e.g. 50MB (overrides the repository configuration)")
	return maxChunkSize
}

func addSkipChunkingFlag(cmd *cobra.Command) string {
	skipChunking := "skip-chunking"
	cmd.Flags().BoolVar(&cadetFlags.transform.skipChunking, skipChunking, false,
		"Leave binary members in the tree instead of packing them into chunk archives")
	return skipChunking
}

func addStageFlag(cmd *cobra.Command) string {
	stage := "stage"
	cmd.Flags().BoolVar(&cadetFlags.transform.stage, stage, false,
		"Stage the result with git add when the operation succeeds")
	return stage
}

func addForceFlag(cmd *cobra.Command) string {
	force := "force"
	cmd.Flags().BoolVar(&cadetFlags.lock.force, force, false,
		"Break a lock held by someone else")
	return force
}

func addTemplateFlag(cmd *cobra.Command) string {
	tmpl := "template"
	cmd.Flags().StringVar(&cadetFlags.lock.template, tmpl, "",
		"Go template rendering each line of the listing")
	return tmpl
}

// runEnv bundles what every command run needs: the repository root, its
// configuration snapshot, a logger and a git handle bounded by the
// configured timeout.
type runEnv struct {
	fs   afero.Fs
	root string
	cfg  model.Config
	git  *vcs.Git
	l    *zap.Logger
}

// newRunEnv resolves the repository around --repo and loads its
// configuration. Commands that can operate without a git checkout pass
// needRepo false and fall back to the flag directory.
func newRunEnv(ctx context.Context, needRepo bool) (*runEnv, error) {
	fs := afero.NewOsFs()
	root, err := vcs.New(cadetFlags.root.repo).Root(ctx)
	if err != nil {
		if needRepo {
			return nil, err
		}
		if !errors.Is(err, vcsstatus.ErrNoRepository) && !errors.Is(err, vcsstatus.ErrToolNotFound) {
			return nil, err
		}
		root, err = filepath.Abs(cadetFlags.root.repo)
		if err != nil {
			return nil, err
		}
	}

	cfg := config.Load(fs, root)
	if cadetFlags.root.logLevel != "" {
		cfg.LogLevel = cadetFlags.root.logLevel
	}
	l, err := cadetlog.GetLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	// reload with warnings visible now that the level is known
	cfg = config.Load(fs, root, config.Logger(l))
	if cadetFlags.root.logLevel != "" {
		cfg.LogLevel = cadetFlags.root.logLevel
	}
	if sz := int64(cadetFlags.transform.maxChunkSize); sz > 0 {
		cfg.MaxChunkSize = sz
	}
	if cadetFlags.transform.skipChunking {
		cfg.ChunkingEnabled = false
	}

	return &runEnv{
		fs:   fs,
		root: root,
		cfg:  cfg,
		git:  vcs.New(root, vcs.Timeout(cfg.CommandTimeout), vcs.Logger(l)),
		l:    l,
	}, nil
}

// resolveActor yields the flagged identity or the git configured one
func (e *runEnv) resolveActor(ctx context.Context, flagged string) (string, error) {
	if flagged != "" {
		return flagged, nil
	}
	return e.git.UserName(ctx)
}

// archiveArg normalizes a command line archive argument to an absolute
// path and its repository relative identity.
func (e *runEnv) archiveArg(arg string) (abs, rel string, err error) {
	abs, err = filepath.Abs(arg)
	if err != nil {
		return "", "", err
	}
	rel, err = filepath.Rel(e.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", errors.New("path is outside the repository").WrapMessage("%s", arg)
	}
	return abs, model.ToSlash(rel), nil
}
