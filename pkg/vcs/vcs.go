// Package vcs shells out to git and git-lfs with bounded timeouts.
//
// Every subprocess runs under a deadline derived from the repository
// configuration, so a hung credential helper or network mount can never
// stall a hook forever. Failures are classified into the sentinel kinds
// of the status subpackage.
package vcs

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/cadops/cadet/pkg/errors"
	"github.com/cadops/cadet/pkg/model"
	"github.com/cadops/cadet/pkg/vcs/status"
	"go.uber.org/zap"
)

// EmptyTreeSHA is the well known id of the empty tree object, used to diff
// refs that have no counterpart on the remote yet.
const EmptyTreeSHA = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// patchable for testing
var lookPath = exec.LookPath

// Runner executes an external tool and captures its output. Tests
// substitute a scripted fake for the real binaries.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)
}

// InputRunner is an optional Runner extension for commands that consume
// standard input. Runners without it simply drop the input.
type InputRunner interface {
	RunInput(ctx context.Context, dir, input, name string, args ...string) (string, string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	return execRunner{}.RunInput(ctx, dir, "", name, args...)
}

func (execRunner) RunInput(ctx context.Context, dir, input, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Git drives the git and git-lfs command line tools for one working
// directory.
type Git struct {
	dir     string
	timeout time.Duration
	l       *zap.Logger
	runner  Runner
}

// Option alters the behavior of a Git instance
type Option func(*Git)

// Timeout bounds every individual subprocess invocation
func Timeout(d time.Duration) Option {
	return func(g *Git) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// Logger sets a logger for subprocess tracing
func Logger(l *zap.Logger) Option {
	return func(g *Git) {
		if l != nil {
			g.l = l
		}
	}
}

// WithRunner substitutes the subprocess runner, for tests
func WithRunner(r Runner) Option {
	return func(g *Git) {
		if r != nil {
			g.runner = r
		}
	}
}

// New yields a Git handle rooted at dir
func New(dir string, opts ...Option) *Git {
	g := &Git{
		dir:     dir,
		timeout: model.DefaultCommandTimeout,
		l:       zap.NewNop(),
		runner:  execRunner{},
	}
	for _, apply := range opts {
		apply(g)
	}
	return g
}

func (g *Git) run(ctx context.Context, name string, args ...string) (string, error) {
	return g.runInput(ctx, "", name, args...)
}

func (g *Git) runInput(ctx context.Context, input, name string, args ...string) (string, error) {
	rctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	g.l.Debug("exec", zap.String("tool", name), zap.Strings("args", args))
	var (
		stdout, stderr string
		err            error
	)
	if ir, ok := g.runner.(InputRunner); ok && input != "" {
		stdout, stderr, err = ir.RunInput(rctx, g.dir, input, name, args...)
	} else {
		stdout, stderr, err = g.runner.Run(rctx, g.dir, name, args...)
	}
	if err == nil {
		return stdout, nil
	}
	switch {
	case errors.Is(rctx.Err(), context.DeadlineExceeded):
		return "", status.ErrTimeout.WrapMessage("%s %s after %v", name, strings.Join(args, " "), g.timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		// the caller tore down the whole operation, not a tool failure
		return "", ctx.Err()
	case errors.Is(err, exec.ErrNotFound):
		return "", status.ErrToolNotFound.WrapMessage("%s", name)
	default:
		return "", status.ErrCommandFailed.WrapMessage("%s %s: %v: %s",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr))
	}
}

// Run executes a git subcommand and returns its standard output
func (g *Git) Run(ctx context.Context, args ...string) (string, error) {
	return g.run(ctx, "git", args...)
}

// LFS executes a git-lfs subcommand and returns its standard output.
// The PATH probe only applies to the real runner, a substituted runner
// brings its own tools.
func (g *Git) LFS(ctx context.Context, args ...string) (string, error) {
	return g.LFSWithInput(ctx, "", args...)
}

// LFSWithInput is LFS with bytes fed to the subcommand's standard input,
// as the hook passthroughs require.
func (g *Git) LFSWithInput(ctx context.Context, input string, args ...string) (string, error) {
	if _, ok := g.runner.(execRunner); ok {
		if _, err := lookPath("git-lfs"); err != nil {
			return "", status.ErrToolNotFound.WrapMessage("git-lfs")
		}
	}
	return g.runInput(ctx, input, "git", append([]string{"lfs"}, args...)...)
}

// Root resolves the top level directory of the work tree
func (g *Git) Root(ctx context.Context) (string, error) {
	out, err := g.Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		if strings.Contains(err.Error(), "not a git repository") {
			return "", status.ErrNoRepository.Wrap(err)
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// GitDir resolves the absolute path of the repository metadata directory
func (g *Git) GitDir(ctx context.Context) (string, error) {
	out, err := g.Run(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		if strings.Contains(err.Error(), "not a git repository") {
			return "", status.ErrNoRepository.Wrap(err)
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HooksDir resolves the directory git consults for hooks, honoring
// core.hooksPath when set.
func (g *Git) HooksDir(ctx context.Context) (string, error) {
	if out, err := g.Run(ctx, "config", "--get", "core.hooksPath"); err == nil {
		if p := strings.TrimSpace(out); p != "" {
			if !filepath.IsAbs(p) {
				root, err := g.Root(ctx)
				if err != nil {
					return "", err
				}
				p = filepath.Join(root, p)
			}
			return p, nil
		}
	}
	gitDir, err := g.GitDir(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(gitDir, "hooks"), nil
}

// Add stages the given paths
func (g *Git) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.Run(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

// StagedFiles lists the repo-relative paths staged for the next commit
func (g *Git) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := g.Run(ctx, "diff", "--cached", "--name-only", "-z")
	if err != nil {
		return nil, err
	}
	return splitNul(out), nil
}

// ChangedFiles lists the paths that differ between two commits. An empty
// or all-zero sha is replaced by the empty tree, so brand new refs diff
// against nothing.
func (g *Git) ChangedFiles(ctx context.Context, from, to string) ([]string, error) {
	if from == "" || from == model.ZeroSHA {
		from = EmptyTreeSHA
	}
	if to == "" || to == model.ZeroSHA {
		to = EmptyTreeSHA
	}
	out, err := g.Run(ctx, "diff", "--name-only", "-z", from, to)
	if err != nil {
		return nil, err
	}
	return splitNul(out), nil
}

// TrackedFiles lists the tracked paths matching the given pathspecs, or
// every tracked path when none are given.
func (g *Git) TrackedFiles(ctx context.Context, pathspecs ...string) ([]string, error) {
	args := []string{"ls-files", "-z"}
	if len(pathspecs) > 0 {
		args = append(args, "--")
		args = append(args, pathspecs...)
	}
	out, err := g.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitNul(out), nil
}

// IsRebasing reports whether an interactive or mailbox rebase is in
// flight. Checkouts performed by rebase machinery must not trigger
// imports, the post-rewrite event covers them.
func (g *Git) IsRebasing(ctx context.Context) (bool, error) {
	gitDir, err := g.GitDir(ctx)
	if err != nil {
		return false, err
	}
	for _, marker := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(gitDir, marker)); err == nil {
			return true, nil
		}
	}
	return false, nil
}

var lfsVersionRe = regexp.MustCompile(`git-lfs/(\d+\.\d+\.\d+)`)

// LFSVersion parses the version of the installed git-lfs client
func (g *Git) LFSVersion(ctx context.Context) (semver.Version, error) {
	out, err := g.LFS(ctx, "version")
	if err != nil {
		return semver.Version{}, err
	}
	m := lfsVersionRe.FindStringSubmatch(out)
	if m == nil {
		return semver.Version{}, status.ErrCommandFailed.WrapMessage("unrecognized git-lfs version output: %q", strings.TrimSpace(out))
	}
	v, err := semver.ParseTolerant(m[1])
	if err != nil {
		return semver.Version{}, status.ErrCommandFailed.Wrap(err)
	}
	return v, nil
}

func splitNul(out string) []string {
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}
