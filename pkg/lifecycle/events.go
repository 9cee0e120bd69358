package lifecycle

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cadops/cadet/pkg/errors"
	"github.com/cadops/cadet/pkg/model"
	vcsstatus "github.com/cadops/cadet/pkg/vcs/status"
	"github.com/docker/go-units"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PreCommit enforces the committable state of tracked archives: every
// staged archive must already be exported (an empty placeholder on
// disk), and when locking is required the committer must hold the lock
// of every archive the commit touches, whether through the archive file
// or through its tree marker.
func (h *Hooks) PreCommit(ctx context.Context) Outcome {
	return h.run(ctx, model.EventPreCommit, h.preCommit)
}

func (h *Hooks) preCommit(ctx context.Context, l *zap.Logger) Outcome {
	staged, err := h.git.StagedFiles(ctx)
	if err != nil {
		return internal(err)
	}
	directly := filterArchives(staged, h.cfg)
	touched := archivesInChange(staged, h.cfg)
	if len(touched) == 0 {
		return allow()
	}

	if len(directly) > 0 {
		root, err := h.git.Root(ctx)
		if err != nil {
			return internal(err)
		}
		var dirty []string
		for _, archive := range directly {
			fi, err := h.fs.Stat(filepath.Join(root, filepath.FromSlash(archive)))
			if err != nil {
				if os.IsNotExist(err) {
					// staged deletion, nothing on disk to check
					continue
				}
				return internal(err)
			}
			if fi.Size() > h.cfg.EmptyThreshold {
				l.Info("archive staged with content",
					zap.String("archive", archive),
					zap.String("size", units.HumanSize(float64(fi.Size()))))
				dirty = append(dirty, archive)
			}
		}
		if len(dirty) > 0 {
			return blocked("archive(s) edited directly, run the export before committing: %s",
				strings.Join(dirty, ", "))
		}
	}

	if !h.cfg.RequireLock {
		return allow()
	}
	actor, out := h.requireActor(ctx)
	if out != nil {
		return *out
	}
	unheld, err := h.unheldLocks(ctx, touched, actor)
	if err != nil {
		return internal(err)
	}
	if len(unheld) > 0 {
		return blocked("lock not held for: %s", strings.Join(unheld, ", "))
	}
	return allow()
}

// PostCheckout rematerializes working archives whose trees changed
// between the two checked out states. File checkouts and in-progress
// rebases are skipped, post-rewrite covers the latter when the rebase
// completes.
func (h *Hooks) PostCheckout(ctx context.Context, oldSHA, newSHA, flag string) Outcome {
	return h.run(ctx, model.EventPostCheckout, func(ctx context.Context, l *zap.Logger) Outcome {
		return h.postCheckout(ctx, l, oldSHA, newSHA, flag)
	})
}

func (h *Hooks) postCheckout(ctx context.Context, l *zap.Logger, oldSHA, newSHA, flag string) Outcome {
	h.passthrough(ctx, l, "post-checkout", oldSHA, newSHA, flag)
	if flag != model.CheckoutBranch {
		l.Debug("file checkout, refs unchanged")
		return allow()
	}
	rebasing, err := h.git.IsRebasing(ctx)
	if err != nil {
		return internal(err)
	}
	if rebasing {
		l.Debug("rebase in progress, deferring to post-rewrite")
		return allow()
	}
	changed, err := h.git.ChangedFiles(ctx, oldSHA, newSHA)
	if err != nil {
		return internal(err)
	}
	return h.importArchives(ctx, l, archivesForMarkers(changed, h.cfg))
}

// PostMerge rematerializes archives whose trees the merge changed
func (h *Hooks) PostMerge(ctx context.Context, squashFlag string) Outcome {
	return h.run(ctx, model.EventPostMerge, func(ctx context.Context, l *zap.Logger) Outcome {
		return h.postMerge(ctx, l, squashFlag)
	})
}

func (h *Hooks) postMerge(ctx context.Context, l *zap.Logger, squashFlag string) Outcome {
	h.passthrough(ctx, l, "post-merge", squashFlag)
	changed, err := h.git.ChangedFiles(ctx, "ORIG_HEAD", "HEAD")
	if err != nil {
		return internal(err)
	}
	return h.importArchives(ctx, l, archivesForMarkers(changed, h.cfg))
}

// PostRewrite reconciles after a history rewrite. The rewritten ranges
// are not reliable while a rebase replays commits, so every tracked
// marker is reconsidered instead.
func (h *Hooks) PostRewrite(ctx context.Context, kind string) Outcome {
	return h.run(ctx, model.EventPostRewrite, func(ctx context.Context, l *zap.Logger) Outcome {
		return h.postRewrite(ctx, l, kind)
	})
}

func (h *Hooks) postRewrite(ctx context.Context, l *zap.Logger, kind string) Outcome {
	h.passthrough(ctx, l, "post-rewrite", kind)
	tracked, err := h.git.TrackedFiles(ctx)
	if err != nil {
		return internal(err)
	}
	return h.importArchives(ctx, l, archivesForMarkers(tracked, h.cfg))
}

// PrePush blocks pushes of archive changes whose locks the pusher does
// not hold. The ref list arrives on standard input per the hook
// contract and is fed through to the large-file extension unchanged.
func (h *Hooks) PrePush(ctx context.Context, remote, url string, stdin io.Reader) Outcome {
	return h.run(ctx, model.EventPrePush, func(ctx context.Context, l *zap.Logger) Outcome {
		return h.prePush(ctx, l, remote, url, stdin)
	})
}

func (h *Hooks) prePush(ctx context.Context, l *zap.Logger, remote, url string, stdin io.Reader) Outcome {
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return internal(err)
	}
	updates, err := model.ParseRefUpdates(bytes.NewReader(raw))
	if err != nil {
		return internal(err)
	}
	h.passthroughInput(ctx, l, string(raw), "pre-push", remote, url)
	if !h.cfg.RequireLock || len(updates) == 0 {
		return allow()
	}
	actor, out := h.requireActor(ctx)
	if out != nil {
		return *out
	}

	seen := make(map[string]struct{})
	var pushed []string
	for _, u := range updates {
		if u.IsDelete() {
			continue
		}
		changed, err := h.git.ChangedFiles(ctx, u.RemoteSHA, u.LocalSHA)
		if err != nil {
			return internal(err)
		}
		for _, archive := range archivesInChange(changed, h.cfg) {
			if _, dup := seen[archive]; dup {
				continue
			}
			seen[archive] = struct{}{}
			pushed = append(pushed, archive)
		}
	}
	unheld, err := h.unheldLocks(ctx, pushed, actor)
	if err != nil {
		return internal(err)
	}
	if len(unheld) > 0 {
		return blocked("lock not held for pushed change(s): %s", strings.Join(unheld, ", "))
	}
	return allow()
}

// passthrough forwards the event to the large-file extension so its own
// bookkeeping still runs. Failures only warn, a missing extension must
// not break repository operations.
func (h *Hooks) passthrough(ctx context.Context, l *zap.Logger, event string, args ...string) {
	h.passthroughInput(ctx, l, "", event, args...)
}

func (h *Hooks) passthroughInput(ctx context.Context, l *zap.Logger, input, event string, args ...string) {
	if _, err := h.git.LFSWithInput(ctx, input, append([]string{event}, args...)...); err != nil {
		l.Warn("large file extension passthrough failed",
			zap.String("passthrough", event),
			zap.Error(err))
	}
}

// requireActor resolves the acting identity for lock checks. A missing
// identity is a configuration problem and blocks, it never allows
// silently.
func (h *Hooks) requireActor(ctx context.Context) (string, *Outcome) {
	actor, err := h.resolveActor(ctx)
	if err != nil {
		if errors.Is(err, vcsstatus.ErrNoIdentity) {
			out := blocked("locking is required but no user identity is configured, set user.name in your git configuration")
			return "", &out
		}
		out := internal(err)
		return "", &out
	}
	if strings.TrimSpace(actor) == "" {
		out := blocked("locking is required but no user identity is configured, set user.name in your git configuration")
		return "", &out
	}
	return actor, nil
}

func (h *Hooks) unheldLocks(ctx context.Context, archives []string, actor string) ([]string, error) {
	var unheld []string
	for _, archive := range archives {
		held, err := h.locks.IsLockedBy(ctx, archive, actor)
		if err != nil {
			return nil, err
		}
		if !held {
			unheld = append(unheld, archive)
		}
	}
	sort.Strings(unheld)
	return unheld, nil
}

// importArchives rematerializes each archive from its tree, keeping at
// it through individual failures and reporting them together.
func (h *Hooks) importArchives(ctx context.Context, l *zap.Logger, archives []string) Outcome {
	if len(archives) == 0 {
		return allow()
	}
	root, err := h.git.Root(ctx)
	if err != nil {
		return internal(err)
	}
	var failures error
	for _, archive := range archives {
		full := filepath.Join(root, filepath.FromSlash(archive))
		if _, err := h.tr.Import(ctx, full); err != nil {
			l.Warn("archive did not rematerialize",
				zap.String("archive", archive),
				zap.Error(err))
			failures = multierr.Append(failures, err)
			continue
		}
		l.Info("archive rematerialized", zap.String("archive", archive))
	}
	if failures != nil {
		return internal(failures)
	}
	return allow()
}

// filterArchives keeps the paths covered by the archive patterns
func filterArchives(paths []string, cfg model.Config) []string {
	var out []string
	for _, p := range paths {
		if model.MatchesAny(cfg.ArchivePatterns, p) {
			out = append(out, p)
		}
	}
	return out
}

// archivesInChange resolves a changed path list to the set of archive
// identities it touches: archive files directly, plus archives reached
// through their tree markers. Deduplicated, sorted.
func archivesInChange(paths []string, cfg model.Config) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(archive string) {
		if _, dup := seen[archive]; dup {
			return
		}
		seen[archive] = struct{}{}
		out = append(out, archive)
	}
	for _, p := range paths {
		if model.MatchesAny(cfg.ArchivePatterns, p) {
			add(model.ToSlash(p))
			continue
		}
		if archive, ok := model.ArchiveForMarker(p, cfg); ok {
			add(archive)
		}
	}
	sort.Strings(out)
	return out
}

// archivesForMarkers resolves changed marker paths back to archive
// identities under the current naming convention, dropping anything
// foreign. Deduplicated, sorted.
func archivesForMarkers(paths []string, cfg model.Config) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range paths {
		if path.Base(model.ToSlash(p)) != model.MarkerFileName {
			continue
		}
		archive, ok := model.ArchiveForMarker(p, cfg)
		if !ok {
			continue
		}
		if _, dup := seen[archive]; dup {
			continue
		}
		seen[archive] = struct{}{}
		out = append(out, archive)
	}
	sort.Strings(out)
	return out
}
