// Package locker coordinates edit rights on archives across a team.
//
// A lock is taken on the tree marker of an archive through the git-lfs
// lock primitive, never on the archive file itself: markers are tiny,
// always tracked, and rewritten by every export, which makes them cheap
// and reliable lock targets. The coordinator always derives the marker
// path forward from the archive identity, it never guesses identities
// back out of primitive output.
package locker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/blang/semver"
	"github.com/cadops/cadet/pkg/errors"
	"github.com/cadops/cadet/pkg/locker/status"
	"github.com/cadops/cadet/pkg/model"
	"github.com/cadops/cadet/pkg/vcs"
	vcsstatus "github.com/cadops/cadet/pkg/vcs/status"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// jsonLocksVersion is the first primitive version with a usable
// `locks --json` listing.
var jsonLocksVersion = semver.MustParse("2.4.0")

var lockOwnerRe = regexp.MustCompile(`(?i)\bby\s+"?([\w .@-]+)"?`)

// HeldError reports a lock held by someone else. It unwraps to
// status.ErrAlreadyLocked.
type HeldError struct {
	Path  string
	Owner string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("%s is locked by %s", e.Path, e.Owner)
}

// Unwrap ties the error into the sentinel chain
func (e *HeldError) Unwrap() error {
	return status.ErrAlreadyLocked
}

// Coordinator takes and releases archive locks
type Coordinator struct {
	fs  afero.Fs
	git *vcs.Git
	cfg model.Config
	l   *zap.Logger
}

// Option is a functor to build a coordinator with some options
type Option func(*Coordinator)

// Logger injects a logging facility into lock operations
func Logger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.l = l
		}
	}
}

// New yields a lock coordinator over the given repository
func New(fs afero.Fs, git *vcs.Git, cfg model.Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		fs:  fs,
		git: git,
		cfg: cfg,
		l:   zap.NewNop(),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

// Acquire takes the lock for an archive. When the archive was never
// exported its marker is created and staged first, so the primitive
// always has a tracked file to lock. With force, a lock held by someone
// else is broken and re-taken.
func (c *Coordinator) Acquire(ctx context.Context, identity, actor string, force bool) error {
	markerRel, err := c.ensureMarker(ctx, identity, actor)
	if err != nil {
		return err
	}
	_, err = c.git.LFS(ctx, "lock", markerRel)
	if err == nil {
		c.l.Info("acquired lock",
			zap.String("archive", identity),
			zap.String("marker", markerRel),
			zap.String("actor", actor))
		return nil
	}
	if !isHeldError(err) {
		return err
	}
	if !force {
		return &HeldError{Path: identity, Owner: ownerFromError(err)}
	}
	if _, uerr := c.git.LFS(ctx, "unlock", "--force", markerRel); uerr != nil {
		return uerr
	}
	if _, lerr := c.git.LFS(ctx, "lock", markerRel); lerr != nil {
		return lerr
	}
	c.l.Info("stole lock",
		zap.String("archive", identity),
		zap.String("marker", markerRel),
		zap.String("actor", actor))
	return nil
}

// Release gives up the lock for an archive. Force breaks a lock held by
// someone else.
func (c *Coordinator) Release(ctx context.Context, identity, actor string, force bool) error {
	markerRel := model.MarkerPath(identity, c.cfg)
	args := []string{"unlock"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, markerRel)
	if _, err := c.git.LFS(ctx, args...); err != nil {
		switch {
		case isMissingLockError(err):
			return status.ErrNotLocked.WrapMessage("%s", identity)
		case isHeldError(err):
			return &HeldError{Path: identity, Owner: ownerFromError(err)}
		default:
			return err
		}
	}
	c.l.Info("released lock",
		zap.String("archive", identity),
		zap.String("marker", markerRel),
		zap.String("actor", actor),
		zap.Bool("force", force))
	return nil
}

// ListActive returns every lock currently held, sorted by path. The json
// listing is preferred when the primitive supports it, with a permissive
// text parse as fallback.
func (c *Coordinator) ListActive(ctx context.Context) ([]model.LockRecord, error) {
	useJSON := false
	if v, err := c.git.LFSVersion(ctx); err == nil && v.GTE(jsonLocksVersion) {
		useJSON = true
	}
	var (
		records []model.LockRecord
		err     error
	)
	if useJSON {
		records, err = c.listJSON(ctx)
	} else {
		records, err = c.listText(ctx)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

// Holder reports the active lock on an archive, when any
func (c *Coordinator) Holder(ctx context.Context, identity string) (model.LockRecord, bool, error) {
	records, err := c.ListActive(ctx)
	if err != nil {
		return model.LockRecord{}, false, err
	}
	markerRel := model.MarkerPath(identity, c.cfg)
	for _, r := range records {
		if r.Path == markerRel {
			return r, true, nil
		}
	}
	return model.LockRecord{}, false, nil
}

// IsLockedBy reports whether the actor holds the lock for an archive
func (c *Coordinator) IsLockedBy(ctx context.Context, identity, actor string) (bool, error) {
	r, held, err := c.Holder(ctx, identity)
	if err != nil {
		return false, err
	}
	return held && r.Owner == actor, nil
}

// ensureMarker resolves the marker path for an archive, creating and
// staging an empty descriptor when none exists yet.
func (c *Coordinator) ensureMarker(ctx context.Context, identity, actor string) (string, error) {
	markerRel := model.MarkerPath(identity, c.cfg)
	root, err := c.git.Root(ctx)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(markerRel))
	if _, serr := c.fs.Stat(full); serr == nil {
		return markerRel, nil
	} else if !os.IsNotExist(serr) {
		return "", serr
	}
	buf, err := model.MarshalMarker(model.NewMarker(actor, ""))
	if err != nil {
		return "", err
	}
	if err := c.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", err
	}
	if err := afero.WriteFile(c.fs, full, buf, 0644); err != nil {
		return "", err
	}
	if err := c.git.Add(ctx, markerRel); err != nil {
		return "", err
	}
	c.l.Info("created marker for never exported archive",
		zap.String("archive", identity),
		zap.String("marker", markerRel))
	return markerRel, nil
}

func (c *Coordinator) listJSON(ctx context.Context) ([]model.LockRecord, error) {
	out, err := c.git.LFS(ctx, "locks", "--json")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, nil
	}
	var raw []struct {
		ID    string `json:"id"`
		Path  string `json:"path"`
		Owner struct {
			Name string `json:"name"`
		} `json:"owner"`
	}
	if err := jsoniter.Unmarshal([]byte(out), &raw); err != nil {
		return nil, errors.New("unparseable lock listing").Wrap(err)
	}
	records := make([]model.LockRecord, 0, len(raw))
	for _, r := range raw {
		records = append(records, model.LockRecord{Path: r.Path, Owner: r.Owner.Name, ID: r.ID})
	}
	return records, nil
}

// listText parses the line oriented form `<path> <owner...> ID:<n>`,
// anchoring on the ID token. Fields after the ID are ignored. Paths with
// spaces are ambiguous in this form, which is why the json listing wins
// whenever available.
func (c *Coordinator) listText(ctx context.Context) ([]model.LockRecord, error) {
	out, err := c.git.LFS(ctx, "locks")
	if err != nil {
		return nil, err
	}
	var records []model.LockRecord
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		idAt := -1
		for i, f := range fields {
			if strings.HasPrefix(f, "ID:") {
				idAt = i
				break
			}
		}
		if idAt < 1 {
			continue
		}
		records = append(records, model.LockRecord{
			Path:  fields[0],
			Owner: strings.Join(fields[1:idAt], " "),
			ID:    strings.TrimPrefix(fields[idAt], "ID:"),
		})
	}
	return records, nil
}

// ownerFromError pulls the holder's name out of primitive error text,
// falling back to a generic holder when the text carries none.
func ownerFromError(err error) string {
	m := lockOwnerRe.FindStringSubmatch(err.Error())
	if m == nil {
		return "another user"
	}
	owner := strings.TrimSpace(m[1])
	if owner == "" {
		return "another user"
	}
	return owner
}

func isHeldError(err error) bool {
	if !errors.Is(err, vcsstatus.ErrCommandFailed) {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, needle := range []string{"lock exists", "already created lock", "already locked", "locked by"} {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

func isMissingLockError(err error) bool {
	if !errors.Is(err, vcsstatus.ErrCommandFailed) {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, needle := range []string{"no matching locks", "unable to find lock", "not locked"} {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
