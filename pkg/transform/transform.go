// Package transform converts opaque CAD archives into diff-friendly
// expanded trees and back.
//
// Export unpacks an archive container into its member files, bin-packs
// residual binaries into chunk archives, writes a marker descriptor and
// leaves an empty placeholder where the archive was. Import rebuilds the
// archive from a tree. The two operations are strict inverses over the
// member set and member bytes; container level metadata is not preserved.
package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cadops/cadet/pkg/model"
	"github.com/cadops/cadet/pkg/transform/status"
	"github.com/gofrs/flock"
	"github.com/minio/blake2b-simd"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const stagingSuffix = ".tmp"

// Transformer runs export and import operations for one repository
// layout.
type Transformer struct {
	fs    afero.Fs
	cfg   model.Config
	actor string
	dest  string
	l     *zap.Logger
}

// Option is a functor to build a transformer with some options
type Option func(*Transformer)

// Actor records who is performing exports, stamped into markers
func Actor(name string) Option {
	return func(tr *Transformer) {
		tr.actor = name
	}
}

// Destination overrides the derived tree root for the next operations
func Destination(treeRoot string) Option {
	return func(tr *Transformer) {
		tr.dest = treeRoot
	}
}

// Logger injects a logging facility into transform operations
func Logger(l *zap.Logger) Option {
	return func(tr *Transformer) {
		if l != nil {
			tr.l = l
		}
	}
}

// New yields a transformer over the given filesystem and configuration
func New(fs afero.Fs, cfg model.Config, opts ...Option) *Transformer {
	tr := &Transformer{
		fs:  fs,
		cfg: cfg,
		l:   zap.NewNop(),
	}
	for _, apply := range opts {
		apply(tr)
	}
	return tr
}

// treeRoot resolves the tree location for an archive, honoring the
// Destination override.
func (tr *Transformer) treeRoot(archivePath string) string {
	if tr.dest != "" {
		return tr.dest
	}
	return model.TreeRoot(archivePath, tr.cfg)
}

// matchesArchive reports whether a path is covered by the configured
// archive patterns.
func (tr *Transformer) matchesArchive(p string) bool {
	return model.MatchesAny(tr.cfg.ArchivePatterns, p)
}

// IsPlaceholder reports whether the file at path is small enough to be
// an export placeholder rather than a directly edited archive.
func (tr *Transformer) IsPlaceholder(path string) (bool, error) {
	fi, err := tr.fs.Stat(path)
	if err != nil {
		return false, classifyStatErr(path, err)
	}
	return fi.Size() <= tr.cfg.EmptyThreshold, nil
}

// ReadMarker loads the marker descriptor of an archive's tree
func (tr *Transformer) ReadMarker(archivePath string) (model.Marker, error) {
	buf, err := afero.ReadFile(tr.fs, filepath.Join(tr.treeRoot(archivePath), model.MarkerFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return model.Marker{}, status.ErrNotFound.WrapMessage("marker for %s", archivePath)
		}
		return model.Marker{}, err
	}
	m, err := model.UnmarshalMarker(buf)
	if err != nil {
		return model.Marker{}, status.ErrCorruptArchive.WrapMessage("marker for %s: %v", archivePath, err)
	}
	return m, nil
}

func classifyStatErr(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return status.ErrNotFound.WrapMessage("%s", path)
	case os.IsPermission(err):
		return status.ErrPermission.WrapMessage("%s", path)
	default:
		return err
	}
}

// guardPath derives a lock file location outside the work tree, so guard
// files never show up in git status.
func guardPath(treeRoot string) string {
	abs, err := filepath.Abs(treeRoot)
	if err != nil {
		abs = treeRoot
	}
	h, err := blake2b.New(&blake2b.Config{Size: 8})
	if err != nil {
		panic(err)
	}
	fmt.Fprint(h, abs)
	return filepath.Join(os.TempDir(), fmt.Sprintf("cadet-%x.lock", h.Sum(nil)))
}

// acquireGuard serializes transform operations on one tree across local
// processes. Memory filesystems are process-private, no guard needed.
func (tr *Transformer) acquireGuard(ctx context.Context, treeRoot string) (func(), error) {
	if _, ok := tr.fs.(*afero.OsFs); !ok {
		return func() {}, nil
	}
	fl := flock.New(guardPath(treeRoot))
	locked, err := fl.TryLockContext(ctx, time.Second)
	if err != nil {
		return nil, status.ErrTreeBusy.Wrap(err)
	}
	if !locked {
		return nil, status.ErrTreeBusy.WrapMessage("%s", treeRoot)
	}
	return func() { _ = fl.Unlock() }, nil
}

// place writes buf at path via a staged temporary and a rename, so the
// destination is either the old content or the complete new content.
func (tr *Transformer) place(path string, buf []byte) error {
	staged := path + stagingSuffix
	f, err := tr.fs.Create(staged)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return tr.fs.Rename(staged, path)
}
