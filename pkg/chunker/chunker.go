// Package chunker bin-packs residual binary members of an expanded tree
// into size-capped chunk archives, and unpacks them again.
//
// Chunk archives are plain zip files named <prefix><n>.zip with n counting
// from 1 without gaps. The cap applies to the finished archive including
// all zip bookkeeping, so a chunk can be committed to hosting providers
// with hard per-file limits.
package chunker

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/cadops/cadet/pkg/chunker/status"
	"github.com/cadops/cadet/pkg/model"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const chunkStagingSuffix = ".tmp"

// Packer packs and unpacks chunk archives for expanded trees on a
// filesystem.
type Packer struct {
	fs       afero.Fs
	patterns []string
	prefix   string
	maxSize  int64
	level    int
	l        *zap.Logger
}

// Option is a functor to build a packer with some options
type Option func(*Packer)

// Patterns sets the globs selecting chunk-eligible members
func Patterns(p []string) Option {
	return func(pk *Packer) {
		pk.patterns = p
	}
}

// Prefix sets the chunk archive naming prefix
func Prefix(p string) Option {
	return func(pk *Packer) {
		if p != "" {
			pk.prefix = p
		}
	}
}

// MaxChunkSize caps the size of a finished chunk archive in bytes
func MaxChunkSize(n int64) Option {
	return func(pk *Packer) {
		if n > 0 {
			pk.maxSize = n
		}
	}
}

// CompressionLevel sets the deflate level used when packing
func CompressionLevel(n int) Option {
	return func(pk *Packer) {
		if n >= 0 && n <= 9 {
			pk.level = n
		}
	}
}

// Logger injects a logging facility into pack and unpack operations
func Logger(l *zap.Logger) Option {
	return func(pk *Packer) {
		if l != nil {
			pk.l = l
		}
	}
}

// New yields a packer operating on the given filesystem
func New(fs afero.Fs, opts ...Option) *Packer {
	pk := &Packer{
		fs:       fs,
		patterns: model.DefaultBinaryPatterns(),
		prefix:   model.DefaultChunkPrefix,
		maxSize:  model.DefaultMaxChunkSize,
		level:    model.DefaultCompressionLevel,
		l:        zap.NewNop(),
	}
	for _, apply := range opts {
		apply(pk)
	}
	return pk
}

// candidates walks the tree and selects the members eligible for packing,
// sorted by relative path so chunk contents are reproducible.
func (pk *Packer) candidates(treeRoot string) ([]string, error) {
	var out []string
	err := afero.Walk(pk.fs, treeRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(treeRoot, p)
		if err != nil {
			return err
		}
		rel = model.ToSlash(rel)
		base := path.Base(rel)
		if base == model.MarkerFileName {
			return nil
		}
		if model.IsChunkFile(pk.prefix, base) {
			return nil
		}
		if model.IsChunkFile(pk.prefix, strings.TrimSuffix(base, chunkStagingSuffix)) {
			// leftover staging file from an interrupted pack
			return nil
		}
		for _, pattern := range pk.patterns {
			ok, merr := doublestar.Match(pattern, rel)
			if merr != nil {
				return status.ErrBadPattern.WrapMessage("%q: %v", pattern, merr)
			}
			if ok {
				out = append(out, rel)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// chunkFiles lists the chunk archives present at the root of the tree in
// ascending index order, verifying the sequence 1..N has no gaps.
func (pk *Packer) chunkFiles(treeRoot string) ([]string, error) {
	infos, err := afero.ReadDir(pk.fs, treeRoot)
	if err != nil {
		return nil, err
	}
	byIndex := map[int]string{}
	indices := make([]int, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if n, ok := model.ChunkIndex(pk.prefix, info.Name()); ok {
			byIndex[n] = info.Name()
			indices = append(indices, n)
		}
	}
	sort.Ints(indices)
	names := make([]string, 0, len(indices))
	for i, n := range indices {
		if n != i+1 {
			return nil, status.ErrMissingChunk.WrapMessage("expected %s, found %s",
				model.ChunkFileName(pk.prefix, i+1), byIndex[n])
		}
		names = append(names, byIndex[n])
	}
	return names, nil
}
