package model

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar"
)

const (
	// MarkerFileName is the proxy marker living inside every expanded tree.
	// It is both the git-lfs lock target and the change indicator diffed by
	// the post-checkout family of hooks.
	MarkerFileName = ".cadet-marker"

	// NoExtensionDir collects top level archive members whose filename has
	// no extension, to avoid filesystem ambiguity on case insensitive or
	// extension sensitive layers
	NoExtensionDir = "no_extension"
)

// ToSlash normalizes a repository relative path to forward slashes, the
// form every pattern match and every derivation below operates on.
func ToSlash(p string) string {
	return filepath.ToSlash(p)
}

// TreeRoot derives the expanded tree location for an archive:
// dir(archive)/[subdir/]prefix+base(archive)+suffix. This forward mapping
// is the single source of truth relating archives, trees and markers.
func TreeRoot(archive string, cfg Config) string {
	archive = ToSlash(archive)
	dir := path.Dir(archive)
	name := cfg.Prefix + path.Base(archive) + cfg.Suffix
	if cfg.Subdir != "" {
		return path.Join(dir, cfg.Subdir, name)
	}
	return path.Join(dir, name)
}

// MarkerPath derives the proxy marker location for an archive
func MarkerPath(archive string, cfg Config) string {
	return path.Join(TreeRoot(archive, cfg), MarkerFileName)
}

// ArchiveForTree inverts TreeRoot under the currently configured naming
// convention only. It reports false when the path does not look like a
// tree root produced by this configuration.
func ArchiveForTree(treeRoot string, cfg Config) (string, bool) {
	treeRoot = ToSlash(treeRoot)
	base := path.Base(treeRoot)
	if !strings.HasPrefix(base, cfg.Prefix) || !strings.HasSuffix(base, cfg.Suffix) {
		return "", false
	}
	stem := base[len(cfg.Prefix) : len(base)-len(cfg.Suffix)]
	if stem == "" {
		return "", false
	}
	dir := path.Dir(treeRoot)
	if cfg.Subdir != "" {
		if path.Base(dir) != cfg.Subdir {
			return "", false
		}
		dir = path.Dir(dir)
	}
	return path.Join(dir, stem), true
}

// ArchiveForMarker resolves a marker path back to its archive, again only
// under the current convention
func ArchiveForMarker(markerPath string, cfg Config) (string, bool) {
	markerPath = ToSlash(markerPath)
	if path.Base(markerPath) != MarkerFileName {
		return "", false
	}
	return ArchiveForTree(path.Dir(markerPath), cfg)
}

// ChunkFileName yields the name of the n-th chunk archive, n starting at 1
func ChunkFileName(prefix string, n int) string {
	return fmt.Sprintf("%s%d.zip", prefix, n)
}

// ChunkIndex parses a chunk archive basename back into its index.
// It reports false for anything not matching <prefix><digits>.zip.
func ChunkIndex(prefix, base string) (int, bool) {
	re, err := chunkNameRe(prefix)
	if err != nil {
		return 0, false
	}
	m := re.FindStringSubmatch(base)
	if m == nil {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(m[1], "%d", &n); err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// IsChunkFile reports whether a basename follows the chunk naming convention
func IsChunkFile(prefix, base string) bool {
	_, ok := ChunkIndex(prefix, base)
	return ok
}

func chunkNameRe(prefix string) (*regexp.Regexp, error) {
	return regexp.Compile(`^` + regexp.QuoteMeta(prefix) + `(\d+)\.zip$`)
}

// HasExtension reports whether a basename carries a file extension.
// Dotfiles count as having one, so they are never relocated.
func HasExtension(base string) bool {
	return path.Ext(base) != ""
}

// MatchesAny reports whether the path matches any of the glob patterns.
// Matching runs on the slash form with any leading slash stripped, so
// absolute and repository relative spellings behave alike. Invalid
// patterns never match.
func MatchesAny(patterns []string, p string) bool {
	rel := strings.TrimPrefix(ToSlash(p), "/")
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
