package model

import (
	"time"

	"github.com/docker/go-units"
)

const (
	// DefaultSuffix is appended to an archive basename to name its expanded tree
	DefaultSuffix = "_expanded"

	// DefaultChunkPrefix names chunk archives inside an expanded tree
	DefaultChunkPrefix = "binaries_"

	// DefaultCompressionLevel is the deflate level used when packing chunks
	DefaultCompressionLevel = 6

	// DefaultMaxChunkSize caps the size of a single chunk archive
	DefaultMaxChunkSize = 50 * units.MB

	// DefaultEmptyThreshold is the largest size at which a placeholder
	// archive still counts as empty
	DefaultEmptyThreshold = 1 * units.KB

	// DefaultCommandTimeout bounds every git and git-lfs subprocess
	DefaultCommandTimeout = 30 * time.Second

	// DefaultLogLevel is the log level used when none is configured
	DefaultLogLevel = "info"
)

// DefaultArchivePatterns returns the globs selecting tracked archives
func DefaultArchivePatterns() []string {
	return []string{"**/*.FCStd", "**/*.fcstd"}
}

// DefaultBinaryPatterns returns the globs selecting chunk-eligible members
func DefaultBinaryPatterns() []string {
	return []string{"**/*.brp"}
}

// Config is the per-repository configuration snapshot consumed by every
// operation. Instances are value types: loaded once per invocation and
// never mutated afterwards.
type Config struct {
	// Prefix, Suffix and Subdir shape the name of the expanded tree
	// derived for an archive. At least one of Prefix and Suffix must be
	// non-empty or trees would collide with their archives.
	Prefix string
	Suffix string
	Subdir string

	// RequireLock makes pre-commit and pre-push insist that the acting
	// user holds the lock on every archive they touch.
	RequireLock bool

	// ArchivePatterns selects the tracked archive files, BinaryPatterns
	// the members packed into chunk archives. Both are doublestar globs
	// matched against slash-separated relative paths.
	ArchivePatterns []string
	BinaryPatterns  []string

	// ChunkingEnabled toggles binary bin-packing on export.
	ChunkingEnabled  bool
	MaxChunkSize     int64
	CompressionLevel int
	ChunkPrefix      string

	// EmptyThreshold is the size up to which a committed archive is
	// considered an empty placeholder rather than a direct edit.
	EmptyThreshold int64

	// CommandTimeout bounds individual git and git-lfs invocations.
	CommandTimeout time.Duration

	LogLevel string

	_ struct{}
}

// DefaultConfig returns the documented defaults, applied whenever the
// repository carries no configuration file or a malformed one.
func DefaultConfig() Config {
	return Config{
		Suffix:           DefaultSuffix,
		ArchivePatterns:  DefaultArchivePatterns(),
		BinaryPatterns:   DefaultBinaryPatterns(),
		ChunkingEnabled:  true,
		MaxChunkSize:     DefaultMaxChunkSize,
		CompressionLevel: DefaultCompressionLevel,
		ChunkPrefix:      DefaultChunkPrefix,
		EmptyThreshold:   DefaultEmptyThreshold,
		CommandTimeout:   DefaultCommandTimeout,
		LogLevel:         DefaultLogLevel,
	}
}
