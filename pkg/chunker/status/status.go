// Package status exports errors produced by the chunker package.
package status

import (
	"github.com/cadops/cadet/pkg/errors"
)

var (
	// ErrFileTooLarge indicates a single file cannot fit an empty chunk at the
	// configured compression level. There is no way to make progress: raise the
	// chunk size cap or drop the file from the binary patterns.
	ErrFileTooLarge = errors.New("file exceeds chunk capacity")

	// ErrMissingChunk indicates a gap in the chunk index sequence
	ErrMissingChunk = errors.New("chunk sequence has a gap")

	// ErrCorruptChunk indicates a chunk archive could not be read back
	ErrCorruptChunk = errors.New("corrupt chunk archive")

	// ErrBadPattern indicates an invalid glob in the binary patterns
	ErrBadPattern = errors.New("invalid binary pattern")
)
