// Package status exports errors produced by the transform package.
package status

import (
	"github.com/cadops/cadet/pkg/errors"
)

var (
	// ErrNotFound indicates the archive or expanded tree does not exist
	ErrNotFound = errors.New("not found")

	// ErrWrongFileType indicates the path does not name a tracked archive file
	ErrWrongFileType = errors.New("not a tracked archive")

	// ErrCorruptArchive indicates the archive container could not be read
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrPermission indicates the filesystem denied access
	ErrPermission = errors.New("permission denied")

	// ErrTreeBusy indicates another local process is working on the same tree
	ErrTreeBusy = errors.New("expanded tree is busy")
)
