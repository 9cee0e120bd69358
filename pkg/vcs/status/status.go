// Package status exports errors produced by the vcs package.
package status

import (
	"github.com/cadops/cadet/pkg/errors"
)

var (
	// ErrToolNotFound indicates a required executable (git or git-lfs) is not on the PATH
	ErrToolNotFound = errors.New("tool not found on PATH")

	// ErrTimeout indicates a subprocess exceeded its configured time budget
	ErrTimeout = errors.New("command timed out")

	// ErrCommandFailed indicates a subprocess exited with a failure status
	ErrCommandFailed = errors.New("command failed")

	// ErrNoRepository indicates the working directory is not inside a git work tree
	ErrNoRepository = errors.New("not inside a git work tree")

	// ErrNoIdentity indicates no user name could be resolved from git configuration
	ErrNoIdentity = errors.New("no user identity configured")
)
