// Package status exports errors produced by the locker package.
package status

import (
	"github.com/cadops/cadet/pkg/errors"
)

var (
	// ErrAlreadyLocked indicates the lock is held by someone else
	ErrAlreadyLocked = errors.New("already locked")

	// ErrNotLocked indicates a release for a lock nobody holds
	ErrNotLocked = errors.New("not locked")
)
