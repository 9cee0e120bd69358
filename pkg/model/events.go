package model

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// EventKind names one lifecycle entry point
type EventKind string

const (
	EventPreCommit    EventKind = "pre-commit"
	EventPostCheckout EventKind = "post-checkout"
	EventPostMerge    EventKind = "post-merge"
	EventPostRewrite  EventKind = "post-rewrite"
	EventPrePush      EventKind = "pre-push"
)

// ZeroSHA is the null object id git passes for created or deleted refs
const ZeroSHA = "0000000000000000000000000000000000000000"

// RefUpdate is one line of the pre-push stdin contract:
// <local ref> <local sha> <remote ref> <remote sha>
type RefUpdate struct {
	LocalRef  string
	LocalSHA  string
	RemoteRef string
	RemoteSHA string
}

// IsDelete reports a ref deletion (nothing is pushed)
func (r RefUpdate) IsDelete() bool { return r.LocalSHA == ZeroSHA }

// IsNew reports a ref the remote has never seen
func (r RefUpdate) IsNew() bool { return r.RemoteSHA == ZeroSHA }

// ParseRefUpdates consumes the pre-push ref list from the hook's standard
// input. Blank lines are skipped, short lines are an error naming the
// offending line.
func ParseRefUpdates(r io.Reader) ([]RefUpdate, error) {
	var updates []RefUpdate
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 4 {
			return nil, fmt.Errorf("ref update line %d: expected 4 fields, got %d", line, len(fields))
		}
		updates = append(updates, RefUpdate{
			LocalRef:  fields[0],
			LocalSHA:  fields[1],
			RemoteRef: fields[2],
			RemoteSHA: fields[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return updates, nil
}

// CheckoutKind distinguishes the post-checkout flag argument
const (
	CheckoutFile   = "0"
	CheckoutBranch = "1"
)
