package locker

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cadops/cadet/pkg/errors"
	"github.com/cadops/cadet/pkg/locker/status"
	"github.com/cadops/cadet/pkg/model"
	"github.com/cadops/cadet/pkg/vcs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lockArchive = "parts/bracket.FCStd"
	lockMarker  = "parts/bracket.FCStd_expanded/.cadet-marker"
)

type scripted struct {
	stdout string
	stderr string
	err    error
}

// fakeRunner pops scripted results per command line and records every
// invocation in order, so repeated commands can answer differently.
type fakeRunner struct {
	calls   []string
	scripts map[string][]scripted
}

func (f *fakeRunner) Run(_ context.Context, _ string, name string, args ...string) (string, string, error) {
	key := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if rs, ok := f.scripts[key]; ok && len(rs) > 0 {
		r := rs[0]
		f.scripts[key] = rs[1:]
		return r.stdout, r.stderr, r.err
	}
	return "", "", nil
}

func newCoordinator(fs afero.Fs, f *fakeRunner) *Coordinator {
	return New(fs, vcs.New("/repo", vcs.WithRunner(f)), model.DefaultConfig())
}

func repoFs(t testing.TB) afero.Fs {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/repo", 0755))
	return fs
}

func TestAcquireCreatesMissingMarker(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{
		"git rev-parse --show-toplevel": {{stdout: "/repo\n"}},
	}}
	c := newCoordinator(fs, f)

	require.NoError(t, c.Acquire(context.Background(), lockArchive, "alice", false))

	// marker created, staged, then locked
	buf, err := afero.ReadFile(fs, "/repo/"+lockMarker)
	require.NoError(t, err)
	m, err := model.UnmarshalMarker(buf)
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Actor)
	assert.Empty(t, m.Digest)

	assert.Contains(t, f.calls, "git add -- "+lockMarker)
	assert.Contains(t, f.calls, "git lfs lock "+lockMarker)
}

func TestAcquireKeepsExistingMarker(t *testing.T) {
	fs := repoFs(t)
	original, err := model.MarshalMarker(model.NewMarker("bob", "d1g3st"))
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/repo/"+lockMarker, original, 0644))

	f := &fakeRunner{scripts: map[string][]scripted{
		"git rev-parse --show-toplevel": {{stdout: "/repo\n"}},
	}}
	c := newCoordinator(fs, f)

	require.NoError(t, c.Acquire(context.Background(), lockArchive, "alice", false))

	buf, err := afero.ReadFile(fs, "/repo/"+lockMarker)
	require.NoError(t, err)
	assert.Equal(t, original, buf)
	assert.NotContains(t, f.calls, "git add -- "+lockMarker)
}

func TestAcquireHeldByOther(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{
		"git rev-parse --show-toplevel": {{stdout: "/repo\n"}},
		"git lfs lock " + lockMarker: {{
			stderr: `Lock exists: already created lock, locked by "Bob Dobalina"`,
			err:    fmt.Errorf("exit status 1"),
		}},
	}}
	c := newCoordinator(fs, f)

	err := c.Acquire(context.Background(), lockArchive, "alice", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrAlreadyLocked))

	var held *HeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, lockArchive, held.Path)
	assert.Equal(t, "Bob Dobalina", held.Owner)
}

func TestAcquireOwnerFallback(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{
		"git rev-parse --show-toplevel": {{stdout: "/repo\n"}},
		"git lfs lock " + lockMarker: {{
			stderr: "Lock exists",
			err:    fmt.Errorf("exit status 1"),
		}},
	}}
	c := newCoordinator(fs, f)

	err := c.Acquire(context.Background(), lockArchive, "alice", false)
	require.Error(t, err)
	var held *HeldError
	require.True(t, errors.As(err, &held))
	assert.Equal(t, "another user", held.Owner)
}

func TestAcquireForceSteals(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{
		"git rev-parse --show-toplevel": {{stdout: "/repo\n"}},
		"git lfs lock " + lockMarker: {
			{stderr: `Lock exists, locked by "Bob Dobalina"`, err: fmt.Errorf("exit status 1")},
			{stdout: "Locked " + lockMarker + "\n"},
		},
	}}
	c := newCoordinator(fs, f)

	require.NoError(t, c.Acquire(context.Background(), lockArchive, "alice", true))
	assert.Contains(t, f.calls, "git lfs unlock --force "+lockMarker)
	// locked again after the steal
	assert.Equal(t, "git lfs lock "+lockMarker, f.calls[len(f.calls)-1])
}

func TestReleaseNotLocked(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{
		"git lfs unlock " + lockMarker: {{
			stderr: "Unable to find lock: no matching locks found",
			err:    fmt.Errorf("exit status 1"),
		}},
	}}
	c := newCoordinator(fs, f)

	err := c.Release(context.Background(), lockArchive, "alice", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotLocked))
}

func TestReleaseHeldByOther(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{
		"git lfs unlock " + lockMarker: {{
			stderr: "Cannot unlock files locked by other users",
			err:    fmt.Errorf("exit status 1"),
		}},
	}}
	c := newCoordinator(fs, f)

	err := c.Release(context.Background(), lockArchive, "alice", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrAlreadyLocked))
}

func TestReleaseForce(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{}}
	c := newCoordinator(fs, f)

	require.NoError(t, c.Release(context.Background(), lockArchive, "alice", true))
	assert.Contains(t, f.calls, "git lfs unlock --force "+lockMarker)
}

func TestListActiveJSON(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{
		"git lfs version": {{stdout: "git-lfs/2.13.3 (GitHub; linux amd64; go 1.16.2)\n"}},
		"git lfs locks --json": {{stdout: `[
  {"id":"42","path":"` + lockMarker + `","owner":{"name":"Bob Dobalina"},"locked_at":"2020-01-02T03:04:05Z"},
  {"id":"7","path":"a.FCStd_expanded/.cadet-marker","owner":{"name":"alice"}}
]`}},
	}}
	c := newCoordinator(fs, f)

	records, err := c.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	// sorted by path
	assert.Equal(t, "a.FCStd_expanded/.cadet-marker", records[0].Path)
	assert.Equal(t, model.LockRecord{Path: lockMarker, Owner: "Bob Dobalina", ID: "42"}, records[1])
}

func TestListActiveTextFallback(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{
		"git lfs version": {{stdout: "git-lfs/2.0.1 (GitHub; linux amd64; go 1.8)\n"}},
		"git lfs locks": {{stdout: lockMarker + "\tBob Dobalina\tID:42\n" +
			"a.FCStd_expanded/.cadet-marker\talice\tID:7\textra stuff\n" +
			"\n" +
			"garbage line without an id token\n"}},
	}}
	c := newCoordinator(fs, f)

	records, err := c.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.LockRecord{Path: "a.FCStd_expanded/.cadet-marker", Owner: "alice", ID: "7"}, records[0])
	assert.Equal(t, model.LockRecord{Path: lockMarker, Owner: "Bob Dobalina", ID: "42"}, records[1])
}

func TestListActiveEmpty(t *testing.T) {
	fs := repoFs(t)
	f := &fakeRunner{scripts: map[string][]scripted{
		"git lfs version": {{stdout: "git-lfs/2.13.3\n"}},
	}}
	c := newCoordinator(fs, f)

	records, err := c.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIsLockedBy(t *testing.T) {
	listing := `[{"id":"42","path":"` + lockMarker + `","owner":{"name":"alice"}}]`
	for actor, want := range map[string]bool{
		"alice": true,
		"bob":   false,
	} {
		f := &fakeRunner{scripts: map[string][]scripted{
			"git lfs version":      {{stdout: "git-lfs/3.4.0\n"}},
			"git lfs locks --json": {{stdout: listing}},
		}}
		c := newCoordinator(repoFs(t), f)

		held, err := c.IsLockedBy(context.Background(), lockArchive, actor)
		require.NoError(t, err)
		assert.Equal(t, want, held, actor)
	}
}

func TestHolderMiss(t *testing.T) {
	f := &fakeRunner{scripts: map[string][]scripted{
		"git lfs version": {{stdout: "git-lfs/3.4.0\n"}},
		"git lfs locks --json": {{stdout: `[
  {"id":"9","path":"other.FCStd_expanded/.cadet-marker","owner":{"name":"bob"}}]`}},
	}}
	c := newCoordinator(repoFs(t), f)

	_, held, err := c.Holder(context.Background(), lockArchive)
	require.NoError(t, err)
	assert.False(t, held)
}
