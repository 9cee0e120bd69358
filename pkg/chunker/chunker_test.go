package chunker

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cadops/cadet/internal/rand"
	"github.com/cadops/cadet/pkg/chunker/status"
	"github.com/cadops/cadet/pkg/errors"
	"github.com/cadops/cadet/pkg/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTree = "/repo/bracket.FCStd_expanded"

func writeTree(t *testing.T, fs afero.Fs, root string, files map[string][]byte) {
	t.Helper()
	for rel, data := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, fs.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, afero.WriteFile(fs, p, data, 0644))
	}
}

func treeFixture(t *testing.T) (afero.Fs, map[string][]byte) {
	t.Helper()
	fs := afero.NewMemMapFs()
	members := map[string][]byte{
		"shapes/PartShape1.brp":   rand.Bytes(1200),
		"shapes/PartShape2.brp":   rand.Bytes(1500),
		"deep/nested/Feature.brp": rand.Bytes(800),
	}
	writeTree(t, fs, testTree, members)
	writeTree(t, fs, testTree, map[string][]byte{
		"Document.xml":         []byte("<Document/>"),
		model.MarkerFileName:   []byte("generation: abc\n"),
		"thumbnails/Thumbnail": rand.Bytes(64),
	})
	return fs, members
}

func TestPackUnpackRoundTrip(t *testing.T) {
	fs, members := treeFixture(t)
	pk := New(fs, MaxChunkSize(2500))

	res, err := pk.Pack(context.Background(), testTree)
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, []string{
		"deep/nested/Feature.brp",
		"shapes/PartShape1.brp",
		"shapes/PartShape2.brp",
	}, res.Packed, "members pack in path order")

	for i, name := range res.Chunks {
		assert.Equal(t, model.ChunkFileName(model.DefaultChunkPrefix, i+1), name)
		fi, err := fs.Stat(filepath.Join(testTree, name))
		require.NoError(t, err)
		assert.LessOrEqual(t, fi.Size(), int64(2500), "chunk %s exceeds the cap", name)
	}

	for rel := range members {
		exists, _ := afero.Exists(fs, filepath.Join(testTree, filepath.FromSlash(rel)))
		assert.False(t, exists, "%s should have been packed away", rel)
	}
	for _, rel := range []string{"Document.xml", model.MarkerFileName, "thumbnails/Thumbnail"} {
		exists, _ := afero.Exists(fs, filepath.Join(testTree, filepath.FromSlash(rel)))
		assert.True(t, exists, "%s should not be packed", rel)
	}

	ures, err := pk.Unpack(context.Background(), testTree)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, ures.Chunks)
	for rel, want := range members {
		got, err := afero.ReadFile(fs, filepath.Join(testTree, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, want, got, "%s round-trips byte for byte", rel)
	}
	for _, name := range res.Chunks {
		exists, _ := afero.Exists(fs, filepath.Join(testTree, name))
		assert.True(t, exists, "chunks are left in place after unpack")
	}
}

func TestPackNothingToDo(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, testTree, map[string][]byte{"Document.xml": []byte("<Document/>")})
	pk := New(fs)

	res, err := pk.Pack(context.Background(), testTree)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.Packed)
}

func TestPackFileTooLarge(t *testing.T) {
	fs := afero.NewMemMapFs()
	// random bytes do not compress, three times the cap can never fit
	writeTree(t, fs, testTree, map[string][]byte{"shapes/Huge.brp": rand.Bytes(3 * 2048)})
	pk := New(fs, MaxChunkSize(2048))

	_, err := pk.Pack(context.Background(), testTree)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrFileTooLarge))
	assert.Contains(t, err.Error(), "shapes/Huge.brp")

	// nothing was flushed and the source is untouched
	exists, _ := afero.Exists(fs, filepath.Join(testTree, "binaries_1.zip"))
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, filepath.Join(testTree, "shapes", "Huge.brp"))
	assert.True(t, exists)
}

func TestPackExcludesChunksAndMarker(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, testTree, map[string][]byte{
		"binaries_1.zip":     []byte("previous generation chunk"),
		"binaries_2.zip.tmp": []byte("interrupted staging leftover"),
		model.MarkerFileName: []byte("generation: abc\n"),
		"Mesh.brp":           rand.Bytes(256),
	})
	pk := New(fs, Patterns([]string{"**/*"}))

	res, err := pk.Pack(context.Background(), testTree)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mesh.brp"}, res.Packed,
		"chunk archives, staging leftovers and the marker are never candidates")
}

// brokenReadFs serves files whose reads fail, standing in for a member
// that disappears or turns unreadable mid-pack.
type brokenReadFs struct {
	afero.Fs
	suffix string
}

func (b brokenReadFs) Open(name string) (afero.File, error) {
	f, err := b.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(name, b.suffix) {
		return brokenFile{File: f}, nil
	}
	return f, nil
}

type brokenFile struct {
	afero.File
}

func (brokenFile) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestPackReadFailure(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeTree(t, mem, testTree, map[string][]byte{
		"shapes/Good.brp": rand.Bytes(256),
		"shapes/Bad.brp":  rand.Bytes(256),
	})
	pk := New(brokenReadFs{Fs: mem, suffix: "Bad.brp"})

	_, err := pk.Pack(context.Background(), testTree)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	// nothing was flushed, both sources are untouched
	exists, _ := afero.Exists(mem, filepath.Join(testTree, "binaries_1.zip"))
	assert.False(t, exists)
	exists, _ = afero.Exists(mem, filepath.Join(testTree, "shapes", "Good.brp"))
	assert.True(t, exists)
}

func TestUnpackDetectsGap(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, testTree, map[string][]byte{
		"binaries_1.zip": []byte("x"),
		"binaries_3.zip": []byte("x"),
	})
	pk := New(fs)

	_, err := pk.Unpack(context.Background(), testTree)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrMissingChunk))
	assert.Contains(t, err.Error(), "binaries_2.zip")
}

func TestUnpackCorruptChunk(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, testTree, map[string][]byte{
		"binaries_1.zip": []byte("this is not a zip archive"),
	})
	pk := New(fs)

	_, err := pk.Unpack(context.Background(), testTree)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrCorruptChunk))
}

func TestPackDeterministic(t *testing.T) {
	content := map[string][]byte{
		"shapes/PartShape1.brp": rand.Bytes(1000),
		"shapes/PartShape2.brp": rand.Bytes(1000),
	}
	pack := func() []byte {
		fs := afero.NewMemMapFs()
		writeTree(t, fs, testTree, content)
		res, err := New(fs).Pack(context.Background(), testTree)
		require.NoError(t, err)
		require.Len(t, res.Chunks, 1)
		buf, err := afero.ReadFile(fs, filepath.Join(testTree, res.Chunks[0]))
		require.NoError(t, err)
		return buf
	}
	assert.Equal(t, pack(), pack(), "identical content packs to identical chunk bytes")
}

func TestChunkSizeAccounting(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, testTree, map[string][]byte{"Mesh.brp": rand.Bytes(512)})
	pk := New(fs)

	e, err := pk.prepare(testTree, "Mesh.brp")
	require.NoError(t, err)

	res, err := pk.Pack(context.Background(), testTree)
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)

	fi, err := fs.Stat(filepath.Join(testTree, res.Chunks[0]))
	require.NoError(t, err)
	assert.Equal(t, e.footprint()+endOfDirectoryLen, fi.Size(),
		"the cap accounting matches the bytes actually written")
}
