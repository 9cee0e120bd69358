package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type treePathFixture struct {
	name     string
	archive  string
	cfg      Config
	wantTree string
}

func treePathTestCases() []treePathFixture {
	return []treePathFixture{
		{
			name:     "default convention",
			archive:  "parts/bracket.FCStd",
			cfg:      Config{Suffix: "_expanded"},
			wantTree: "parts/bracket.FCStd_expanded",
		},
		{
			name:     "top level archive",
			archive:  "bracket.FCStd",
			cfg:      Config{Suffix: "_expanded"},
			wantTree: "bracket.FCStd_expanded",
		},
		{
			name:     "prefix only",
			archive:  "parts/bracket.FCStd",
			cfg:      Config{Prefix: "x_"},
			wantTree: "parts/x_bracket.FCStd",
		},
		{
			name:     "nested subdir placement",
			archive:  "parts/bracket.FCStd",
			cfg:      Config{Suffix: ".d", Subdir: "expanded"},
			wantTree: "parts/expanded/bracket.FCStd.d",
		},
		{
			name:     "windows separators normalized",
			archive:  `parts\bracket.FCStd`,
			cfg:      Config{Suffix: "_expanded"},
			wantTree: "parts/bracket.FCStd_expanded",
		},
	}
}

func TestTreeRootRoundTrip(t *testing.T) {
	for _, tc := range treePathTestCases() {
		t.Run(tc.name, func(t *testing.T) {
			tree := TreeRoot(tc.archive, tc.cfg)
			assert.Equal(t, tc.wantTree, tree)

			back, ok := ArchiveForTree(tree, tc.cfg)
			require.True(t, ok)
			assert.Equal(t, ToSlash(tc.archive), back)
		})
	}
}

func TestArchiveForTreeRejectsForeignPaths(t *testing.T) {
	cfg := Config{Suffix: "_expanded", Subdir: "expanded"}

	_, ok := ArchiveForTree("parts/bracket.FCStd_expanded", cfg)
	assert.False(t, ok, "missing subdir component")

	_, ok = ArchiveForTree("parts/expanded/bracket.FCStd", cfg)
	assert.False(t, ok, "missing suffix")

	_, ok = ArchiveForTree("parts/expanded/_expanded", cfg)
	assert.False(t, ok, "empty stem")
}

func TestMarkerPath(t *testing.T) {
	cfg := Config{Suffix: "_expanded"}
	marker := MarkerPath("parts/bracket.FCStd", cfg)
	assert.Equal(t, "parts/bracket.FCStd_expanded/"+MarkerFileName, marker)

	archive, ok := ArchiveForMarker(marker, cfg)
	require.True(t, ok)
	assert.Equal(t, "parts/bracket.FCStd", archive)

	_, ok = ArchiveForMarker("parts/bracket.FCStd_expanded/other.yaml", cfg)
	assert.False(t, ok)
}

func TestChunkNaming(t *testing.T) {
	assert.Equal(t, "binaries_1.zip", ChunkFileName("binaries_", 1))
	assert.Equal(t, "binaries_12.zip", ChunkFileName("binaries_", 12))

	n, ok := ChunkIndex("binaries_", "binaries_7.zip")
	require.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = ChunkIndex("binaries_", "binaries_.zip")
	assert.False(t, ok)
	_, ok = ChunkIndex("binaries_", "binaries_7.zip.tmp")
	assert.False(t, ok)
	_, ok = ChunkIndex("binaries_", "model.brp")
	assert.False(t, ok)
	_, ok = ChunkIndex("binaries_", "binaries_0.zip")
	assert.False(t, ok, "indices start at 1")

	assert.True(t, IsChunkFile("binaries_", "binaries_3.zip"))
	assert.False(t, IsChunkFile("chunk.", "binaries_3.zip"))
	assert.True(t, IsChunkFile("chunk.", "chunk.3.zip"))
}

func TestHasExtension(t *testing.T) {
	assert.True(t, HasExtension("Document.xml"))
	assert.True(t, HasExtension(".gitignore"), "dotfiles stay in place")
	assert.True(t, HasExtension("trailing."))
	assert.False(t, HasExtension("Thumbnail"))
	assert.False(t, HasExtension("README"))
}
