package transform

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/cadops/cadet/pkg/chunker"
	"github.com/cadops/cadet/pkg/model"
	"github.com/cadops/cadet/pkg/transform/status"
	"go.uber.org/zap"
)

// ExportResult reports what an export produced
type ExportResult struct {
	Archive  string   // source archive path
	TreeRoot string   // expanded tree location
	Members  int      // archive members extracted
	Chunked  []string // chunk archives written by the packer
	Digest   string   // inventory digest recorded in the marker
	Skipped  bool     // source was already a placeholder
}

// member pairs a container entry with its extraction target inside the
// tree. Targets differ from entry names only for relocated extensionless
// members.
type member struct {
	zf     *zip.File
	target string
}

// Export expands the archive at archivePath into its tree, packs residual
// binaries into chunk archives when chunking is enabled, writes the tree
// marker and finally replaces the archive with an empty placeholder.
//
// The source archive is left untouched until every other step has
// completed, so an interrupted export is always recoverable by running
// it again.
func (tr *Transformer) Export(ctx context.Context, archivePath string) (ExportResult, error) {
	res := ExportResult{Archive: archivePath, TreeRoot: tr.treeRoot(archivePath)}
	if !tr.matchesArchive(archivePath) {
		return res, status.ErrWrongFileType.WrapMessage("%s", archivePath)
	}
	fi, err := tr.fs.Stat(archivePath)
	if err != nil {
		return res, classifyStatErr(archivePath, err)
	}
	if fi.IsDir() {
		return res, status.ErrWrongFileType.WrapMessage("%s is a directory", archivePath)
	}

	release, err := tr.acquireGuard(ctx, res.TreeRoot)
	if err != nil {
		return res, err
	}
	defer release()

	if fi.Size() <= tr.cfg.EmptyThreshold {
		// placeholder or degenerate source, nothing to expand
		res.Skipped = true
		if m, merr := tr.ReadMarker(archivePath); merr == nil {
			res.Digest = m.Digest
		}
		tr.l.Info("export skipped",
			zap.String("archive", archivePath),
			zap.Int64("size", fi.Size()))
		return res, nil
	}

	f, err := tr.fs.Open(archivePath)
	if err != nil {
		return res, classifyStatErr(archivePath, err)
	}
	defer f.Close()
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return res, status.ErrCorruptArchive.WrapMessage("%s: %v", archivePath, err)
	}

	members, inventory, err := planExtraction(archivePath, zr)
	if err != nil {
		return res, err
	}
	res.Digest = model.InventoryDigest(inventory)

	if err := tr.resetTree(res.TreeRoot); err != nil {
		return res, err
	}
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := tr.extract(res.TreeRoot, m); err != nil {
			return res, err
		}
	}
	res.Members = len(members)

	if tr.cfg.ChunkingEnabled {
		pk := chunker.New(tr.fs,
			chunker.Patterns(tr.cfg.BinaryPatterns),
			chunker.Prefix(tr.cfg.ChunkPrefix),
			chunker.MaxChunkSize(tr.cfg.MaxChunkSize),
			chunker.CompressionLevel(tr.cfg.CompressionLevel),
			chunker.Logger(tr.l),
		)
		cres, err := pk.Pack(ctx, res.TreeRoot)
		if err != nil {
			return res, err
		}
		res.Chunked = cres.Chunks
	}

	marker := model.NewMarker(tr.actor, res.Digest)
	buf, err := model.MarshalMarker(marker)
	if err != nil {
		return res, err
	}
	if err := tr.place(filepath.Join(res.TreeRoot, model.MarkerFileName), buf); err != nil {
		return res, err
	}
	if err := tr.place(archivePath, emptyArchive()); err != nil {
		return res, err
	}

	tr.l.Info("exported archive",
		zap.String("archive", archivePath),
		zap.String("tree", res.TreeRoot),
		zap.Int("members", res.Members),
		zap.Int("chunks", len(res.Chunked)),
		zap.String("generation", marker.Generation))
	return res, nil
}

// planExtraction validates every member name and decides its tree
// location up front, before anything touches the tree. Top level members
// without an extension are relocated under the no_extension directory.
// Directory entries are dropped, member files recreate their parents.
func planExtraction(archivePath string, zr *zip.Reader) ([]member, []model.MemberInfo, error) {
	members := make([]member, 0, len(zr.File))
	inventory := make([]model.MemberInfo, 0, len(zr.File))
	for _, zf := range zr.File {
		if strings.HasSuffix(zf.Name, "/") || zf.FileInfo().IsDir() {
			continue
		}
		rel := path.Clean(model.ToSlash(zf.Name))
		if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
			return nil, nil, status.ErrCorruptArchive.WrapMessage("%s: member escapes the tree: %q", archivePath, zf.Name)
		}
		target := rel
		if !strings.Contains(rel, "/") && !model.HasExtension(rel) {
			target = path.Join(model.NoExtensionDir, rel)
		}
		members = append(members, member{zf: zf, target: target})
		inventory = append(inventory, model.MemberInfo{
			Path: rel,
			Size: zf.UncompressedSize64,
			CRC:  zf.CRC32,
		})
	}
	return members, inventory, nil
}

// resetTree clears any previous expansion so the tree ends up mirroring
// exactly the archive being exported, with no stale members, chunks or
// staging leftovers.
func (tr *Transformer) resetTree(treeRoot string) error {
	if err := tr.fs.RemoveAll(treeRoot); err != nil {
		return err
	}
	return tr.fs.MkdirAll(treeRoot, 0755)
}

func (tr *Transformer) extract(treeRoot string, m member) error {
	full := filepath.Join(treeRoot, filepath.FromSlash(m.target))
	if err := tr.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	rc, err := m.zf.Open()
	if err != nil {
		return status.ErrCorruptArchive.WrapMessage("%s: %v", m.zf.Name, err)
	}
	defer rc.Close()
	w, err := tr.fs.Create(full)
	if err != nil {
		return err
	}
	// the zip reader verifies the member checksum when the stream
	// reaches EOF
	if _, err := io.Copy(w, rc); err != nil {
		w.Close()
		return status.ErrCorruptArchive.WrapMessage("%s: %v", m.zf.Name, err)
	}
	return w.Close()
}

// emptyArchive renders the placeholder content, a valid container with
// no members.
func emptyArchive() []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_ = zw.Close()
	return buf.Bytes()
}
