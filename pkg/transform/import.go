package transform

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cadops/cadet/pkg/chunker"
	"github.com/cadops/cadet/pkg/errors"
	"github.com/cadops/cadet/pkg/model"
	"github.com/cadops/cadet/pkg/transform/status"
	"github.com/klauspost/compress/flate"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ImportResult reports what an import produced
type ImportResult struct {
	Archive   string   // rebuilt archive path
	TreeRoot  string   // source tree location
	Members   int      // members written into the archive
	Bytes     int64    // total uncompressed bytes archived
	Unchunked []string // chunk archives unpacked beforehand
	Digest    string   // inventory digest of the rebuilt archive
	Drifted   bool     // tree content no longer matches the marker digest
}

// treeMember is one tree file going into the rebuilt archive
type treeMember struct {
	rel    string // tree-relative slash path
	member string // archive member name
}

// Import rebuilds an archive from its expanded tree. The argument may
// name either end of the mapping, the archive or the tree root.
//
// Chunk archives found in the tree are unpacked first, every remaining
// file except the marker becomes an archive member, and the rebuilt
// container is staged next to its destination and renamed into place
// only once complete. Members restored from chunks are removed again
// after the rename, leaving the tree in its committed shape.
func (tr *Transformer) Import(ctx context.Context, pathArg string) (ImportResult, error) {
	archivePath, treeRoot := tr.resolve(pathArg)
	res := ImportResult{Archive: archivePath, TreeRoot: treeRoot}
	if !tr.matchesArchive(archivePath) {
		return res, status.ErrWrongFileType.WrapMessage("%s", archivePath)
	}
	fi, err := tr.fs.Stat(treeRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return res, status.ErrNotFound.WrapMessage("expanded tree %s", treeRoot)
		}
		return res, classifyStatErr(treeRoot, err)
	}
	if !fi.IsDir() {
		return res, status.ErrWrongFileType.WrapMessage("%s is not an expanded tree", treeRoot)
	}

	release, err := tr.acquireGuard(ctx, treeRoot)
	if err != nil {
		return res, err
	}
	defer release()

	recorded, hasMarker := tr.recordedMarker(treeRoot)
	if err := tr.refuseClobber(archivePath, treeRoot, hasMarker); err != nil {
		return res, err
	}

	pk := chunker.New(tr.fs,
		chunker.Prefix(tr.cfg.ChunkPrefix),
		chunker.Logger(tr.l),
	)
	unres, err := pk.Unpack(ctx, treeRoot)
	if err != nil {
		return res, err
	}
	res.Unchunked = unres.Chunks

	entries, err := tr.treeMembers(treeRoot)
	if err != nil {
		return res, err
	}

	staged := archivePath + stagingSuffix
	res.Bytes, err = tr.buildArchive(ctx, treeRoot, staged, entries)
	if err != nil {
		_ = tr.fs.Remove(staged)
		return res, err
	}
	res.Members = len(entries)
	res.Digest, err = tr.stagedDigest(staged)
	if err != nil {
		_ = tr.fs.Remove(staged)
		return res, err
	}
	if err := tr.fs.Rename(staged, archivePath); err != nil {
		_ = tr.fs.Remove(staged)
		return res, err
	}

	// the archive is durable, restored members are scratch from here on
	for _, rel := range unres.Members {
		full := filepath.Join(treeRoot, filepath.FromSlash(rel))
		if err := tr.fs.Remove(full); err != nil && !os.IsNotExist(err) {
			tr.l.Warn("could not clean up restored member",
				zap.String("path", full),
				zap.Error(err))
		}
	}

	if hasMarker && recorded.Digest != "" && recorded.Digest != res.Digest {
		res.Drifted = true
		tr.l.Info("tree content changed since last export",
			zap.String("tree", treeRoot),
			zap.String("recorded", recorded.Digest),
			zap.String("rebuilt", res.Digest))
	}
	tr.l.Info("imported archive",
		zap.String("archive", archivePath),
		zap.String("tree", treeRoot),
		zap.Int("members", res.Members),
		zap.Int("chunks", len(res.Unchunked)),
		zap.Bool("drifted", res.Drifted))
	return res, nil
}

// resolve accepts either an archive path or a tree root and returns both
// ends of the mapping.
func (tr *Transformer) resolve(p string) (archivePath, treeRoot string) {
	if fi, err := tr.fs.Stat(p); err == nil && fi.IsDir() {
		if a, ok := model.ArchiveForTree(p, tr.cfg); ok {
			return a, p
		}
	}
	return p, tr.treeRoot(p)
}

func (tr *Transformer) recordedMarker(treeRoot string) (model.Marker, bool) {
	buf, err := afero.ReadFile(tr.fs, filepath.Join(treeRoot, model.MarkerFileName))
	if err != nil {
		tr.l.Warn("tree has no readable marker, digest comparison skipped",
			zap.String("tree", treeRoot))
		return model.Marker{}, false
	}
	m, err := model.UnmarshalMarker(buf)
	if err != nil {
		tr.l.Warn("tree marker does not parse, digest comparison skipped",
			zap.String("tree", treeRoot),
			zap.Error(err))
		return model.Marker{}, false
	}
	return m, true
}

// refuseClobber keeps import from overwriting an archive that still holds
// real content while its tree never went through an export. This is the
// shape an interrupted export leaves behind, re-running the export is the
// way out.
func (tr *Transformer) refuseClobber(archivePath, treeRoot string, hasMarker bool) error {
	if hasMarker {
		return nil
	}
	fi, err := tr.fs.Stat(archivePath)
	if err != nil {
		// no archive to clobber
		return nil
	}
	if fi.Size() > tr.cfg.EmptyThreshold {
		return errors.New("tree carries no marker while the archive still has content, export it first").
			WrapMessage("%s", archivePath)
	}
	return nil
}

// treeMembers walks the tree and lists every file going into the rebuilt
// archive, sorted by member name. The marker, chunk archives at the tree
// root and our own staging leftovers stay out. Member names happening to
// end in the staging suffix are kept, only the names we ourselves write
// during an interrupted run are filtered.
func (tr *Transformer) treeMembers(treeRoot string) ([]treeMember, error) {
	var out []treeMember
	err := afero.Walk(tr.fs, treeRoot, func(p string, fi os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if fi.IsDir() || !fi.Mode().IsRegular() {
			return nil
		}
		rel, rerr := filepath.Rel(treeRoot, p)
		if rerr != nil {
			return rerr
		}
		rel = model.ToSlash(rel)
		base := path.Base(rel)
		switch {
		case rel == model.MarkerFileName:
			return nil
		case !strings.Contains(rel, "/") && model.IsChunkFile(tr.cfg.ChunkPrefix, base):
			return nil
		case !strings.Contains(rel, "/") && tr.isStagingLeftover(base):
			return nil
		}
		out = append(out, treeMember{rel: rel, member: memberForTree(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].member < out[j].member })
	return out, nil
}

// isStagingLeftover reports whether a tree-root basename is a partially
// written marker or chunk archive from an interrupted run.
func (tr *Transformer) isStagingLeftover(base string) bool {
	trimmed := strings.TrimSuffix(base, stagingSuffix)
	if trimmed == base {
		return false
	}
	return trimmed == model.MarkerFileName || model.IsChunkFile(tr.cfg.ChunkPrefix, trimmed)
}

// memberForTree maps a tree path back to its archive member name,
// undoing the extensionless relocation. Only direct children of the
// no_extension directory with extensionless basenames were relocated,
// anything else keeps its path.
func memberForTree(rel string) string {
	remainder := strings.TrimPrefix(rel, model.NoExtensionDir+"/")
	if remainder != rel && !strings.Contains(remainder, "/") && !model.HasExtension(remainder) {
		return remainder
	}
	return rel
}

// buildArchive writes the staged container. Entries carry no timestamps
// and arrive in sorted member order at a fixed compression level, so the
// same tree content always rebuilds to the same archive bytes.
func (tr *Transformer) buildArchive(ctx context.Context, treeRoot, staged string, entries []treeMember) (int64, error) {
	f, err := tr.fs.Create(staged)
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(f)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, tr.cfg.CompressionLevel)
	})

	var total int64
	for _, m := range entries {
		if err := ctx.Err(); err != nil {
			f.Close()
			return total, err
		}
		n, err := tr.addMember(zw, treeRoot, m)
		if err != nil {
			f.Close()
			return total, err
		}
		total += n
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return total, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return total, err
	}
	return total, f.Close()
}

func (tr *Transformer) addMember(zw *zip.Writer, treeRoot string, m treeMember) (int64, error) {
	src, err := tr.fs.Open(filepath.Join(treeRoot, filepath.FromSlash(m.rel)))
	if err != nil {
		return 0, err
	}
	defer src.Close()
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   m.member,
		Method: zip.Deflate,
	})
	if err != nil {
		return 0, err
	}
	return io.Copy(w, src)
}

// stagedDigest reads back the staged container's central directory and
// digests its member inventory.
func (tr *Transformer) stagedDigest(staged string) (string, error) {
	f, err := tr.fs.Open(staged)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := tr.fs.Stat(staged)
	if err != nil {
		return "", err
	}
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return "", status.ErrCorruptArchive.WrapMessage("%s: %v", staged, err)
	}
	inventory := make([]model.MemberInfo, 0, len(zr.File))
	for _, zf := range zr.File {
		inventory = append(inventory, model.MemberInfo{
			Path: zf.Name,
			Size: zf.UncompressedSize64,
			CRC:  zf.CRC32,
		})
	}
	return model.InventoryDigest(inventory), nil
}
