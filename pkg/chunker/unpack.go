package chunker

import (
	"archive/zip"
	"context"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/cadops/cadet/pkg/chunker/status"
	"github.com/cadops/cadet/pkg/model"
	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"
)

// UnpackResult reports what an unpack run restored
type UnpackResult struct {
	Chunks  []string // chunk archives read, in index order
	Members []string // tree-relative member paths restored
	Bytes   int64    // total bytes restored
}

// Unpack restores the members of every chunk archive under treeRoot to
// their recorded relative paths. Chunks are processed in ascending index
// order and a gap in the sequence is an error. The chunk files are left
// in place, reconciling them is the caller's concern.
func (pk *Packer) Unpack(ctx context.Context, treeRoot string) (UnpackResult, error) {
	var res UnpackResult
	chunks, err := pk.chunkFiles(treeRoot)
	if err != nil {
		return res, err
	}
	for _, name := range chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := pk.unpackChunk(treeRoot, name, &res); err != nil {
			return res, err
		}
		res.Chunks = append(res.Chunks, name)
	}
	if len(res.Chunks) > 0 {
		pk.l.Debug("unpacked tree",
			zap.String("tree", treeRoot),
			zap.Int("chunks", len(res.Chunks)),
			zap.Int("members", len(res.Members)))
	}
	return res, nil
}

func (pk *Packer) unpackChunk(treeRoot, name string, res *UnpackResult) error {
	full := filepath.Join(treeRoot, name)
	f, err := pk.fs.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := pk.fs.Stat(full)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return status.ErrCorruptChunk.WrapMessage("%s: %v", name, err)
	}
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	for _, zf := range zr.File {
		if strings.HasSuffix(zf.Name, "/") {
			continue
		}
		rel := path.Clean(model.ToSlash(zf.Name))
		if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
			return status.ErrCorruptChunk.WrapMessage("%s: member escapes the tree: %q", name, zf.Name)
		}
		if err := pk.restore(treeRoot, name, rel, zf, res); err != nil {
			return err
		}
	}
	return nil
}

func (pk *Packer) restore(treeRoot, chunkName, rel string, zf *zip.File, res *UnpackResult) error {
	target := filepath.Join(treeRoot, filepath.FromSlash(rel))
	if dir := filepath.Dir(target); dir != "" {
		if err := pk.fs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	rc, err := zf.Open()
	if err != nil {
		return status.ErrCorruptChunk.WrapMessage("%s!%s: %v", chunkName, zf.Name, err)
	}
	defer rc.Close()

	w, err := pk.fs.Create(target)
	if err != nil {
		return err
	}
	// the zip reader verifies the member checksum when the stream
	// reaches EOF
	n, err := io.Copy(w, rc)
	if err != nil {
		w.Close()
		return status.ErrCorruptChunk.WrapMessage("%s!%s: %v", chunkName, zf.Name, err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	res.Members = append(res.Members, rel)
	res.Bytes += n
	return nil
}
