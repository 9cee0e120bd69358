package chunker

import (
	"archive/zip"
	"bytes"
	"context"
	"hash/crc32"
	"io"
	"path/filepath"

	"github.com/cadops/cadet/pkg/chunker/status"
	"github.com/cadops/cadet/pkg/model"
	"github.com/docker/go-units"
	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"
)

// zip layout constants for exact size accounting: a finished archive is
// the sum of its local headers, raw deflate streams, central directory
// records and the end-of-central-directory record.
const (
	localHeaderLen    = 30
	centralHeaderLen  = 46
	endOfDirectoryLen = 22
)

// Result reports what a pack run produced
type Result struct {
	Chunks []string // chunk archive names written, in index order
	Packed []string // tree-relative member paths packed away
	Bytes  int64    // total uncompressed bytes packed
}

// entry is a member prepared for packing: its deflate stream is built
// once, chunks are then assembled from the raw bytes.
type entry struct {
	name  string
	crc   uint32
	usize uint64
	raw   []byte
}

func (e entry) footprint() int64 {
	return int64(localHeaderLen+centralHeaderLen+2*len(e.name)) + int64(len(e.raw))
}

// Pack fills chunk archives with the members of treeRoot matching the
// binary patterns. Members are added greedily in path order; when an
// addition would push the chunk past the size cap the chunk is flushed
// and the member retried against a fresh one. A member that cannot fit
// even an empty chunk fails with status.ErrFileTooLarge instead of
// looping.
//
// Every flushed chunk is staged under a temporary name, synced and
// renamed into place before its member files are removed from the tree,
// so an interrupted pack never loses content.
func (pk *Packer) Pack(ctx context.Context, treeRoot string) (Result, error) {
	var res Result
	cands, err := pk.candidates(treeRoot)
	if err != nil {
		return res, err
	}
	if len(cands) == 0 {
		return res, nil
	}

	var (
		pending []entry
		size    = int64(endOfDirectoryLen)
		index   = 1
	)
	for _, rel := range cands {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e, err := pk.prepare(treeRoot, rel)
		if err != nil {
			return res, err
		}
		if size+e.footprint() > pk.maxSize && len(pending) > 0 {
			if err := pk.flush(treeRoot, index, pending, &res); err != nil {
				return res, err
			}
			index++
			pending = nil
			size = endOfDirectoryLen
		}
		if size+e.footprint() > pk.maxSize {
			return res, status.ErrFileTooLarge.WrapMessage(
				"%s: %s compressed at level %d cannot fit a %s chunk",
				rel, units.HumanSize(float64(len(e.raw))), pk.level,
				units.HumanSize(float64(pk.maxSize)))
		}
		pending = append(pending, e)
		size += e.footprint()
	}
	if len(pending) > 0 {
		if err := pk.flush(treeRoot, index, pending, &res); err != nil {
			return res, err
		}
	}
	pk.l.Debug("packed tree",
		zap.String("tree", treeRoot),
		zap.Int("chunks", len(res.Chunks)),
		zap.Int("members", len(res.Packed)),
		zap.String("size", units.HumanSize(float64(res.Bytes))))
	return res, nil
}

// prepare compresses one member into a raw deflate stream
func (pk *Packer) prepare(treeRoot, rel string) (entry, error) {
	e := entry{name: rel}
	f, err := pk.fs.Open(filepath.Join(treeRoot, filepath.FromSlash(rel)))
	if err != nil {
		return e, err
	}
	defer f.Close()

	var raw bytes.Buffer
	fw, err := flate.NewWriter(&raw, pk.level)
	if err != nil {
		return e, err
	}
	sum := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(fw, sum), f)
	if err != nil {
		fw.Close()
		return e, err
	}
	if err := fw.Close(); err != nil {
		return e, err
	}
	e.crc = sum.Sum32()
	e.usize = uint64(n)
	e.raw = raw.Bytes()
	return e, nil
}

// flush assembles the pending entries into the next chunk archive and
// removes their source files once the chunk is durably in place.
// Entries carry no timestamps, so identical content always packs to
// byte-identical chunks.
func (pk *Packer) flush(treeRoot string, index int, entries []entry, res *Result) error {
	name := model.ChunkFileName(pk.prefix, index)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateRaw(&zip.FileHeader{
			Name:               e.name,
			Method:             zip.Deflate,
			CRC32:              e.crc,
			CompressedSize64:   uint64(len(e.raw)),
			UncompressedSize64: e.usize,
		})
		if err != nil {
			return err
		}
		if _, err := w.Write(e.raw); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}

	target := filepath.Join(treeRoot, name)
	staged := target + chunkStagingSuffix
	f, err := pk.fs.Create(staged)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := pk.fs.Rename(staged, target); err != nil {
		return err
	}

	for _, e := range entries {
		if err := pk.fs.Remove(filepath.Join(treeRoot, filepath.FromSlash(e.name))); err != nil {
			return err
		}
		res.Packed = append(res.Packed, e.name)
		res.Bytes += int64(e.usize)
	}
	pk.l.Info("chunk written",
		zap.String("chunk", name),
		zap.Int("members", len(entries)),
		zap.String("size", units.HumanSize(float64(buf.Len()))))
	return nil
}
