package model

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/minio/blake2b-simd"
	"github.com/segmentio/ksuid"
	yaml "gopkg.in/yaml.v2"
)

// Marker is the yaml document stored at MarkerFileName inside an expanded
// tree. Every export rewrites it with a fresh generation, so a checkout
// crossing any content change always sees the marker change too.
type Marker struct {
	Generation string    `json:"generation" yaml:"generation"`
	Actor      string    `json:"actor,omitempty" yaml:"actor,omitempty"`
	PackedAt   time.Time `json:"packedAt" yaml:"packedAt"`
	Digest     string    `json:"digest,omitempty" yaml:"digest,omitempty"`
	_          struct{}
}

// NewMarker mints a marker for the given actor and inventory digest
func NewMarker(actor, digest string) Marker {
	return Marker{
		Generation: ksuid.New().String(),
		Actor:      actor,
		PackedAt:   time.Now().UTC(),
		Digest:     digest,
	}
}

// MarshalMarker serializes a marker to its yaml document form
func MarshalMarker(m Marker) ([]byte, error) {
	return yaml.Marshal(m)
}

// UnmarshalMarker parses a marker yaml document
func UnmarshalMarker(buf []byte) (Marker, error) {
	var m Marker
	err := yaml.Unmarshal(buf, &m)
	return m, err
}

// MemberInfo identifies one archive member for digest purposes
type MemberInfo struct {
	Path string
	Size uint64
	CRC  uint32
}

// digestSize is the blake2b output width for inventory digests
const digestSize = 32

// InventoryDigest hashes the sorted member inventory of an archive with
// blake2b-256. Two archives with identical member sets, sizes and CRCs
// share a digest; order of the input does not matter.
func InventoryDigest(members []MemberInfo) string {
	sorted := make([]MemberInfo, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h, err := blake2b.New(&blake2b.Config{Size: digestSize})
	if err != nil {
		// fixed valid config, cannot happen
		panic(err)
	}
	for _, m := range sorted {
		fmt.Fprintf(h, "%s\x00%d\x00%08x\n", m.Path, m.Size, m.CRC)
	}
	return hex.EncodeToString(h.Sum(nil))
}
