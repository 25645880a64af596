package graph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"math/rand"

	"github.com/dshills/codelocal/internal/ordinal"
	"github.com/dshills/codelocal/pkg/types"
)

// Snapshot layout (little endian):
//
//	header  magic[4] version:u16 compression:u8 reserved:u8
//	        rawLen:u64 crc32(raw):u32 payloadLen:u64
//	payload compressed raw bytes
//
// raw:
//
//	dim:u32 m:u32 next:u32 generation:u64 entry:i64 maxLevel:u32 count:u32
//	count * { ord:u32 level:u32 vec:dim*f32 (level+1) * { n:u32 n*slot:u32 } }
//	tombLen:u32 roaring bitmap of tombstoned ordinals
const (
	snapshotVersion = 1
	headerSize      = 4 + 2 + 1 + 1 + 8 + 4 + 8
	maxSnapshotSize = 1 << 34
)

var snapshotMagic = [4]byte{'C', 'L', 'G', 'X'}

// ErrCorruptSnapshot is returned when a snapshot cannot be decoded
var ErrCorruptSnapshot = errors.New("corrupt graph snapshot")

// Info describes a written or restored snapshot
type Info struct {
	Generation  uint64
	NextOrdinal types.Ordinal
	Nodes       int
	Tombstones  int
	Compression Compression
	Bytes       int
}

// Save writes the full graph, including the vectors of every node and the
// tombstone set, to w. generation is stored so a restore can be matched
// against the metadata committed with it.
func (g *Graph) Save(w io.Writer, c Compression, generation uint64) (Info, error) {
	raw, err := g.encode(generation)
	if err != nil {
		return Info{}, err
	}

	payload, used, err := compress(raw, c)
	if err != nil {
		return Info{}, err
	}

	hdr := make([]byte, 0, headerSize)
	hdr = append(hdr, snapshotMagic[:]...)
	hdr = binary.LittleEndian.AppendUint16(hdr, snapshotVersion)
	hdr = append(hdr, byte(used), 0)
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(raw)))
	hdr = binary.LittleEndian.AppendUint32(hdr, crc32.ChecksumIEEE(raw))
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(payload)))

	if _, err := w.Write(hdr); err != nil {
		return Info{}, fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return Info{}, fmt.Errorf("write snapshot payload: %w", err)
	}

	return Info{
		Generation:  generation,
		NextOrdinal: g.space.Next(),
		Nodes:       len(g.nodes),
		Tombstones:  g.TombstoneCount(),
		Compression: used,
		Bytes:       len(hdr) + len(payload),
	}, nil
}

func (g *Graph) encode(generation uint64) ([]byte, error) {
	dim := g.space.Dim()
	buf := make([]byte, 0, 64+len(g.nodes)*(8+4*dim+8*g.opts.M))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(g.opts.M))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(g.space.Next()))
	buf = binary.LittleEndian.AppendUint64(buf, generation)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(g.entry))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(g.maxLevel))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(g.nodes)))

	for _, n := range g.nodes {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(n.ord))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(n.level))
		for _, x := range n.vec {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(x))
		}
		for _, conns := range n.conns {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(conns)))
			for _, s := range conns {
				buf = binary.LittleEndian.AppendUint32(buf, s)
			}
		}
	}

	tomb, err := g.tombstones.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode tombstones: %w", err)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tomb)))
	buf = append(buf, tomb...)
	return buf, nil
}

// Load reads a snapshot written by Save into a new graph with its own
// ordinal.Space. dim must match the snapshot. Any decoding failure is
// reported as ErrCorruptSnapshot and leaves nothing half-built.
func Load(r io.Reader, dim int, opts Options) (*Graph, Info, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, Info{}, fmt.Errorf("%w: header: %v", ErrCorruptSnapshot, err)
	}
	if [4]byte(hdr[0:4]) != snapshotMagic {
		return nil, Info{}, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != snapshotVersion {
		return nil, Info{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, v)
	}
	comp := Compression(hdr[6])
	rawLen := binary.LittleEndian.Uint64(hdr[8:16])
	sum := binary.LittleEndian.Uint32(hdr[16:20])
	payloadLen := binary.LittleEndian.Uint64(hdr[20:28])
	if rawLen > maxSnapshotSize || payloadLen > maxSnapshotSize {
		return nil, Info{}, fmt.Errorf("%w: implausible size", ErrCorruptSnapshot)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, Info{}, fmt.Errorf("%w: payload: %v", ErrCorruptSnapshot, err)
	}
	raw, err := decompress(payload, comp, int(rawLen))
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if crc32.ChecksumIEEE(raw) != sum {
		return nil, Info{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	g, info, err := decode(raw, dim, opts)
	if err != nil {
		return nil, Info{}, err
	}
	info.Compression = comp
	info.Bytes = headerSize + len(payload)
	return g, info, nil
}

// reader is a bounds-checked cursor over the raw payload
type reader struct {
	buf []byte
	err error
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 4 {
		r.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 8 {
		r.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf)
	r.buf = r.buf[8:]
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v
}

func decode(raw []byte, dim int, opts Options) (*Graph, Info, error) {
	corrupt := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrCorruptSnapshot, fmt.Sprintf(format, args...))
	}

	rd := &reader{buf: raw}
	snapDim := int(rd.u32())
	m := int(rd.u32())
	next := types.Ordinal(rd.u32())
	generation := rd.u64()
	entry := int64(rd.u64())
	maxLevel := int(rd.u32())
	count := int(rd.u32())
	if rd.err != nil {
		return nil, Info{}, corrupt("preamble: %v", rd.err)
	}
	if snapDim != dim {
		return nil, Info{}, fmt.Errorf("%w: snapshot has %d, want %d", ErrDimensionMismatch, snapDim, dim)
	}
	// every node needs at least ord, level, one vector and one list length
	if count < 0 || count > len(rd.buf)/(12+4*dim) {
		return nil, Info{}, corrupt("node count %d exceeds payload", count)
	}

	if m >= 2 {
		opts.M = m
	}
	space := ordinal.New(dim)
	g := New(space, opts)
	g.rng = rand.New(rand.NewSource(opts.Seed + int64(count))) // #nosec G404 -- level sampling only

	g.nodes = make([]*node, count)
	for slot := 0; slot < count; slot++ {
		ord := types.Ordinal(rd.u32())
		level := int(rd.u32())
		if rd.err != nil {
			return nil, Info{}, corrupt("node %d: %v", slot, rd.err)
		}
		if level > 64 {
			return nil, Info{}, corrupt("node %d: level %d", slot, level)
		}

		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = math.Float32frombits(rd.u32())
		}

		conns := make([][]uint32, level+1)
		for l := range conns {
			n := int(rd.u32())
			if rd.err != nil || n > len(rd.buf)/4 {
				return nil, Info{}, corrupt("node %d layer %d: bad link count", slot, l)
			}
			conns[l] = make([]uint32, n)
			for i := range conns[l] {
				s := rd.u32()
				if int(s) >= count {
					return nil, Info{}, corrupt("node %d links to slot %d of %d", slot, s, count)
				}
				conns[l][i] = s
			}
		}
		if rd.err != nil {
			return nil, Info{}, corrupt("node %d: %v", slot, rd.err)
		}

		if _, dup := g.slots[ord]; dup {
			return nil, Info{}, corrupt("ordinal %d appears twice", ord)
		}
		if err := space.Restore(ord, vec); err != nil {
			return nil, Info{}, corrupt("ordinal %d: %v", ord, err)
		}
		g.nodes[slot] = &node{ord: ord, level: level, vec: vec, conns: conns}
		g.slots[ord] = uint32(slot)
	}

	tombLen := int(rd.u32())
	tomb := rd.bytes(tombLen)
	if rd.err != nil {
		return nil, Info{}, corrupt("tombstones: %v", rd.err)
	}
	if len(rd.buf) != 0 {
		return nil, Info{}, corrupt("%d trailing bytes", len(rd.buf))
	}
	if err := g.tombstones.UnmarshalBinary(tomb); err != nil {
		return nil, Info{}, corrupt("tombstones: %v", err)
	}
	it := g.tombstones.Iterator()
	for it.HasNext() {
		if _, ok := g.slots[types.Ordinal(it.Next())]; !ok {
			return nil, Info{}, corrupt("tombstone without node")
		}
	}

	switch {
	case count == 0:
		g.entry, g.maxLevel = -1, 0
	case entry < 0 || entry >= int64(count) || g.nodes[entry].level != maxLevel:
		return nil, Info{}, corrupt("entry point %d (level %d) invalid", entry, maxLevel)
	default:
		g.entry, g.maxLevel = entry, maxLevel
	}

	space.Advance(next)

	return g, Info{
		Generation:  generation,
		NextOrdinal: space.Next(),
		Nodes:       count,
		Tombstones:  g.TombstoneCount(),
	}, nil
}
