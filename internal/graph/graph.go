package graph

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dshills/codelocal/internal/ordinal"
	"github.com/dshills/codelocal/pkg/types"
)

var (
	// ErrDuplicateOrdinal is returned when an ordinal is inserted twice
	ErrDuplicateOrdinal = fmt.Errorf("%w: ordinal already in graph", types.ErrInvariant)

	// ErrUnknownOrdinal is returned when an ordinal has no node or no vector
	ErrUnknownOrdinal = fmt.Errorf("%w: ordinal not in graph", types.ErrInvariant)

	// ErrDimensionMismatch is returned when a query or snapshot has the wrong dimension
	ErrDimensionMismatch = errors.New("graph dimension mismatch")
)

// Options configures graph construction and search
type Options struct {
	// M is the number of links per node on upper layers; layer 0 allows 2*M
	M int
	// EFConstruction is the candidate list size used while inserting
	EFConstruction int
	// EFSearch is the minimum candidate list size used while searching
	EFSearch int
	// Seed makes level assignment reproducible
	Seed int64
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		M:              16,
		EFConstruction: 100,
		EFSearch:       64,
		Seed:           1,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.M < 2 {
		o.M = d.M
	}
	if o.EFConstruction <= 0 {
		o.EFConstruction = d.EFConstruction
	}
	if o.EFSearch <= 0 {
		o.EFSearch = d.EFSearch
	}
	return o
}

// node is one graph vertex. Connections hold slots, not ordinals.
type node struct {
	ord   types.Ordinal
	level int
	vec   []float32
	conns [][]uint32
}

// Graph is an HNSW graph over the vectors of an ordinal.Space. Nodes are
// addressed by ordinal externally and by dense slot internally. Deletion
// only tombstones a node; Compact removes tombstoned nodes physically.
//
// A Graph is not safe for concurrent mutation. Concurrent Search calls are
// safe while no mutation is running.
type Graph struct {
	space *ordinal.Space
	opts  Options
	ml    float64
	rng   *rand.Rand

	nodes      []*node
	slots      map[types.Ordinal]uint32
	tombstones *roaring.Bitmap

	entry    int64 // slot of the entry point, -1 when empty
	maxLevel int
}

// New creates an empty graph over space
func New(space *ordinal.Space, opts Options) *Graph {
	opts = opts.withDefaults()
	return &Graph{
		space:      space,
		opts:       opts,
		ml:         1 / math.Log(float64(opts.M)),
		rng:        rand.New(rand.NewSource(opts.Seed)), // #nosec G404 -- level sampling only
		slots:      make(map[types.Ordinal]uint32),
		tombstones: roaring.New(),
		entry:      -1,
	}
}

// Space returns the ordinal space backing the graph
func (g *Graph) Space() *ordinal.Space {
	return g.space
}

// Options returns the effective graph options
func (g *Graph) Options() Options {
	return g.opts
}

// Len returns the number of nodes, live and tombstoned
func (g *Graph) Len() int {
	return len(g.nodes)
}

// LiveCount returns the number of nodes that are not tombstoned
func (g *Graph) LiveCount() int {
	return len(g.nodes) - int(g.tombstones.GetCardinality())
}

// TombstoneCount returns the number of tombstoned nodes awaiting compaction
func (g *Graph) TombstoneCount() int {
	return int(g.tombstones.GetCardinality())
}

// Contains reports whether ord has a node, live or tombstoned
func (g *Graph) Contains(ord types.Ordinal) bool {
	_, ok := g.slots[ord]
	return ok
}

// IsLive reports whether ord has a node that is not tombstoned
func (g *Graph) IsLive(ord types.Ordinal) bool {
	_, ok := g.slots[ord]
	return ok && !g.tombstones.Contains(uint32(ord))
}

// IsTombstoned reports whether ord has a tombstoned node
func (g *Graph) IsTombstoned(ord types.Ordinal) bool {
	return g.tombstones.Contains(uint32(ord))
}

// Ordinals returns every ordinal with a node, in ascending order
func (g *Graph) Ordinals() []types.Ordinal {
	out := make([]types.Ordinal, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.ord)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Insert adds a node for ord using the vector stored in the space.
// Inserting the same ordinal twice is an invariant violation.
func (g *Graph) Insert(ord types.Ordinal) error {
	if _, ok := g.slots[ord]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateOrdinal, ord)
	}
	vec, ok := g.space.Vector(ord)
	if !ok {
		return fmt.Errorf("%w: %d has no vector", ErrUnknownOrdinal, ord)
	}

	level := g.randomLevel()
	n := &node{
		ord:   ord,
		level: level,
		vec:   vec,
		conns: make([][]uint32, level+1),
	}
	slot := uint32(len(g.nodes))

	if g.entry < 0 {
		g.nodes = append(g.nodes, n)
		g.slots[ord] = slot
		g.entry = int64(slot)
		g.maxLevel = level
		return nil
	}

	cur := uint32(g.entry)
	curDist := cosineDistance(vec, g.nodes[cur].vec)
	cur, curDist = g.greedyDescend(vec, cur, curDist, g.maxLevel, level)

	for l := min(level, g.maxLevel); l >= 0; l-- {
		cands := g.searchLayer(vec, cur, curDist, g.opts.EFConstruction, l)
		n.conns[l] = g.selectNeighbors(cands, g.opts.M)
		cur, curDist = cands[0].slot, cands[0].dist
	}

	g.nodes = append(g.nodes, n)
	g.slots[ord] = slot

	for l := min(level, g.maxLevel); l >= 0; l-- {
		for _, nb := range n.conns[l] {
			g.link(nb, slot, l)
		}
	}

	if level > g.maxLevel {
		g.entry = int64(slot)
		g.maxLevel = level
	}
	return nil
}

// Tombstone marks ord as deleted. Searches stop returning it immediately;
// the node stays in place as a routing bridge until Compact.
func (g *Graph) Tombstone(ord types.Ordinal) error {
	if _, ok := g.slots[ord]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOrdinal, ord)
	}
	g.tombstones.Add(uint32(ord))
	return nil
}

func (g *Graph) randomLevel() int {
	return int(math.Floor(-math.Log(1-g.rng.Float64()) * g.ml))
}

func (g *Graph) maxConns(level int) int {
	if level == 0 {
		return 2 * g.opts.M
	}
	return g.opts.M
}

// link adds a directed edge from -> to on level, shrinking the list back to
// its bound with the neighbor selection heuristic when it overflows
func (g *Graph) link(from, to uint32, level int) {
	n := g.nodes[from]
	if level >= len(n.conns) {
		return
	}
	n.conns[level] = append(n.conns[level], to)

	limit := g.maxConns(level)
	if len(n.conns[level]) <= limit {
		return
	}

	cands := make([]candidate, 0, len(n.conns[level]))
	for _, s := range n.conns[level] {
		cands = append(cands, candidate{slot: s, dist: cosineDistance(n.vec, g.nodes[s].vec)})
	}
	sortCandidates(cands, g.nodes)
	n.conns[level] = g.selectNeighbors(cands, limit)
}

// sortCandidates orders by distance, breaking ties by ordinal
func sortCandidates(cands []candidate, nodes []*node) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return nodes[cands[i].slot].ord < nodes[cands[j].slot].ord
	})
}
