package graph

import (
	"sort"

	"github.com/dshills/codelocal/pkg/types"
)

// Compact physically removes tombstoned nodes and returns their ordinals in
// ascending order. It runs in three phases:
//
//  1. Repair: live nodes that would drop below half their link budget on a
//     layer get new live neighbors, found through their tombstoned neighbors
//     and a beam search. Tombstones still route during this phase.
//  2. Prune: tombstoned slots are removed from every live adjacency list.
//  3. Rebuild: live nodes are renumbered into dense slots, the entry point
//     is re-chosen if it was removed, and removed vectors are released.
func (g *Graph) Compact() []types.Ordinal {
	if g.tombstones.IsEmpty() {
		return nil
	}

	dead := make([]bool, len(g.nodes))
	for slot, n := range g.nodes {
		dead[slot] = g.tombstones.Contains(uint32(n.ord))
	}

	// Phase 1
	repaired := make(map[uint32][][]uint32)
	for slot, n := range g.nodes {
		if dead[slot] {
			continue
		}
		for l := 0; l <= n.level; l++ {
			if g.needsRepair(n.conns[l], dead, l) {
				if repaired[uint32(slot)] == nil {
					repaired[uint32(slot)] = make([][]uint32, n.level+1)
				}
				repaired[uint32(slot)][l] = g.repairLayer(uint32(slot), l, dead)
			}
		}
	}
	for slot, layers := range repaired {
		for l, conns := range layers {
			if conns != nil {
				g.nodes[slot].conns[l] = conns
			}
		}
	}

	// Phase 2
	for slot, n := range g.nodes {
		if dead[slot] {
			continue
		}
		for l := range n.conns {
			n.conns[l] = pruneDead(n.conns[l], dead)
		}
	}

	// Phase 3
	remap := make([]int64, len(g.nodes))
	live := make([]*node, 0, len(g.nodes))
	var removed []types.Ordinal
	for slot, n := range g.nodes {
		if dead[slot] {
			remap[slot] = -1
			removed = append(removed, n.ord)
			continue
		}
		remap[slot] = int64(len(live))
		live = append(live, n)
	}
	for _, n := range live {
		for l, conns := range n.conns {
			for i, s := range conns {
				conns[i] = uint32(remap[s])
			}
			n.conns[l] = conns
		}
	}

	oldEntry := g.entry
	g.nodes = live
	g.slots = make(map[types.Ordinal]uint32, len(live))
	for slot, n := range live {
		g.slots[n.ord] = uint32(slot)
	}
	if oldEntry >= 0 && remap[oldEntry] >= 0 {
		g.entry = remap[oldEntry]
	} else {
		g.chooseEntry()
	}

	for _, ord := range removed {
		g.space.Release(ord)
	}
	g.tombstones.Clear()

	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

func (g *Graph) needsRepair(conns []uint32, dead []bool, level int) bool {
	if len(conns) == 0 {
		return false
	}
	liveCount := 0
	hasDead := false
	for _, s := range conns {
		if dead[s] {
			hasDead = true
		} else {
			liveCount++
		}
	}
	return hasDead && liveCount < g.maxConns(level)/2
}

// repairLayer collects live candidates for slot on level from its current
// live neighbors, the live neighbors of its tombstoned neighbors, and a beam
// search from the entry point, then reselects up to M of them
func (g *Graph) repairLayer(slot uint32, level int, dead []bool) []uint32 {
	n := g.nodes[slot]
	seen := map[uint32]struct{}{slot: {}}
	var cands []candidate

	add := func(s uint32) {
		if dead[s] {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		cands = append(cands, candidate{slot: s, dist: cosineDistance(n.vec, g.nodes[s].vec)})
	}

	for _, s := range n.conns[level] {
		if !dead[s] {
			add(s)
			continue
		}
		bridge := g.nodes[s]
		if level < len(bridge.conns) {
			for _, s2 := range bridge.conns[level] {
				add(s2)
			}
		}
	}

	if g.entry >= 0 && level <= g.maxLevel {
		ep := uint32(g.entry)
		epDist := cosineDistance(n.vec, g.nodes[ep].vec)
		ep, epDist = g.greedyDescend(n.vec, ep, epDist, g.maxLevel, level)
		for _, c := range g.searchLayer(n.vec, ep, epDist, g.opts.EFConstruction, level) {
			add(c.slot)
		}
	}

	sortCandidates(cands, g.nodes)
	conns := g.selectNeighbors(cands, g.maxConns(level))

	// keep tombstoned links until phase 2 so other repairs can still route through them
	for _, s := range n.conns[level] {
		if dead[s] {
			conns = append(conns, s)
		}
	}
	return conns
}

func pruneDead(conns []uint32, dead []bool) []uint32 {
	out := conns[:0]
	for _, s := range conns {
		if !dead[s] {
			out = append(out, s)
		}
	}
	return out
}

// chooseEntry picks the live node with the highest level, lowest ordinal
// first, and resets maxLevel to match
func (g *Graph) chooseEntry() {
	g.entry = -1
	g.maxLevel = 0
	for slot, n := range g.nodes {
		if g.entry < 0 || n.level > g.maxLevel ||
			(n.level == g.maxLevel && n.ord < g.nodes[g.entry].ord) {
			g.entry = int64(slot)
			g.maxLevel = n.level
		}
	}
}
