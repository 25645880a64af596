package graph

import (
	"container/heap"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/dshills/codelocal/pkg/types"
)

// Hit is one search result
type Hit struct {
	Ordinal types.Ordinal
	// Score is the cosine similarity to the query
	Score float32
}

// Search returns up to k live ordinals closest to query, best first.
// Equal scores are ordered by ascending ordinal.
func (g *Graph) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != g.space.Dim() {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), g.space.Dim())
	}
	if k <= 0 || g.entry < 0 || g.LiveCount() == 0 {
		return nil, nil
	}

	// Tombstoned nodes stay routable but take candidate slots, so widen the
	// beam by their count to keep k live results reachable
	ef := max(g.opts.EFSearch, k) + g.TombstoneCount()
	ef = min(ef, len(g.nodes))

	cur := uint32(g.entry)
	curDist := cosineDistance(query, g.nodes[cur].vec)
	cur, curDist = g.greedyDescend(query, cur, curDist, g.maxLevel, 0)

	cands := g.searchLayer(query, cur, curDist, ef, 0)

	hits := make([]Hit, 0, k)
	for _, c := range cands {
		n := g.nodes[c.slot]
		if g.tombstones.Contains(uint32(n.ord)) {
			continue
		}
		hits = append(hits, Hit{Ordinal: n.ord, Score: Similarity(c.dist)})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// greedyDescend walks from cur down to (but not including) stopLevel, moving
// to any neighbor closer to q on each layer
func (g *Graph) greedyDescend(q []float32, cur uint32, curDist float32, fromLevel, stopLevel int) (uint32, float32) {
	for l := fromLevel; l > stopLevel; l-- {
		changed := true
		for changed {
			changed = false
			n := g.nodes[cur]
			if l >= len(n.conns) {
				break
			}
			for _, nb := range n.conns[l] {
				d := cosineDistance(q, g.nodes[nb].vec)
				if d < curDist {
					cur, curDist = nb, d
					changed = true
				}
			}
		}
	}
	return cur, curDist
}

// searchLayer runs a beam search of width ef on one layer starting from ep
// and returns the candidates found, closest first
func (g *Graph) searchLayer(q []float32, ep uint32, epDist float32, ef, level int) []candidate {
	visited := bitset.New(uint(len(g.nodes)))
	visited.Set(uint(ep))

	start := candidate{slot: ep, dist: epDist}
	frontier := &priorityQueue{}
	heap.Push(frontier, start)
	best := &priorityQueue{farthest: true}
	heap.Push(best, start)

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		if c.dist > best.top().dist && best.Len() >= ef {
			break
		}

		n := g.nodes[c.slot]
		if level >= len(n.conns) {
			continue
		}
		for _, nb := range n.conns[level] {
			if visited.Test(uint(nb)) {
				continue
			}
			visited.Set(uint(nb))

			d := cosineDistance(q, g.nodes[nb].vec)
			if best.Len() < ef || d < best.top().dist {
				item := candidate{slot: nb, dist: d}
				heap.Push(frontier, item)
				heap.Push(best, item)
				if best.Len() > ef {
					heap.Pop(best)
				}
			}
		}
	}

	out := make([]candidate, len(best.items))
	copy(out, best.items)
	sortCandidates(out, g.nodes)
	return out
}

// selectNeighbors picks up to m slots from cands (closest first) using the
// HNSW heuristic: a candidate is kept only when it is closer to the base
// than to every neighbor already kept. Pruned candidates fill any remaining room.
func (g *Graph) selectNeighbors(cands []candidate, m int) []uint32 {
	if len(cands) <= m {
		out := make([]uint32, len(cands))
		for i, c := range cands {
			out[i] = c.slot
		}
		return out
	}

	kept := make([]candidate, 0, m)
	var pruned []candidate
	for _, c := range cands {
		if len(kept) >= m {
			break
		}
		good := true
		for _, k := range kept {
			if cosineDistance(g.nodes[k.slot].vec, g.nodes[c.slot].vec) < c.dist {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, c := range pruned {
		if len(kept) >= m {
			break
		}
		kept = append(kept, c)
	}

	out := make([]uint32, len(kept))
	for i, c := range kept {
		out[i] = c.slot
	}
	return out
}
