package graph

import "container/heap"

// Compile time check to ensure priorityQueue satisfies the heap interface.
var _ heap.Interface = (*priorityQueue)(nil)

// candidate is a graph slot with its distance to the current query
type candidate struct {
	slot uint32
	dist float32
}

// priorityQueue is a heap of candidates. With farthest set it is a max-heap
// (worst candidate on top), otherwise a min-heap.
type priorityQueue struct {
	farthest bool
	items    []candidate
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	if pq.farthest {
		return pq.items[i].dist > pq.items[j].dist
	}
	return pq.items[i].dist < pq.items[j].dist
}

func (pq *priorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
}

func (pq *priorityQueue) Push(x any) {
	pq.items = append(pq.items, x.(candidate))
}

func (pq *priorityQueue) Pop() any {
	n := len(pq.items)
	item := pq.items[n-1]
	pq.items = pq.items[:n-1]
	return item
}

// top returns the head of the heap without removing it
func (pq *priorityQueue) top() candidate {
	return pq.items[0]
}
