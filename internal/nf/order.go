package nf

import (
	"container/heap"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tessera/internal/world"
)

// Less is the replay tie-break: timestamp ascending, then event id.
func Less(a, b *world.Event) bool {
	if a.TS != b.TS {
		return a.TS < b.TS
	}
	return a.ID < b.ID
}

// OrderDeterministic returns events in replay order. Predecessor links are
// honored first (a topological sort over Prev); among events whose
// predecessors have all been emitted, the smallest (ts, id) goes next.
// Predecessors outside the batch are treated as already applied.
//
// The result depends only on the set of events, never on input order.
// A cycle among predecessors is a ValidationError.
func OrderDeterministic(events []*world.Event) ([]*world.Event, error) {
	byID := make(map[string]*world.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	indegree := make(map[string]int, len(byID))
	children := make(map[string][]*world.Event, len(byID))
	for _, ev := range byID {
		indegree[ev.ID] += 0
		for _, p := range ev.Prev {
			if _, ok := byID[p]; !ok {
				continue
			}
			indegree[ev.ID]++
			children[p] = append(children[p], ev)
		}
	}

	ready := &eventHeap{}
	for _, ev := range byID {
		if indegree[ev.ID] == 0 {
			*ready = append(*ready, ev)
		}
	}
	heap.Init(ready)

	out := make([]*world.Event, 0, len(byID))
	for ready.Len() > 0 {
		ev := heap.Pop(ready).(*world.Event)
		out = append(out, ev)
		for _, child := range children[ev.ID] {
			indegree[child.ID]--
			if indegree[child.ID] == 0 {
				heap.Push(ready, child)
			}
		}
	}

	if len(out) != len(byID) {
		var stuck []string
		for id, n := range indegree {
			if n > 0 {
				stuck = append(stuck, id)
			}
		}
		slices.Sort(stuck)
		return nil, &world.ValidationError{
			Code:    world.CodeCausalCycle,
			Field:   "prev",
			EventID: stuck[0],
			Message: fmt.Sprintf("predecessor cycle among %s", strings.Join(stuck, ", ")),
		}
	}
	return out, nil
}

// eventHeap is a min-heap on (ts, id).
type eventHeap []*world.Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return Less(h[i], h[j]) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*world.Event)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
