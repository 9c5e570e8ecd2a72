// Package heft assigns dispatch priorities to catchment reaches using the
// upward-rank heuristic from HEFT list scheduling. Every reach costs one
// unit of compute and edges cost nothing, so a reach's rank reduces to the
// length of the longest downstream path below it.
package heft

import (
	"fmt"
	"sort"
)

// Ranks computes the upward rank of every node from its child adjacency.
// A leaf has rank 1; any other node ranks one above its highest-ranked
// child. The walk is iterative over a reverse topological order, so chain
// depth is bounded by the heap, not the goroutine stack.
func Ranks(children map[string][]string) (map[string]int, error) {
	ids := make([]string, 0, len(children))
	for id := range children {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	outdeg := make(map[string]int, len(children))
	parents := make(map[string][]string, len(children))
	for _, id := range ids {
		for _, ch := range children[id] {
			if _, ok := children[ch]; !ok {
				return nil, fmt.Errorf("heft: edge %s -> %s names an unknown node", id, ch)
			}
			outdeg[id]++
			parents[ch] = append(parents[ch], id)
		}
	}

	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if outdeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	ranks := make(map[string]int, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		rank := 1
		for _, ch := range children[id] {
			if r := ranks[ch] + 1; r > rank {
				rank = r
			}
		}
		ranks[id] = rank
		for _, p := range parents[id] {
			outdeg[p]--
			if outdeg[p] == 0 {
				queue = append(queue, p)
			}
		}
	}
	if len(ranks) != len(ids) {
		return nil, fmt.Errorf("heft: graph contains a cycle")
	}
	return ranks, nil
}

// Priorities numbers the nodes of a DAG for dispatch: rank descending, ties
// broken by id ascending, counted from zero. A lower number dispatches
// first, so the longest chains start as early as possible. A single-node
// graph gets priority 1.
func Priorities(children map[string][]string) (map[string]int, error) {
	if len(children) == 1 {
		for id := range children {
			return map[string]int{id: 1}, nil
		}
	}
	ranks, err := Ranks(children)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(ranks))
	for id := range ranks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ranks[ids[i]] != ranks[ids[j]] {
			return ranks[ids[i]] > ranks[ids[j]]
		}
		return ids[i] < ids[j]
	})
	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = i
	}
	return out, nil
}
