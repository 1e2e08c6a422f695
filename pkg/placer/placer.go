// Package placer assigns each owned variable its free point: the
// earliest CFG node past which it is no longer live (ASAP placement),
// freeing in LIFO order within that node so a variable's dependents are
// released before it is.
package placer

import (
	"sort"

	"lumenc/pkg/analysis"
	"lumenc/pkg/cfg"
)

// Place runs liveness over f and writes each node's FreesAt field: the
// variables whose last use is in that node, ordered last-defined-first
// (LIFO), skipping the block's own terminator result (which is still
// live in the successor/caller) and parameters (freed, if at all, only
// at function exit by the caller's epilogue).
func Place(f *cfg.Func, liveness *analysis.LivenessContext) {
	liveness.Analyze(f)

	paramSet := map[string]bool{}
	for _, p := range f.Params {
		paramSet[p] = true
	}

	ids := make([]int, 0, len(f.Nodes))
	for id := range f.Nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		node := f.Nodes[id]
		dying := liveness.LastUsesIn(f, id)
		var frees []string
		for _, v := range dying {
			if paramSet[v] {
				continue
			}
			frees = append(frees, v)
		}
		node.FreesAt = frees
	}
}
