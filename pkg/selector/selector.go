// Package selector picks a free strategy (and, for allocation sites, an
// alloc strategy) for each variable from the combined results of the
// ownership, shape, region, and concurrency analyses. It implements the
// two tie-break orders: alloc prefers reuse > region > stack > heap;
// free prefers none > region-exit > unique > RC > SCC/symmetric.
package selector

import (
	"lumenc/pkg/analysis"
)

// FreeStrategy is the chosen reclamation operation for one variable at
// one free point.
type FreeStrategy int

const (
	FreeNone FreeStrategy = iota
	FreeRegionExit
	FreeUnique
	FreeRC
	FreeSCC
	FreeSymmetric
)

func (s FreeStrategy) String() string {
	switch s {
	case FreeNone:
		return "none"
	case FreeRegionExit:
		return "region-exit"
	case FreeUnique:
		return "unique"
	case FreeRC:
		return "rc"
	case FreeSCC:
		return "scc"
	case FreeSymmetric:
		return "symmetric"
	default:
		return "none"
	}
}

// AllocStrategy is the chosen allocation site for a constructed value.
type AllocStrategy int

const (
	AllocHeap AllocStrategy = iota
	AllocStack
	AllocRegion
	AllocReuse
)

func (s AllocStrategy) String() string {
	switch s {
	case AllocHeap:
		return "heap"
	case AllocStack:
		return "stack"
	case AllocRegion:
		return "region"
	case AllocReuse:
		return "reuse"
	default:
		return "heap"
	}
}

// Inputs bundles the per-variable facts the selector reads. Any field
// may be left at its zero value when the corresponding analysis didn't
// run (e.g. regions disabled), in which case that row of the tie-break
// order is skipped.
type Inputs struct {
	VarName string

	Ownership   *analysis.OwnershipContext
	Shape       analysis.Shape
	ShapeCycles *analysis.ShapeWithCycleInfo // non-nil only for Cyclic shapes

	InRegion      bool // variable's lifetime is bounded by a live region
	RegionClosing bool // this free point is the region's ExitRegion call
	HasReuseSlot  bool // a same-size predecessor is available to reuse
	IsThreadShared bool // concurrency analysis marked this atomic
	EscapesToStack bool // escape analysis proved Local and small enough to stack-allocate
}

// SelectFree applies the free tie-break order: none > region-exit >
// unique > RC > SCC/symmetric. A variable the ownership analysis says
// not to free at all (borrowed, transferred, consumed, weak) always
// wins regardless of shape or region facts.
func SelectFree(in Inputs) FreeStrategy {
	if in.Ownership != nil && !in.Ownership.ShouldFree(in.VarName) {
		return FreeNone
	}
	if in.InRegion && in.RegionClosing {
		return FreeRegionExit
	}
	switch in.Shape {
	case analysis.ShapeTree:
		return FreeUnique
	case analysis.ShapeDAG:
		return FreeRC
	case analysis.ShapeCyclic:
		if in.ShapeCycles == nil {
			return FreeSymmetric
		}
		switch in.ShapeCycles.DetermineStrategy() {
		case analysis.CyclicStrategyDecRef:
			return FreeRC
		case analysis.CyclicStrategySCC:
			return FreeSCC
		case analysis.CyclicStrategySymmetric, analysis.CyclicStrategyArena, analysis.CyclicStrategyDeferred:
			return FreeSymmetric
		}
		return FreeSymmetric
	default:
		return FreeRC
	}
}

// FreeCall renders the chosen strategy as the C runtime call that frees
// varName, following the runtime's naming (free_tree/dec_ref/scc_release/
// sym_exit_scope/region teardown is emitted by the caller, not here,
// since it has no single variable argument).
func FreeCall(strategy FreeStrategy, varName string, atomic bool) string {
	switch strategy {
	case FreeNone:
		return ""
	case FreeRegionExit:
		return ""
	case FreeUnique:
		return "free_tree(" + varName + ")"
	case FreeRC:
		if atomic {
			return "atomic_dec_ref(" + varName + ")"
		}
		return "dec_ref(" + varName + ")"
	case FreeSCC:
		return "scc_release(" + varName + ")"
	case FreeSymmetric:
		return "sym_exit_scope(" + varName + ")"
	default:
		return "dec_ref(" + varName + ")"
	}
}

// SelectAlloc applies the alloc tie-break order: reuse > region >
// stack > heap.
func SelectAlloc(in Inputs) AllocStrategy {
	if in.HasReuseSlot {
		return AllocReuse
	}
	if in.InRegion {
		return AllocRegion
	}
	if in.EscapesToStack {
		return AllocStack
	}
	return AllocHeap
}
