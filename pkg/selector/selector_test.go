package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lumenc/pkg/analysis"
)

func ownershipAllowingFree(name string) *analysis.OwnershipContext {
	ctx := analysis.NewOwnershipContext(nil)
	ctx.DefineOwned(name)
	return ctx
}

// TestSelectFreeBorrowedNeverFreed covers the borrowed-never-freed
// invariant: the ownership analysis saying not to free a variable wins
// over every shape/region fact, regardless of how deep down the
// tie-break order those facts would otherwise point.
func TestSelectFreeBorrowedNeverFreed(t *testing.T) {
	ctx := analysis.NewOwnershipContext(nil)
	ctx.DefineBorrowed("p")

	got := SelectFree(Inputs{
		VarName:   "p",
		Ownership: ctx,
		Shape:     analysis.ShapeCyclic,
		InRegion:  true,
	})
	assert.Equal(t, FreeNone, got)
}

// TestSelectFreeRegionExitBeatsShape checks the region-exit row: a
// variable whose lifetime is region-bounded is freed by the region's
// teardown, not by its shape-driven strategy, when this is the region's
// actual exit point.
func TestSelectFreeRegionExitBeatsShape(t *testing.T) {
	got := SelectFree(Inputs{
		VarName:       "r",
		Ownership:     ownershipAllowingFree("r"),
		Shape:         analysis.ShapeDAG,
		InRegion:      true,
		RegionClosing: true,
	})
	assert.Equal(t, FreeRegionExit, got)
}

// TestSelectFreeRegionNotClosingFallsThroughToShape checks that being
// in a region that isn't closing at this point does not short-circuit
// the shape-based rows below it.
func TestSelectFreeRegionNotClosingFallsThroughToShape(t *testing.T) {
	got := SelectFree(Inputs{
		VarName:   "r",
		Ownership: ownershipAllowingFree("r"),
		Shape:     analysis.ShapeTree,
		InRegion:  true,
	})
	assert.Equal(t, FreeUnique, got)
}

// TestSelectFreeShapeTable covers every row of the shape-driven part of
// the strategy table: tree frees uniquely, DAG refcounts, and cyclic
// defers to the cycle-info strategy (or symmetric release when no cycle
// info is available).
func TestSelectFreeShapeTable(t *testing.T) {
	cases := []struct {
		name     string
		shape    analysis.Shape
		cycles   *analysis.ShapeWithCycleInfo
		expected FreeStrategy
	}{
		{"tree", analysis.ShapeTree, nil, FreeUnique},
		{"dag", analysis.ShapeDAG, nil, FreeRC},
		{"cyclic-no-info", analysis.ShapeCyclic, nil, FreeSymmetric},
		{"cyclic-broken", analysis.ShapeCyclic, &analysis.ShapeWithCycleInfo{Shape: analysis.ShapeCyclic, CyclesBroken: true}, FreeRC},
		{"cyclic-frozen", analysis.ShapeCyclic, &analysis.ShapeWithCycleInfo{Shape: analysis.ShapeCyclic, IsFrozen: true}, FreeSCC},
		{"cyclic-mutable", analysis.ShapeCyclic, &analysis.ShapeWithCycleInfo{Shape: analysis.ShapeCyclic}, FreeSymmetric},
		{"unknown", analysis.ShapeUnknown, nil, FreeRC},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectFree(Inputs{
				VarName:     tc.name,
				Ownership:   ownershipAllowingFree(tc.name),
				Shape:       tc.shape,
				ShapeCycles: tc.cycles,
			})
			assert.Equal(t, tc.expected, got)
		})
	}
}

// TestSelectAllocTieBreakOrder covers reuse > region > stack > heap: a
// higher-priority fact wins even when every lower-priority fact also
// applies.
func TestSelectAllocTieBreakOrder(t *testing.T) {
	assert.Equal(t, AllocReuse, SelectAlloc(Inputs{HasReuseSlot: true, InRegion: true, EscapesToStack: true}))
	assert.Equal(t, AllocRegion, SelectAlloc(Inputs{InRegion: true, EscapesToStack: true}))
	assert.Equal(t, AllocStack, SelectAlloc(Inputs{EscapesToStack: true}))
	assert.Equal(t, AllocHeap, SelectAlloc(Inputs{}))
}

// TestFreeCallRendersRuntimeEntryPoints covers the transfer-never-doubled
// property at the call-rendering boundary: FreeNone and FreeRegionExit
// must render to an empty call (the caller never double-emits a free for
// a variable it doesn't own or whose region already tears it down), and
// every other strategy renders to a distinct, non-empty runtime call.
func TestFreeCallRendersRuntimeEntryPoints(t *testing.T) {
	assert.Equal(t, "", FreeCall(FreeNone, "v", false))
	assert.Equal(t, "", FreeCall(FreeRegionExit, "v", false))
	assert.Equal(t, "free_tree(v)", FreeCall(FreeUnique, "v", false))
	assert.Equal(t, "dec_ref(v)", FreeCall(FreeRC, "v", false))
	assert.Equal(t, "atomic_dec_ref(v)", FreeCall(FreeRC, "v", true))
	assert.Equal(t, "scc_release(v)", FreeCall(FreeSCC, "v", false))
	assert.Equal(t, "sym_exit_scope(v)", FreeCall(FreeSymmetric, "v", false))
}

func TestFreeStrategyStringCoversEveryValue(t *testing.T) {
	strategies := []FreeStrategy{FreeNone, FreeRegionExit, FreeUnique, FreeRC, FreeSCC, FreeSymmetric}
	seen := map[string]bool{}
	for _, s := range strategies {
		str := s.String()
		assert.NotEmpty(t, str)
		assert.False(t, seen[str], "duplicate String() %q for distinct strategies", str)
		seen[str] = true
	}
}

// TestSelectFreeConsumedByChannelSend covers the channel-transfer
// scenario: a value handed to chan-send! is consumed by the receiver,
// so the sender's copy must never be freed.
func TestSelectFreeConsumedByChannelSend(t *testing.T) {
	ctx := analysis.NewOwnershipContext(nil)
	ctx.DefineOwned("msg")
	ctx.ConsumeOwnership("msg", "chan-send!")

	got := SelectFree(Inputs{VarName: "msg", Ownership: ctx, Shape: analysis.ShapeTree})
	assert.Equal(t, FreeNone, got)
}

func TestAllocStrategyStringCoversEveryValue(t *testing.T) {
	strategies := []AllocStrategy{AllocHeap, AllocStack, AllocRegion, AllocReuse}
	seen := map[string]bool{}
	for _, s := range strategies {
		str := s.String()
		assert.NotEmpty(t, str)
		assert.False(t, seen[str], "duplicate String() %q for distinct strategies", str)
		seen[str] = true
	}
}
