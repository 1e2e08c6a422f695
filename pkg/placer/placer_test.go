package placer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumenc/pkg/analysis"
	"lumenc/pkg/ast"
	"lumenc/pkg/cfg"
	"lumenc/pkg/symtab"
)

func buildFunc(t *testing.T, params []string, body *ast.Value) *cfg.Func {
	t.Helper()
	res := symtab.NewResolver()
	scope := res.RootScope()
	if len(params) > 0 {
		scope = res.EnterScope(res.RootScope())
		for _, p := range params {
			res.DefineLocal(scope, p, symtab.Parameter)
		}
	}
	b := cfg.NewBuilder(res)
	return b.BuildFunc("f", params, body, scope)
}

// TestPlaceFreesDeadLocalInLinearBody covers the weak/strong-release
// scenario for a single straight-line block: a let-bound local whose
// value isn't returned dies in the node it was last used in.
func TestPlaceFreesDeadLocalInLinearBody(t *testing.T) {
	binding := ast.List1(ast.List2(ast.NewSym("y"), ast.NewInt(1)))
	letExpr := ast.List3(ast.NewSym("let"), binding, ast.NewSym("y"))
	body := ast.List1(letExpr)
	f := buildFunc(t, nil, body)

	liveness := analysis.NewLivenessContext()
	Place(f, liveness)

	entry := f.Nodes[f.Entry]
	require.NotNil(t, entry)
	assert.Contains(t, entry.FreesAt, "y", "y is never used again after the body returns it, so it dies here")
}

// TestPlaceNeverFreesParameters exercises the borrowed-never-freed
// invariant: a function parameter must never appear in any node's
// FreesAt, since ownership of it belongs to the caller.
func TestPlaceNeverFreesParameters(t *testing.T) {
	body := ast.List1(ast.SliceToList([]*ast.Value{ast.NewSym("if"), ast.NewSym("x"), ast.NewInt(1), ast.NewInt(2)}))
	f := buildFunc(t, []string{"x"}, body)

	liveness := analysis.NewLivenessContext()
	Place(f, liveness)

	for id, node := range f.Nodes {
		for _, v := range node.FreesAt {
			assert.NotEqual(t, "x", v, "parameter x freed in node %d: parameters are never placer-freed", id)
		}
	}
}

// TestPlaceFreePointsAreUnique checks that no variable is assigned a
// free point in more than one node across the whole function: ASAP
// placement puts each dead variable at exactly one place.
func TestPlaceFreePointsAreUnique(t *testing.T) {
	cond := ast.SliceToList([]*ast.Value{ast.NewSym("if"), ast.NewSym("x"),
		ast.List3(ast.NewSym("let"), ast.List1(ast.List2(ast.NewSym("a"), ast.NewInt(1))), ast.NewSym("a")),
		ast.List3(ast.NewSym("let"), ast.List1(ast.List2(ast.NewSym("b"), ast.NewInt(2))), ast.NewSym("b")),
	})
	body := ast.List1(cond)
	f := buildFunc(t, []string{"x"}, body)

	liveness := analysis.NewLivenessContext()
	Place(f, liveness)

	seen := map[string]int{}
	for _, node := range f.Nodes {
		for _, v := range node.FreesAt {
			seen[v]++
		}
	}
	for v, count := range seen {
		assert.Equal(t, 1, count, "variable %s assigned more than one free point", v)
	}
}

// TestPlaceBranchingLastUse covers scenario where a binding's last use
// differs across the two arms of an if: each arm should free its own
// dead locals independently, and a variable used only in one arm must
// not be freed in the other.
func TestPlaceBranchingLastUse(t *testing.T) {
	binding := ast.List1(ast.List2(ast.NewSym("shared"), ast.NewInt(5)))
	thenBranch := ast.List3(ast.NewSym("let"), binding, ast.NewSym("shared"))
	body := ast.List1(ast.SliceToList([]*ast.Value{ast.NewSym("if"), ast.NewSym("x"), thenBranch, ast.NewInt(0)}))
	f := buildFunc(t, []string{"x"}, body)

	liveness := analysis.NewLivenessContext()
	Place(f, liveness)

	var freedSomewhere bool
	for _, node := range f.Nodes {
		for _, v := range node.FreesAt {
			if v == "shared" {
				freedSomewhere = true
			}
		}
	}
	assert.True(t, freedSomewhere, "shared, bound only in the then-arm, must be freed somewhere in that arm")
}
