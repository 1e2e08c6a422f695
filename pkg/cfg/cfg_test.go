package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumenc/pkg/ast"
	"lumenc/pkg/symtab"
)

func buildFunc(t *testing.T, params []string, body *ast.Value) *Func {
	t.Helper()
	res := symtab.NewResolver()
	scope := res.RootScope()
	if len(params) > 0 {
		scope = res.EnterScope(res.RootScope())
		for _, p := range params {
			res.DefineLocal(scope, p, symtab.Parameter)
		}
	}
	b := NewBuilder(res)
	return b.BuildFunc("f", params, body, scope)
}

func TestBuildFuncLinearBodyReturnsLastValue(t *testing.T) {
	body := ast.List1(ast.NewSym("x"))
	f := buildFunc(t, []string{"x"}, body)

	entry := f.Nodes[f.Entry]
	require.NotNil(t, entry)
	assert.Equal(t, Return, entry.Term.Kind)
	assert.True(t, entry.Term.HasResult)
	assert.Empty(t, f.Successors(f.Entry), "a Return node has no successors")
}

func TestBuildFuncIfProducesBranchAndMergeNodes(t *testing.T) {
	body := ast.List1(ast.SliceToList([]*ast.Value{ast.NewSym("if"), ast.NewSym("x"), ast.NewInt(1), ast.NewInt(2)}))
	f := buildFunc(t, []string{"x"}, body)

	entry := f.Nodes[f.Entry]
	require.Equal(t, Branch, entry.Term.Kind)

	succ := f.Successors(f.Entry)
	require.Len(t, succ, 2, "a Branch node has exactly then/else successors")
	assert.Equal(t, entry.Term.ThenID, succ[0])
	assert.Equal(t, entry.Term.ElseID, succ[1])

	thenNode := f.Nodes[entry.Term.ThenID]
	elseNode := f.Nodes[entry.Term.ElseID]
	require.NotNil(t, thenNode)
	require.NotNil(t, elseNode)

	thenSucc := f.Successors(entry.Term.ThenID)
	elseSucc := f.Successors(entry.Term.ElseID)
	require.Len(t, thenSucc, 1)
	require.Len(t, elseSucc, 1)
	assert.Equal(t, thenSucc[0], elseSucc[0], "then and else branches join at the same merge node")

	merge := f.Nodes[thenSucc[0]]
	require.NotNil(t, merge)
	assert.Equal(t, Return, merge.Term.Kind)
}

func TestBuildFuncIfWithoutElseFallsThroughEmpty(t *testing.T) {
	body := ast.List1(ast.List3(ast.NewSym("if"), ast.NewSym("x"), ast.NewInt(1)))
	f := buildFunc(t, []string{"x"}, body)

	entry := f.Nodes[f.Entry]
	require.Equal(t, Branch, entry.Term.Kind)

	elseNode := f.Nodes[entry.Term.ElseID]
	require.NotNil(t, elseNode)
	assert.Empty(t, elseNode.Stmts, "a missing else branch lowers to an empty node")
}

func TestBuildFuncLetDefinesLocalAndUsesRHS(t *testing.T) {
	binding := ast.List1(ast.List2(ast.NewSym("y"), ast.NewInt(7)))
	letExpr := ast.List3(ast.NewSym("let"), binding, ast.NewSym("y"))
	body := ast.List1(letExpr)
	f := buildFunc(t, nil, body)

	entry := f.Nodes[f.Entry]
	var sawDefY bool
	for _, stmt := range entry.Stmts {
		if stmt.DestVar == "y" {
			sawDefY = true
		}
	}
	assert.True(t, sawDefY, "let binding should define its local name")
	assert.True(t, entry.Defs["y"])
}

func TestReversePostOrderStartsAtEntryAndVisitsBothBranches(t *testing.T) {
	body := ast.List1(ast.SliceToList([]*ast.Value{ast.NewSym("if"), ast.NewSym("x"), ast.NewInt(1), ast.NewInt(2)}))
	f := buildFunc(t, []string{"x"}, body)

	rpo := f.ReversePostOrder()
	require.NotEmpty(t, rpo)
	assert.Equal(t, f.Entry, rpo[0], "reverse postorder starts at the entry node")

	seen := map[int]bool{}
	for _, id := range rpo {
		seen[id] = true
	}
	for id := range f.Nodes {
		assert.True(t, seen[id], "node %d reachable from entry must appear in reverse postorder", id)
	}
}

func TestPredecessorsAreInverseOfSuccessors(t *testing.T) {
	body := ast.List1(ast.SliceToList([]*ast.Value{ast.NewSym("if"), ast.NewSym("x"), ast.NewInt(1), ast.NewInt(2)}))
	f := buildFunc(t, []string{"x"}, body)

	for id := range f.Nodes {
		for _, succ := range f.Successors(id) {
			assert.Contains(t, f.Predecessors(succ), id)
		}
	}
}
