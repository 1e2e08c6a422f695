package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumenc/pkg/ast"
)

func TestMangleSubstitutesOperatorCharacters(t *testing.T) {
	assert.Equal(t, "o_x", Mangle("x"))
	assert.Equal(t, "o__add", Mangle("+"))
	assert.Equal(t, "o__sub", Mangle("-"))
	assert.Equal(t, "o_set_b", Mangle("set!"))
	assert.Equal(t, "o_list_p", Mangle("list?"))
	assert.Equal(t, "o_a__b", Mangle("a_b"))
}

func TestMangledPrimitiveNameUsesPPrefix(t *testing.T) {
	assert.Equal(t, "p__add", MangledPrimitiveName("+"))
	assert.Equal(t, "p_cons", MangledPrimitiveName("cons"))
}

func TestIsPrimitive(t *testing.T) {
	assert.True(t, IsPrimitive("cons"))
	assert.True(t, IsPrimitive("+"))
	assert.False(t, IsPrimitive("my-custom-fn"))
}

func TestScopeLookupWalksToParent(t *testing.T) {
	r := NewResolver()
	outer := r.EnterScope(r.RootScope())
	r.DefineLocal(outer, "x", Local)
	inner := r.EnterScope(outer)
	r.DefineLocal(inner, "y", Local)

	assert.NotNil(t, inner.Lookup("x"), "inner scope should see outer binding")
	assert.NotNil(t, inner.Lookup("y"))
	assert.Nil(t, outer.Lookup("y"), "outer scope must not see inner binding")
}

func TestScopeDefineShadowsOuterBinding(t *testing.T) {
	r := NewResolver()
	outer := r.EnterScope(r.RootScope())
	r.DefineLocal(outer, "x", Local)
	inner := r.EnterScope(outer)
	r.DefineLocal(inner, "x", Local)

	outerBinding := outer.Lookup("x")
	innerBinding := inner.Lookup("x")
	require.NotNil(t, outerBinding)
	require.NotNil(t, innerBinding)
	assert.NotEqual(t, outerBinding.MangledName, innerBinding.MangledName, "shadowing binding gets a distinct mangled name")
}

func TestResolveFlagsUnboundIdentifier(t *testing.T) {
	r := NewResolver()
	expr := ast.NewSym("undefined_var")
	r.Resolve(expr, r.RootScope())
	require.Len(t, r.Errors, 1)
}

func TestResolveAcceptsSeededPrimitive(t *testing.T) {
	r := NewResolver()
	expr := ast.NewSym("cons")
	r.Resolve(expr, r.RootScope())
	assert.Empty(t, r.Errors)
}

func TestResolveLambdaLiftsBodyAndBindsParams(t *testing.T) {
	r := NewResolver()
	params := ast.List1(ast.NewSym("x"))
	body := ast.NewSym("x")
	lambdaExpr := ast.List3(ast.NewSym("lambda"), params, body)

	r.Resolve(lambdaExpr, r.RootScope())

	assert.Empty(t, r.Errors, "x is bound as a parameter inside the lambda")
	require.Len(t, r.Lifted, 1)
	assert.Equal(t, "_lambda0", r.Lifted[0].Name)
}

func TestResolveLetStarSeesEarlierBindings(t *testing.T) {
	r := NewResolver()
	bindings := ast.List2(
		ast.List2(ast.NewSym("a"), ast.NewInt(1)),
		ast.List2(ast.NewSym("b"), ast.NewSym("a")),
	)
	letExpr := ast.List3(ast.NewSym("let*"), bindings, ast.NewSym("b"))

	r.Resolve(letExpr, r.RootScope())
	assert.Empty(t, r.Errors, "let* should resolve b's initializer against a, already bound")
}

func TestResolveLetDoesNotSeeSiblingBindings(t *testing.T) {
	r := NewResolver()
	bindings := ast.List2(
		ast.List2(ast.NewSym("a"), ast.NewInt(1)),
		ast.List2(ast.NewSym("b"), ast.NewSym("a")),
	)
	letExpr := ast.List3(ast.NewSym("let"), bindings, ast.NewSym("b"))

	r.Resolve(letExpr, r.RootScope())
	assert.NotEmpty(t, r.Errors, "plain let must not let b's initializer see a")
}
