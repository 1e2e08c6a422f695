package codegen

import (
	"fmt"
	"sort"
	"strings"

	"lumenc/pkg/analysis"
	"lumenc/pkg/ast"
	"lumenc/pkg/cfg"
	"lumenc/pkg/placer"
	"lumenc/pkg/selector"
	"lumenc/pkg/symtab"
)

// Driver generates one C99 function definition from a *cfg.Func,
// following the EnterFn -> EmitPrologue -> ForEachBlock(EmitStmts ->
// EmitFrees -> EmitTerminator) -> EmitEpilogue state machine. One
// Driver is reused across every function in a compilation unit so that
// CodeGenerator's accumulated analysis state (ownership, shape, RC
// optimization, stats) carries forward.
type Driver struct {
	gen      *CodeGenerator
	liveness *analysis.LivenessContext

	f        *cfg.Func
	declared map[string]bool
	primRef  map[string]string // dest var -> primitive surface name, for call sites
}

func NewDriver(gen *CodeGenerator) *Driver {
	return &Driver{gen: gen, liveness: analysis.NewLivenessContext()}
}

// CompileFunc lowers f into a full C function definition and writes it
// to the generator's writer.
func (d *Driver) CompileFunc(f *cfg.Func) {
	d.f = f
	d.declared = map[string]bool{}
	d.primRef = map[string]string{}

	d.gen.ownershipCtx.AnalyzeFunc(f)
	placer.Place(f, d.liveness)

	d.emitEnterFn()
	d.emitPrologue()
	for _, id := range f.ReversePostOrder() {
		d.emitBlock(f.Nodes[id])
	}
	d.emitEpilogue()
}

func (d *Driver) emitEnterFn() {
	var params []string
	for _, p := range d.f.Params {
		params = append(params, "Obj* "+p)
	}
	d.gen.emit("Obj* %s(%s) {\n", symtab.Mangle(d.f.Name), strings.Join(params, ", "))
	d.gen.indentLevel++
}

func (d *Driver) emitPrologue() {
	for _, p := range d.f.Params {
		d.declared[p] = true
	}
}

func (d *Driver) emitEpilogue() {
	d.gen.indentLevel--
	d.gen.emit("}\n\n")
}

func (d *Driver) emitBlock(node *cfg.Node) {
	d.gen.emit("%s_L%d:;\n", d.gen.indent(), node.ID)
	d.gen.indentLevel++
	d.emitStmts(node)
	d.emitFrees(node)
	d.emitTerminator(node)
	d.gen.indentLevel--
}

func (d *Driver) emitStmts(node *cfg.Node) {
	for _, stmt := range node.Stmts {
		d.emitStmt(stmt)
	}
}

func (d *Driver) emitStmt(stmt cfg.Stmt) {
	expr := stmt.Expr
	dest := stmt.DestVar

	if expr != nil && ast.IsSym(expr) && symtab.IsPrimitive(expr.Str) {
		// Primitive reference: remember it for the call site that
		// consumes it; primitives have no standalone value rendering.
		if dest != "" {
			d.primRef[dest] = expr.Str
		}
		return
	}

	rendered := d.renderExpr(expr)
	if rendered == "" {
		return
	}
	if dest == "" {
		d.gen.emit("%s%s;\n", d.gen.indent(), rendered)
		return
	}
	if d.declared[dest] {
		d.gen.emit("%s%s = %s;\n", d.gen.indent(), dest, rendered)
	} else {
		d.gen.emit("%sObj* %s = %s;\n", d.gen.indent(), dest, rendered)
		d.declared[dest] = true
	}
}

// renderExpr renders an already-lowered CFG statement's right-hand
// side: a literal, a variable read, a quoted literal, or a call whose
// arguments are all variable references.
func (d *Driver) renderExpr(expr *ast.Value) string {
	if expr == nil || ast.IsNil(expr) {
		return "NIL"
	}
	switch expr.Tag {
	case ast.TInt:
		return fmt.Sprintf("mk_int(%d)", expr.Int)
	case ast.TFloat:
		return fmt.Sprintf("mk_float(%g)", expr.Float)
	case ast.TChar:
		return fmt.Sprintf("mk_char(%d)", expr.Int)
	case ast.TStr:
		return fmt.Sprintf("mk_str(%q)", expr.Str)
	case ast.TSym:
		return expr.Str
	case ast.TCell:
		if ast.IsSym(expr.Car) && expr.Car.Str == "quote" {
			return d.renderQuoted(expr.Cdr.Car)
		}
		return d.renderCall(expr)
	}
	return "NIL"
}

// renderQuoted builds a literal AST value at runtime via mk_* calls,
// independent of the value's eventual free strategy (quoted data is
// always Owned fresh storage at the quoting site).
func (d *Driver) renderQuoted(v *ast.Value) string {
	if v == nil || ast.IsNil(v) {
		return "NIL"
	}
	switch v.Tag {
	case ast.TInt:
		return fmt.Sprintf("mk_int(%d)", v.Int)
	case ast.TFloat:
		return fmt.Sprintf("mk_float(%g)", v.Float)
	case ast.TChar:
		return fmt.Sprintf("mk_char(%d)", v.Int)
	case ast.TStr:
		return fmt.Sprintf("mk_str(%q)", v.Str)
	case ast.TSym:
		return fmt.Sprintf("mk_sym(%q)", v.Str)
	case ast.TCell:
		return fmt.Sprintf("mk_cons(%s, %s)", d.renderQuoted(v.Car), d.renderQuoted(v.Cdr))
	}
	return "NIL"
}

// renderCall renders a call statement: expr is the cons-list built by
// cfg.lowerCall, (calleeVar arg1Var arg2Var ...), each already a
// variable reference.
func (d *Driver) renderCall(expr *ast.Value) string {
	items := ast.ListToSlice(expr)
	if len(items) == 0 {
		return "NIL"
	}
	calleeVar := items[0].Str
	var argVars []string
	for _, a := range items[1:] {
		argVars = append(argVars, a.Str)
	}

	if prim, ok := d.primRef[calleeVar]; ok {
		return fmt.Sprintf("%s(%s)", symtab.MangledPrimitiveName(prim), strings.Join(argVars, ", "))
	}

	allArgs := append([]string{calleeVar}, argVars...)
	return fmt.Sprintf("apply_closure(%s)", strings.Join(allArgs, ", "))
}

// emitFrees emits the node's placed frees, in the LIFO order the
// placer already produced, deciding each variable's strategy from the
// combined ownership/shape facts.
func (d *Driver) emitFrees(node *cfg.Node) {
	for _, v := range node.FreesAt {
		in := selector.Inputs{
			VarName:   v,
			Ownership: d.gen.ownershipCtx,
			Shape:     d.gen.shapeCtx.LookupShape(ast.NewSym(v)),
		}
		strategy := selector.SelectFree(in)
		call := selector.FreeCall(strategy, v, d.gen.NeedsAtomicRC(v))
		if call != "" {
			d.gen.emit("%s%s;\n", d.gen.indent(), call)
		}
	}
}

func (d *Driver) emitTerminator(node *cfg.Node) {
	switch node.Term.Kind {
	case cfg.Fallthrough:
		for _, succ := range d.f.Successors(node.ID) {
			d.gen.emit("%sgoto _L%d;\n", d.gen.indent(), succ)
		}
	case cfg.Branch:
		d.gen.emit("%sif (truthy(%s)) goto _L%d; else goto _L%d;\n",
			d.gen.indent(), node.Term.Cond, node.Term.ThenID, node.Term.ElseID)
	case cfg.Return:
		if node.Term.HasResult {
			d.gen.emit("%sreturn %s;\n", d.gen.indent(), node.Term.ResultVar)
		} else {
			d.gen.emit("%sreturn NIL;\n", d.gen.indent())
		}
	case cfg.Unreachable:
		d.gen.emit("%s__builtin_unreachable();\n", d.gen.indent())
	}
}

// CompileUnit runs CompileFunc over every function the resolver lifted
// plus the unit's entry points, in a stable name order so output is
// deterministic across runs.
func (d *Driver) CompileUnit(funcs []*cfg.Func) {
	sorted := make([]*cfg.Func, len(funcs))
	copy(sorted, funcs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, f := range sorted {
		d.CompileFunc(f)
	}
}
