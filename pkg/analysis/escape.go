package analysis

import (
	"lumenc/pkg/ast"
	"lumenc/pkg/cfg"
)

// EscapeClass is a point in the escape lattice: Local < Returned <
// Captured < Global. A variable's class only ever increases as more
// of the function is analyzed.
type EscapeClass int

const (
	EscapeLocal EscapeClass = iota
	EscapeReturned
	EscapeCaptured
	EscapeGlobal
)

func EscapeJoin(a, b EscapeClass) EscapeClass {
	if a > b {
		return a
	}
	return b
}

func (c EscapeClass) String() string {
	switch c {
	case EscapeLocal:
		return "local"
	case EscapeReturned:
		return "returned"
	case EscapeCaptured:
		return "captured"
	case EscapeGlobal:
		return "global"
	default:
		return "local"
	}
}

// AnalysisContext holds the escape-analysis fixed point for one
// function: a monotone map from variable name to its current class,
// refined by repeated passes over the CFG in reverse postorder until no
// entry changes.
type AnalysisContext struct {
	Classes map[string]EscapeClass
	Uses    map[string]int
}

func NewAnalysisContext() *AnalysisContext {
	return &AnalysisContext{
		Classes: make(map[string]EscapeClass),
		Uses:    make(map[string]int),
	}
}

// VarUsage is one tracked variable's escape classification and
// reference count, as seen by AnalyzeExpr over an AST subtree — the
// AST-facing counterpart to AnalyzeFunc's CFG-facing Classes map, for
// callers (like pkg/compiler's direct AST lowering) that never build a
// cfg.Func for the expression they're checking.
type VarUsage struct {
	Name             string
	UseCount         int
	Escape           EscapeClass
	CapturedByLambda bool
}

func (ctx *AnalysisContext) Raise(name string, to EscapeClass) bool {
	cur, ok := ctx.Classes[name]
	if !ok {
		ctx.Classes[name] = to
		return to != EscapeLocal
	}
	joined := EscapeJoin(cur, to)
	if joined != cur {
		ctx.Classes[name] = joined
		return true
	}
	return false
}

func (ctx *AnalysisContext) ClassOf(name string) EscapeClass {
	return ctx.Classes[name]
}

// AddVar registers name as a tracked local, starting at EscapeLocal
// unless AnalyzeExpr has already raised it.
func (ctx *AnalysisContext) AddVar(name string) {
	if _, ok := ctx.Classes[name]; !ok {
		ctx.Classes[name] = EscapeLocal
	}
	if _, ok := ctx.Uses[name]; !ok {
		ctx.Uses[name] = 0
	}
}

// AnalyzeExpr runs the same lambda/define escape raising AnalyzeFunc
// runs over a cfg.Func, directly over an AST subtree, and tallies every
// symbol reference it finds. Used by compileLet, which has no CFG for
// the let body, to decide which bindings can be freed at scope exit.
func (ctx *AnalysisContext) AnalyzeExpr(expr *ast.Value) {
	ctx.countUses(expr)
	changed := true
	for changed {
		changed = ctx.visitExpr(expr)
	}
}

func (ctx *AnalysisContext) countUses(expr *ast.Value) {
	if expr == nil || ast.IsNil(expr) {
		return
	}
	if ast.IsSym(expr) {
		ctx.Uses[expr.Str]++
		return
	}
	if ast.IsCell(expr) {
		ctx.countUses(expr.Car)
		ctx.countUses(expr.Cdr)
	}
}

// AnalyzeEscape raises every symbol referenced anywhere in expr to at
// least the given class. Used when a caller already knows expr's value
// escapes to a particular scope (a global's initializer, say) and wants
// every name it mentions to inherit that floor.
func (ctx *AnalysisContext) AnalyzeEscape(expr *ast.Value, to EscapeClass) {
	for _, name := range freeSymbols(expr) {
		ctx.Raise(name, to)
	}
}

// FindVar returns the usage recorded for name, or nil if AddVar/
// AnalyzeExpr never saw it.
func (ctx *AnalysisContext) FindVar(name string) *VarUsage {
	cls, clsOk := ctx.Classes[name]
	uses, usesOk := ctx.Uses[name]
	if !clsOk && !usesOk {
		return nil
	}
	return &VarUsage{
		Name:             name,
		UseCount:         uses,
		Escape:           cls,
		CapturedByLambda: cls == EscapeCaptured,
	}
}

// AnalyzeFunc runs the worklist to a fixed point: every return result
// is raised to Returned, every value stored into a closure's captured
// set or a global binding is raised further, and lambda literals inside
// a statement's expression raise their free variables to Captured.
func (ctx *AnalysisContext) AnalyzeFunc(f *cfg.Func) {
	for _, p := range f.Params {
		ctx.Raise(p, EscapeLocal)
	}
	changed := true
	for changed {
		changed = false
		for _, id := range f.ReversePostOrder() {
			node := f.Nodes[id]
			for _, stmt := range node.Stmts {
				if ctx.visitExpr(stmt.Expr) {
					changed = true
				}
				if stmt.DestVar != "" {
					if _, ok := ctx.Classes[stmt.DestVar]; !ok {
						ctx.Classes[stmt.DestVar] = EscapeLocal
						changed = true
					}
				}
			}
			if node.Term.Kind == cfg.Return && node.Term.HasResult {
				if ctx.Raise(node.Term.ResultVar, EscapeReturned) {
					changed = true
				}
			}
		}
	}
}

// visitExpr raises the escape class of any symbol referenced from a
// lambda body (captured) or a top-level define (global), returning
// whether anything changed.
func (ctx *AnalysisContext) visitExpr(expr *ast.Value) bool {
	if expr == nil || ast.IsNil(expr) {
		return false
	}
	changed := false
	if ast.IsSym(expr) {
		return false
	}
	if !ast.IsCell(expr) {
		return false
	}
	if ast.IsSym(expr.Car) {
		switch expr.Car.Str {
		case "lambda", "fn":
			for _, v := range freeSymbols(expr) {
				if ctx.Raise(v, EscapeCaptured) {
					changed = true
				}
			}
			return changed
		case "define":
			for _, v := range freeSymbols(expr) {
				if ctx.Raise(v, EscapeGlobal) {
					changed = true
				}
			}
			return changed
		}
	}
	for _, item := range ast.ListToSlice(expr) {
		if ctx.visitExpr(item) {
			changed = true
		}
	}
	return changed
}

// freeSymbols collects every symbol referenced anywhere under expr.
func freeSymbols(expr *ast.Value) []string {
	var out []string
	var walk func(v *ast.Value)
	walk = func(v *ast.Value) {
		if v == nil || ast.IsNil(v) {
			return
		}
		if ast.IsSym(v) {
			out = append(out, v.Str)
			return
		}
		if ast.IsCell(v) {
			walk(v.Car)
			walk(v.Cdr)
		}
	}
	walk(expr)
	return out
}

// FindFreeVars returns the distinct symbols under expr that are not in
// bound, in first-seen order. When expr is a lambda/fn form its own
// parameters are excluded as well; parameters of nested lambdas and
// let-bound names are not, and operator symbols such as "+" are kept.
func FindFreeVars(expr *ast.Value, bound map[string]bool) []string {
	skip := map[string]bool{}
	for k := range bound {
		skip[k] = true
	}
	if ast.IsCell(expr) && (ast.SymEqStr(expr.Car, "lambda") || ast.SymEqStr(expr.Car, "fn")) && ast.IsCell(expr.Cdr) {
		for _, p := range ast.ListToSlice(expr.Cdr.Car) {
			skip[p.Str] = true
		}
		expr = expr.Cdr.Cdr
	}
	var out []string
	for _, s := range freeSymbols(expr) {
		if !skip[s] {
			skip[s] = true
			out = append(out, s)
		}
	}
	return out
}
