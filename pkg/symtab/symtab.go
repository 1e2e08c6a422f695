// Package symtab resolves surface identifiers to mangled C names and
// binding records, and lifts lambda bodies to top-level functions.
package symtab

import (
	"fmt"
	"strings"

	"lumenc/pkg/ast"
)

// BindingKind classifies how an identifier was introduced.
type BindingKind int

const (
	Local BindingKind = iota
	Parameter
	TopLevel
	Primitive
)

func (k BindingKind) String() string {
	switch k {
	case Local:
		return "Local"
	case Parameter:
		return "Parameter"
	case TopLevel:
		return "TopLevel"
	case Primitive:
		return "Primitive"
	default:
		return "Unknown"
	}
}

// Binding is the record a scope maps a surface name to.
type Binding struct {
	SurfaceName      string
	MangledName      string
	Kind             BindingKind
	IntroducingScope int
}

// Scope is one lexical level of the symbol table. Lookup walks outward
// through Parent.
type Scope struct {
	ID      int
	Parent  *Scope
	Entries map[string]*Binding
}

func newScope(id int, parent *Scope) *Scope {
	return &Scope{ID: id, Parent: parent, Entries: make(map[string]*Binding)}
}

// Lookup walks from this scope outward and returns the first matching
// binding, or nil if unbound.
func (s *Scope) Lookup(name string) *Binding {
	for sc := s; sc != nil; sc = sc.Parent {
		if b, ok := sc.Entries[name]; ok {
			return b
		}
	}
	return nil
}

// Define installs a binding in this scope, shadowing any outer entry of
// the same name. Redefining within the same scope overwrites (last
// definition wins), matching surface-language `define` semantics.
func (s *Scope) Define(b *Binding) {
	s.Entries[b.SurfaceName] = b
}

// Resolver walks an AST, assigning mangled names and scope-qualified
// bindings, and lifts lambda bodies out to a flat list of top-level
// functions.
type Resolver struct {
	root        *Scope
	nextScopeID int
	tempCounter int
	labelCount  int

	// Lifted holds one entry per lambda encountered, in lift order.
	// codegen and the CFG builder consume these as independent functions.
	Lifted []*LiftedFunc

	Errors []error
}

// LiftedFunc is a lambda hoisted to top level by the resolver.
type LiftedFunc struct {
	Name   string // synthetic top-level name, e.g. "_lambda3"
	Params *ast.Value
	Body   *ast.Value
	Scope  *Scope
}

func NewResolver() *Resolver {
	r := &Resolver{}
	r.root = newScope(r.freshScopeID(), nil)
	seedPrimitives(r.root)
	return r
}

func (r *Resolver) freshScopeID() int {
	id := r.nextScopeID
	r.nextScopeID++
	return id
}

// NewTemp returns a fresh compiler-internal temporary name, unique per
// compilation unit.
func (r *Resolver) NewTemp() string {
	name := fmt.Sprintf("_t%d", r.tempCounter)
	r.tempCounter++
	return name
}

// NewLabel returns a fresh branch-target label name.
func (r *Resolver) NewLabel() string {
	name := fmt.Sprintf("_L%d", r.labelCount)
	r.labelCount++
	return name
}

// mangleTable implements the fixed substitution table for symbol mangling.
var mangleTable = map[rune]string{
	'+': "_add", '-': "_sub", '*': "_mul", '/': "_div",
	'=': "_eq", '<': "_lt", '>': "_gt",
	'?': "_p", '!': "_b", '.': "_d", '_': "__",
}

// Mangle computes the emitted C identifier for a surface name.
func Mangle(name string) string {
	var sb strings.Builder
	sb.WriteString("o_")
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			continue
		}
		if repl, ok := mangleTable[r]; ok {
			sb.WriteString(repl)
			continue
		}
		sb.WriteString("_")
	}
	return sb.String()
}

// DefineTopLevel installs a top-level binding (from `define`) in the root
// scope, returning its mangled name.
func (r *Resolver) DefineTopLevel(name string) *Binding {
	b := &Binding{SurfaceName: name, MangledName: Mangle(name), Kind: TopLevel, IntroducingScope: r.root.ID}
	r.root.Define(b)
	return b
}

// EnterScope opens a fresh child scope, used for let/let*/lambda bodies.
func (r *Resolver) EnterScope(parent *Scope) *Scope {
	return newScope(r.freshScopeID(), parent)
}

// DefineLocal installs a parameter or let-bound local in scope s.
func (r *Resolver) DefineLocal(s *Scope, name string, kind BindingKind) *Binding {
	mangled := fmt.Sprintf("%s_%d", Mangle(name), s.ID)
	b := &Binding{SurfaceName: name, MangledName: mangled, Kind: kind, IntroducingScope: s.ID}
	s.Define(b)
	return b
}

// Resolve walks an expression in scope s, appending an "unbound
// identifier" error to r.Errors for each identifier it cannot find.
// It does not mutate the AST and records no binding for the
// identifiers it does find.
func (r *Resolver) Resolve(expr *ast.Value, s *Scope) {
	if expr == nil || ast.IsNil(expr) {
		return
	}
	switch expr.Tag {
	case ast.TSym:
		if s.Lookup(expr.Str) == nil {
			r.Errors = append(r.Errors, fmt.Errorf("unbound identifier: %s", expr.Str))
		}
	case ast.TCell:
		if ast.IsSym(expr.Car) {
			switch expr.Car.Str {
			case "quote":
				return
			case "if", "do", "begin":
				for _, a := range ast.ListToSlice(expr.Cdr) {
					r.Resolve(a, s)
				}
				return
			case "let", "let*":
				r.resolveLet(expr, s)
				return
			case "lambda", "fn":
				r.resolveLambda(expr, s)
				return
			case "define":
				r.resolveDefine(expr, s)
				return
			case "deftype":
				return
			case "set!":
				args := ast.ListToSlice(expr.Cdr)
				if len(args) == 2 {
					if s.Lookup(args[0].Str) == nil {
						r.Errors = append(r.Errors, fmt.Errorf("unbound identifier: %s", args[0].Str))
					}
					r.Resolve(args[1], s)
				}
				return
			}
		}
		for _, a := range ast.ListToSlice(expr) {
			r.Resolve(a, s)
		}
	}
}

func (r *Resolver) resolveLet(expr *ast.Value, s *Scope) {
	args := ast.ListToSlice(expr.Cdr)
	if len(args) < 2 {
		return
	}
	bindings := ast.ListToSlice(args[0])
	body := args[1:]
	inner := r.EnterScope(s)
	evalScope := s
	if ast.SymEqStr(expr.Car, "let*") {
		evalScope = inner
	}
	for _, bind := range bindings {
		pair := ast.ListToSlice(bind)
		if len(pair) != 2 {
			continue
		}
		r.Resolve(pair[1], evalScope)
		r.DefineLocal(inner, pair[0].Str, Local)
	}
	for _, b := range body {
		r.Resolve(b, inner)
	}
}

func (r *Resolver) resolveLambda(expr *ast.Value, s *Scope) {
	args := ast.ListToSlice(expr.Cdr)
	if len(args) < 2 {
		return
	}
	params := args[0]
	body := ast.SliceToList(args[1:])
	inner := r.EnterScope(s)
	for _, p := range ast.ListToSlice(params) {
		r.DefineLocal(inner, p.Str, Parameter)
	}
	r.Resolve(body, inner)
	r.Lifted = append(r.Lifted, &LiftedFunc{
		Name:   fmt.Sprintf("_lambda%d", len(r.Lifted)),
		Params: params,
		Body:   body,
		Scope:  inner,
	})
}

func (r *Resolver) resolveDefine(expr *ast.Value, s *Scope) {
	args := ast.ListToSlice(expr.Cdr)
	if len(args) < 2 {
		return
	}
	if ast.IsCell(args[0]) {
		// (define (f p...) body...)
		nameSym := args[0].Car
		r.DefineTopLevel(nameSym.Str)
		inner := r.EnterScope(s)
		for _, p := range ast.ListToSlice(args[0].Cdr) {
			r.DefineLocal(inner, p.Str, Parameter)
		}
		for _, b := range args[1:] {
			r.Resolve(b, inner)
		}
		return
	}
	r.DefineTopLevel(args[0].Str)
	r.Resolve(args[1], s)
}

// RootScope exposes the resolver's top-level scope.
func (r *Resolver) RootScope() *Scope { return r.root }

var primitiveNames = []string{
	"+", "-", "*", "/", "=", "<", ">", "<=", ">=",
	"cons", "car", "cdr", "list", "null?", "pair?",
	"display", "print", "newline",
	"map", "filter", "fold", "length", "append", "reverse",
	"box", "unbox", "set-box!",
	"make-chan", "chan-send!", "chan-recv!", "chan-close!",
	"error", "not", "eq?",
}

func seedPrimitives(root *Scope) {
	for _, name := range primitiveNames {
		root.Define(&Binding{
			SurfaceName:      name,
			MangledName:      MangledPrimitiveName(name),
			Kind:             Primitive,
			IntroducingScope: root.ID,
		})
	}
}

// MangledPrimitiveName computes the C runtime entry point for a
// primitive surface name, sharing Mangle's substitution table but using
// the "p_" prefix reserved for the runtime's primitive table instead of
// "o_" (reserved for compiled user definitions).
func MangledPrimitiveName(name string) string {
	return "p_" + Mangle(name)[2:]
}

// IsPrimitive reports whether name is one of the seeded primitives.
func IsPrimitive(name string) bool {
	for _, p := range primitiveNames {
		if p == name {
			return true
		}
	}
	return false
}
