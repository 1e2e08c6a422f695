package codegen

import "sync"

// FieldStrength classifies a deftype field:
// Strong fields are followed by a generated release function and
// inc_ref'd by constructors; Weak fields are back-edges, nulled out by
// weak_nullify instead of counted.
type FieldStrength int

const (
	FieldStrong FieldStrength = iota
	FieldWeak
)

// TypeField is one field of a deftype declaration.
type TypeField struct {
	Name        string
	Type        string // the surface type name, or a primitive C type name
	IsScannable bool   // true if Type points at another heap-allocated type
	Strength    FieldStrength
}

// TypeDef is a resolved deftype declaration: its fields in declaration
// order, whether it is recursive, and the computed cycle status used to
// pick between free_tree, dec_ref, scc_release, and sym_exit_scope.
type TypeDef struct {
	Name        string
	Fields      []TypeField
	IsRecursive bool
	cycleStatus CycleStatus
}

// CycleStatus classifies whether a recursive type's cycles are broken
// by weak edges, matching the strategy selector's Cyclic row:
// "broken by weak edges" picks RC, "unbroken" picks SCC/symmetric.
type CycleStatus int

const (
	CycleStatusNone CycleStatus = iota
	CycleStatusBroken
	CycleStatusUnbroken
)

// TypeRegistry holds every deftype declaration seen in a compilation
// unit. RegisterType applies the back-edge name and second-self-pointer
// heuristics at registration time; AnalyzeBackEdges recomputes each
// type's cycle status once every type in the unit is known. No pass
// marks a field weak to break a cycle that runs through several types.
type TypeRegistry struct {
	mu    sync.Mutex
	Types map[string]*TypeDef
	order []string
	cfg   backEdgeNamer
}

// BackEdgeNamer isolates the registry from pkg/config's concrete type so
// codegen doesn't import config just to resolve the naming list;
// *config.Config satisfies this directly via its own IsBackEdgeName.
type BackEdgeNamer interface {
	IsBackEdgeName(fieldName string) bool
}

type backEdgeNamer = BackEdgeNamer

type defaultBackEdgeNamer struct{}

func (defaultBackEdgeNamer) IsBackEdgeName(name string) bool {
	switch name {
	case "prev", "parent", "owner", "up", "back":
		return true
	}
	return false
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{Types: make(map[string]*TypeDef), cfg: defaultBackEdgeNamer{}}
}

// NewTypeRegistryWithNamer lets the driver supply the project's
// configured back-edge name list (pkg/config.Config.BackEdgeNames)
// instead of the built-in default.
func NewTypeRegistryWithNamer(namer BackEdgeNamer) *TypeRegistry {
	return &TypeRegistry{Types: make(map[string]*TypeDef), cfg: namer}
}

var globalRegistry = NewTypeRegistry()

// GlobalRegistry returns the process-wide registry used when a driver
// mode has no explicit per-unit registry (REPL / -e evaluation).
func GlobalRegistry() *TypeRegistry {
	return globalRegistry
}

// SetGlobalRegistry replaces the process-wide registry, letting main
// reinitialize it with a project's configured back-edge namer once
// lumenc.yaml has been loaded.
func SetGlobalRegistry(r *TypeRegistry) {
	globalRegistry = r
}

// InitDefaultTypes seeds the registry with the built-in pair/box shapes
// so codegen can look up their field strength without special-casing
// them against user deftypes.
func (r *TypeRegistry) InitDefaultTypes() {
	r.RegisterType("pair", []TypeField{
		{Name: "car", Type: "Obj", IsScannable: true, Strength: FieldStrong},
		{Name: "cdr", Type: "Obj", IsScannable: true, Strength: FieldStrong},
	})
	r.RegisterType("box", []TypeField{
		{Name: "value", Type: "Obj", IsScannable: true, Strength: FieldStrong},
	})
}

// RegisterType records a deftype declaration, marking weak every
// scannable field whose name is on the configured back-edge list and
// every self-typed field that follows an earlier self-typed field (the
// second-self-pointer heuristic). Field strengths set here are not
// changed by AnalyzeBackEdges.
func (r *TypeRegistry) RegisterType(name string, fields []TypeField) *TypeDef {
	r.mu.Lock()
	defer r.mu.Unlock()

	td := &TypeDef{Name: name}
	seenSelfType := false
	for _, f := range fields {
		strength := f.Strength
		if strength == FieldStrong && f.IsScannable {
			if r.cfg.IsBackEdgeName(f.Name) {
				strength = FieldWeak
			} else if f.Type == name {
				if seenSelfType {
					strength = FieldWeak
				}
				seenSelfType = true
			}
		}
		td.Fields = append(td.Fields, TypeField{Name: f.Name, Type: f.Type, IsScannable: f.IsScannable, Strength: strength})
		if f.IsScannable && f.Type == name {
			td.IsRecursive = true
		}
	}
	td.cycleStatus = computeCycleStatus(td)
	if _, exists := r.Types[name]; !exists {
		r.order = append(r.order, name)
	}
	r.Types[name] = td
	return td
}

// BuildOwnershipGraph is a no-op placeholder for the multi-type graph
// pass; single-type registration already applies the heuristic a field
// at a time, so there is nothing further to compute unless a future
// pass adds cross-type cycle detection (deftype A referencing B
// referencing A).
func (r *TypeRegistry) BuildOwnershipGraph() {}

// AnalyzeBackEdges re-derives each type's cycle status after every
// deftype in the unit has been registered. The status looks only at a
// type's own self-typed fields: recursion that runs through another
// type (A referencing B referencing A) is not detected, and such a type
// keeps CycleStatusNone.
func (r *TypeRegistry) AnalyzeBackEdges() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, td := range r.Types {
		td.cycleStatus = computeCycleStatus(td)
	}
}

func computeCycleStatus(td *TypeDef) CycleStatus {
	if !td.IsRecursive {
		return CycleStatusNone
	}
	for _, f := range td.Fields {
		if f.IsScannable && f.Type == td.Name && f.Strength == FieldWeak {
			return CycleStatusBroken
		}
	}
	return CycleStatusUnbroken
}

// MarkFieldWeak applies a user annotation,
// overriding the heuristic result for one field.
func (r *TypeRegistry) MarkFieldWeak(typeName, fieldName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	td := r.Types[typeName]
	if td == nil {
		return
	}
	for i := range td.Fields {
		if td.Fields[i].Name == fieldName {
			td.Fields[i].Strength = FieldWeak
		}
	}
	td.cycleStatus = computeCycleStatus(td)
}

// IsFieldWeak implements analysis.FieldStrengthLookup, so OwnershipContext
// can consult the registry without importing the codegen package.
func (r *TypeRegistry) IsFieldWeak(typeName, fieldName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	td := r.Types[typeName]
	if td == nil {
		return false
	}
	for _, f := range td.Fields {
		if f.Name == fieldName {
			return f.Strength == FieldWeak
		}
	}
	return false
}

// GetCycleStatus returns the computed cycle status for a registered
// type, or CycleStatusNone if unregistered.
func (r *TypeRegistry) GetCycleStatus(typeName string) CycleStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	td := r.Types[typeName]
	if td == nil {
		return CycleStatusNone
	}
	return td.cycleStatus
}

// FindType returns the TypeDef for name, or nil.
func (r *TypeRegistry) FindType(name string) *TypeDef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Types[name]
}

// GetUserDefinedTypes returns every registered type except the built-in
// pair/box shapes, in registration order, so generated forward
// declarations and struct definitions are stable across runs.
func (r *TypeRegistry) GetUserDefinedTypes() []*TypeDef {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*TypeDef
	for _, name := range r.order {
		if name == "pair" || name == "box" {
			continue
		}
		out = append(out, r.Types[name])
	}
	return out
}

// StrongFields returns the Strong-strength fields of a type, in
// declaration order — the set a generated release_<Type> recurses into.
func (td *TypeDef) StrongFields() []TypeField {
	var out []TypeField
	for _, f := range td.Fields {
		if f.Strength == FieldStrong {
			out = append(out, f)
		}
	}
	return out
}

// WeakFields returns the Weak-strength fields of a type, in declaration
// order — the set a generated release_<Type> calls weak_nullify for.
func (td *TypeDef) WeakFields() []TypeField {
	var out []TypeField
	for _, f := range td.Fields {
		if f.Strength == FieldWeak {
			out = append(out, f)
		}
	}
	return out
}

// ArenaCodeGenerator names fresh bulk-teardown arena variables for the
// fallback path used when a type's cycle status is Unbroken and the
// driver opts into arena over symmetric RC for that type.
type ArenaCodeGenerator struct {
	nextArenaID int
}

func NewArenaCodeGenerator() *ArenaCodeGenerator {
	return &ArenaCodeGenerator{}
}

// NewArenaName returns a fresh arena variable name for a cyclic type's
// bulk-teardown region.
func (a *ArenaCodeGenerator) NewArenaName() string {
	a.nextArenaID++
	return "_arena" + itoa(a.nextArenaID)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// DetectWeakEdges reports every field across the registry's
// user-defined types that was classified Weak, for diagnostics.
func DetectWeakEdges(r *TypeRegistry) []WeakEdge {
	var out []WeakEdge
	for _, td := range r.GetUserDefinedTypes() {
		for _, f := range td.WeakFields() {
			out = append(out, WeakEdge{TypeName: td.Name, FieldName: f.Name})
		}
	}
	return out
}

// WeakEdge is one auto-detected or user-annotated back-edge.
type WeakEdge struct {
	TypeName  string
	FieldName string
}

// GenerateWeakEdgeComment renders a C comment block listing the
// detected back-edges, emitted above the generated struct definitions
// so a reader of the C output can see why a field was not reference
// counted.
func GenerateWeakEdgeComment(edges []WeakEdge) string {
	if len(edges) == 0 {
		return "/* no weak (back-edge) fields detected */\n"
	}
	s := "/* Weak (back-edge) fields:\n"
	for _, e := range edges {
		s += " *   " + e.TypeName + "." + e.FieldName + "\n"
	}
	s += " */\n"
	return s
}
