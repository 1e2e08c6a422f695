package codegen

import (
	"fmt"
	"io"
	"strings"

	"lumenc/pkg/analysis"
	"lumenc/pkg/ast"
)

// CodeGenerator generates C99 code from AST
type CodeGenerator struct {
	w                io.Writer
	registry         *TypeRegistry
	escapeCtx        *analysis.AnalysisContext
	shapeCtx         *analysis.ShapeContext
	rcOptCtx         *analysis.RCOptContext         // RC optimization context
	summaryCtx       *analysis.SummaryAnalyzer      // Interprocedural analysis
	concurrencyCtx   *analysis.ConcurrencyAnalyzer  // Concurrency ownership
	reuseCtx         *analysis.ReuseAnalyzer        // Perceus reuse analysis
	livenessCtx      *analysis.LivenessContext      // Liveness analysis for early frees
	ownershipCtx     *analysis.OwnershipContext     // Ownership-driven memory management
	regionCtx        *analysis.RegionAnalyzer       // Region-based memory management
	purityCtx        *analysis.PurityContext        // Purity analysis for zero-cost access (Vale-style)
	arenaGen         *ArenaCodeGenerator
	stats            *OptimizationStats             // Optimization statistics
	tempCounter      int
	indentLevel      int
	useArenaFallback bool
	enableRCOpt      bool   // Enable RC optimization (Lobster-style)
	enableRegions    bool   // Enable region-based allocation
	enableBorrowRef     bool   // Enable GenRef for borrowed references (O(1) use-after-free detection)
	enablePurity     bool   // Enable purity analysis for zero-cost access in pure contexts
	enableTethering  bool   // Enable scope tethering for repeated accesses
	borrowRefBindings   map[string]bool // Variables that use GenRef instead of RC
	tetheredVars     map[string]bool // Variables that are tethered in current scope
}

// NewCodeGenerator creates a new code generator
func NewCodeGenerator(w io.Writer) *CodeGenerator {
	registry := NewTypeRegistry()
	registry.InitDefaultTypes()
	return &CodeGenerator{
		w:                w,
		registry:         registry,
		escapeCtx:        analysis.NewAnalysisContext(),
		shapeCtx:         analysis.NewShapeContext(),
		rcOptCtx:         analysis.NewRCOptContext(),
		summaryCtx:       analysis.NewSummaryAnalyzer(),
		concurrencyCtx:   analysis.NewConcurrencyAnalyzer(),
		reuseCtx:         analysis.NewReuseAnalyzer(),
		livenessCtx:      analysis.NewLivenessContext(),
		ownershipCtx:     analysis.NewOwnershipContext(registry),
		regionCtx:        analysis.NewRegionAnalyzer(),
		purityCtx:        analysis.NewPurityContext(),
		arenaGen:         NewArenaCodeGenerator(),
		stats:            NewOptimizationStats(),
		useArenaFallback: false, // Arena is opt-in; default to non-arena strategies
		enableRCOpt:      true,  // Enable Lobster-style RC optimization
		enableRegions:    false, // Region allocation is opt-in
		enableBorrowRef:     true,  // Enable GenRef for borrowed references
		enablePurity:     true,  // Enable purity analysis for zero-cost access
		enableTethering:  true,  // Enable scope tethering for repeated accesses
		borrowRefBindings:   make(map[string]bool),
		tetheredVars:     make(map[string]bool),
	}
}

// NewCodeGeneratorWithGlobalRegistry creates a code generator using the global type registry
// This allows access to user-defined types from deftype declarations
func NewCodeGeneratorWithGlobalRegistry(w io.Writer) *CodeGenerator {
	registry := GlobalRegistry()
	return &CodeGenerator{
		w:                w,
		registry:         registry,
		escapeCtx:        analysis.NewAnalysisContext(),
		shapeCtx:         analysis.NewShapeContext(),
		rcOptCtx:         analysis.NewRCOptContext(),
		summaryCtx:       analysis.NewSummaryAnalyzer(),
		concurrencyCtx:   analysis.NewConcurrencyAnalyzer(),
		reuseCtx:         analysis.NewReuseAnalyzer(),
		livenessCtx:      analysis.NewLivenessContext(),
		ownershipCtx:     analysis.NewOwnershipContext(registry),
		regionCtx:        analysis.NewRegionAnalyzer(),
		purityCtx:        analysis.NewPurityContext(),
		arenaGen:         NewArenaCodeGenerator(),
		stats:            NewOptimizationStats(),
		useArenaFallback: false,
		enableRCOpt:      true,
		enableRegions:    false,
		enableBorrowRef:     true,
		enablePurity:     true,
		enableTethering:  true,
		borrowRefBindings:   make(map[string]bool),
		tetheredVars:     make(map[string]bool),
	}
}

// GetCycleStatusForType returns the cycle status for a user-defined type
// Uses TypeRegistry's analysis for cycle detection with weak edge breaking
func (g *CodeGenerator) GetCycleStatusForType(typeName string) CycleStatus {
	if g.registry == nil {
		return CycleStatusNone
	}
	return g.registry.GetCycleStatus(typeName)
}

// ShouldUseArenaForType returns true if arena allocation should be used for a type
// based on its cycle status (unbroken cycles require arena or SCC)
func (g *CodeGenerator) ShouldUseArenaForType(typeName string) bool {
	status := g.GetCycleStatusForType(typeName)
	return status == CycleStatusUnbroken
}

// SetRCOptimization enables or disables RC optimization
func (g *CodeGenerator) SetRCOptimization(enabled bool) {
	g.enableRCOpt = enabled
}

// SetArenaFallback enables or disables arena fallback for cyclic shapes
func (g *CodeGenerator) SetArenaFallback(enabled bool) {
	g.useArenaFallback = enabled
}

// SetBorrowRefEnabled enables or disables GenRef for borrowed references
func (g *CodeGenerator) SetBorrowRefEnabled(enabled bool) {
	g.enableBorrowRef = enabled
}

// MarkAsBorrowRef marks a variable as using GenRef instead of RC
func (g *CodeGenerator) MarkAsBorrowRef(varName string) {
	if g.borrowRefBindings == nil {
		g.borrowRefBindings = make(map[string]bool)
	}
	g.borrowRefBindings[varName] = true
}

// IsBorrowRef returns true if the variable uses GenRef
func (g *CodeGenerator) IsBorrowRef(varName string) bool {
	if g.borrowRefBindings == nil {
		return false
	}
	return g.borrowRefBindings[varName]
}

// BorrowRefVarName returns the GenRef variable name for a borrowed variable
func (g *CodeGenerator) BorrowRefVarName(varName string) string {
	return fmt.Sprintf("_ref_%s", varName)
}

// SetPurityEnabled enables or disables purity analysis
func (g *CodeGenerator) SetPurityEnabled(enabled bool) {
	g.enablePurity = enabled
}

// SetTetheringEnabled enables or disables scope tethering
func (g *CodeGenerator) SetTetheringEnabled(enabled bool) {
	g.enableTethering = enabled
}

// IsPureContext returns true if we're currently in a pure context
func (g *CodeGenerator) IsPureContext() bool {
	if !g.enablePurity || g.purityCtx == nil {
		return false
	}
	return g.purityCtx.IsPureContext()
}

// CanSkipSafetyChecks returns true if safety checks can be skipped for a variable
// This is the case in pure contexts where the variable is read-only
func (g *CodeGenerator) CanSkipSafetyChecks(varName string) bool {
	if !g.enablePurity || g.purityCtx == nil {
		return false
	}
	return g.purityCtx.CanSkipSafetyChecks(varName)
}

// IsTethered returns true if the variable is currently tethered
func (g *CodeGenerator) IsTethered(varName string) bool {
	if !g.enableTethering || g.tetheredVars == nil {
		return false
	}
	return g.tetheredVars[varName]
}

// TetherVar marks a variable as tethered in the current scope
func (g *CodeGenerator) TetherVar(varName string) {
	if g.tetheredVars == nil {
		g.tetheredVars = make(map[string]bool)
	}
	g.tetheredVars[varName] = true
}

// UntetherVar removes the tethered status of a variable
func (g *CodeGenerator) UntetherVar(varName string) {
	if g.tetheredVars != nil {
		delete(g.tetheredVars, varName)
	}
}

// ShouldUseTethering returns true if tethering should be used for a borrowed reference
// Tethering is beneficial when a reference is accessed multiple times in a scope
func (g *CodeGenerator) ShouldUseTethering(varName string, accessCount int) bool {
	if !g.enableTethering {
		return false
	}
	// Tethering is beneficial for multiple accesses (amortizes tether/untether cost)
	return accessCount > 1
}

// GenerateTetheredAccess generates code for accessing a tethered variable
// If the variable is tethered, generation checks are skipped
func (g *CodeGenerator) GenerateTetheredAccess(varName string) string {
	if g.IsTethered(varName) {
		// Fast path: variable is tethered, skip generation check
		return varName
	}
	if g.CanSkipSafetyChecks(varName) {
		// Pure context: zero-cost access
		return varName
	}
	// Normal access with safety checks
	return varName
}

// GetStats returns the optimization statistics
func (g *CodeGenerator) GetStats() *OptimizationStats {
	return g.stats
}

// GetStatsSummary returns a one-line summary of optimization statistics
func (g *CodeGenerator) GetStatsSummary() string {
	if g.stats == nil {
		return "No statistics available"
	}
	return g.stats.Summary()
}

// GetStatsReport returns a full statistics report
func (g *CodeGenerator) GetStatsReport() string {
	if g.stats == nil {
		return "No statistics available"
	}
	return g.stats.String()
}

// AnalyzeFunction registers a function's summary for interprocedural analysis
func (g *CodeGenerator) AnalyzeFunction(name string, params *ast.Value, body *ast.Value) *analysis.FunctionSummary {
	if g.summaryCtx == nil {
		return nil
	}
	return g.summaryCtx.AnalyzeFunction(name, params, body)
}

// GetParamOwnership returns the ownership class for a function parameter at a call site
func (g *CodeGenerator) GetParamOwnership(funcName string, paramIdx int) analysis.OwnershipClass {
	if g.summaryCtx == nil || g.summaryCtx.Registry == nil {
		return analysis.OwnerBorrowed
	}
	return g.summaryCtx.Registry.GetParamOwnership(funcName, paramIdx)
}

// GetReturnOwnership returns the ownership class for a function's return value
func (g *CodeGenerator) GetReturnOwnership(funcName string) analysis.OwnershipClass {
	if g.summaryCtx == nil || g.summaryCtx.Registry == nil {
		return analysis.OwnerFresh
	}
	return g.summaryCtx.Registry.GetReturnOwnership(funcName)
}

// AnalyzeConcurrency performs concurrency analysis on an expression
func (g *CodeGenerator) AnalyzeConcurrency(expr *ast.Value) {
	if g.concurrencyCtx != nil {
		g.concurrencyCtx.Analyze(expr)
	}
}

// NeedsAtomicRC returns true if a variable needs atomic reference counting
func (g *CodeGenerator) NeedsAtomicRC(varName string) bool {
	if g.concurrencyCtx == nil {
		return false
	}
	return g.concurrencyCtx.Ctx.NeedsAtomicRC(varName)
}

// IsTransferred returns true if a variable's ownership has been transferred (e.g., via chan-send!)
func (g *CodeGenerator) IsTransferred(varName string) bool {
	if g.concurrencyCtx == nil {
		return false
	}
	return g.concurrencyCtx.Ctx.GetLocality(varName) == analysis.LocalityTransferred
}

// AnalyzeReuse performs reuse analysis on an expression
func (g *CodeGenerator) AnalyzeReuse(expr *ast.Value) {
	if g.reuseCtx != nil {
		g.reuseCtx.Analyze(expr)
	}
}

// TryReuse attempts to find a reuse candidate for an allocation
func (g *CodeGenerator) TryReuse(allocVar, allocType string, line int) *analysis.ReuseCandidate {
	if g.reuseCtx == nil {
		return nil
	}
	return g.reuseCtx.Ctx.TryReuse(allocVar, allocType, line)
}

// GetReuseFor returns the variable that can be reused for an allocation, if any
func (g *CodeGenerator) GetReuseFor(allocVar string) (string, bool) {
	if g.reuseCtx == nil {
		return "", false
	}
	return g.reuseCtx.Ctx.GetReuse(allocVar)
}

// AddPendingFree marks a variable as pending for free (available for reuse)
func (g *CodeGenerator) AddPendingFree(name, typeName string) {
	if g.reuseCtx != nil {
		g.reuseCtx.Ctx.AddPendingFree(name, typeName)
	}
}

// GenerateRCOperation generates the appropriate reference count operation
// Uses atomic operations for shared variables, regular operations otherwise
// Checks RC optimization context to elide unnecessary operations
func (g *CodeGenerator) GenerateRCOperation(varName string, op string) string {
	// Check if we can elide this operation entirely (Lobster-style optimization)
	if g.enableRCOpt && g.rcOptCtx != nil {
		switch op {
		case "inc":
			if !g.rcOptCtx.ShouldEmitIncRef(varName) {
				return fmt.Sprintf("/* inc_ref(%s) elided - %s */", varName,
					g.rcOptCtx.GetElisionReason(varName, "inc"))
			}
		case "dec":
			if !g.rcOptCtx.ShouldEmitDecRef(varName) {
				return fmt.Sprintf("/* dec_ref(%s) elided - %s */", varName,
					g.rcOptCtx.GetElisionReason(varName, "dec"))
			}
			// Check if we can use free_unique instead of dec_ref
			opt := g.rcOptCtx.GetOptimizedDecRef(varName)
			if opt == analysis.RCOptDirectFree {
				return fmt.Sprintf("free_unique(%s)", varName)
			}
		}
	}

	if g.NeedsAtomicRC(varName) {
		switch op {
		case "inc":
			return fmt.Sprintf("atomic_inc_ref(%s)", varName)
		case "dec":
			return fmt.Sprintf("atomic_dec_ref(%s)", varName)
		}
	}
	switch op {
	case "inc":
		return fmt.Sprintf("inc_ref(%s)", varName)
	case "dec":
		return fmt.Sprintf("dec_ref(%s)", varName)
	}
	return ""
}

// GenerateAllocation generates an allocation, potentially reusing freed memory
func (g *CodeGenerator) GenerateAllocation(varName, allocType string, allocExpr string) string {
	if freeVar, ok := g.GetReuseFor(varName); ok {
		// Reuse available
		return fmt.Sprintf("reuse_as_%s(%s, %s)", allocType, freeVar, allocExpr)
	}
	return allocExpr
}

func (g *CodeGenerator) inferType(val *ast.Value) string {
	if val == nil || ast.IsNil(val) {
		return "Obj"
	}
	switch val.Tag {
	case ast.TInt:
		return "int"
	case ast.TFloat:
		return "float"
	case ast.TChar:
		return "char"
	case ast.TCell:
		if ast.IsSym(val.Car) {
			switch val.Car.Str {
			case "cons", "list":
				return "pair"
			case "box":
				return "box"
			case "lambda":
				return "closure"
			}
			if len(val.Car.Str) > 3 && val.Car.Str[:3] == "mk-" {
				return "Obj"
			}
		}
	}
	return "Obj"
}

func (g *CodeGenerator) generateReuseExpr(candidate *analysis.ReuseCandidate, initExpr *ast.Value, fallback string) (string, bool) {
	switch candidate.AllocType {
	case "int":
		if ast.IsInt(initExpr) {
			return fmt.Sprintf("reuse_as_int(%s, %d)", candidate.FreeVar, initExpr.Int), true
		}
	case "pair":
		if ast.IsCell(initExpr) && ast.IsSym(initExpr.Car) && initExpr.Car.Str == "cons" {
			aExpr := g.ValueToCExpr(initExpr.Cdr.Car)
			bExpr := g.ValueToCExpr(initExpr.Cdr.Cdr.Car)
			return fmt.Sprintf("reuse_as_pair(%s, %s, %s)", candidate.FreeVar, aExpr, bExpr), true
		}
	case "box":
		if ast.IsCell(initExpr) && ast.IsSym(initExpr.Car) && initExpr.Car.Str == "box" {
			valExpr := g.ValueToCExpr(initExpr.Cdr.Car)
			return fmt.Sprintf("reuse_as_box(%s, %s)", candidate.FreeVar, valExpr), true
		}
	}
	return fallback, false
}

func (g *CodeGenerator) emit(format string, args ...interface{}) {
	fmt.Fprintf(g.w, format, args...)
}

func (g *CodeGenerator) indent() string {
	return strings.Repeat("    ", g.indentLevel)
}

func (g *CodeGenerator) newTemp() string {
	g.tempCounter++
	return fmt.Sprintf("_t%d", g.tempCounter)
}

// ValueToCExpr renders a small literal or already-lowered variable
// reference directly as a C expression. It does not handle general
// calls or control flow — pkg/cfg lowers those into statements first,
// and Driver.renderExpr/renderQuoted do the full job there. This
// narrower form exists for call sites (reuse-candidate rendering,
// region let bindings) that only ever hand it a constant or a bound
// name.
func (g *CodeGenerator) ValueToCExpr(v *ast.Value) string {
	if v == nil || ast.IsNil(v) {
		return "NULL"
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
		return v.Str
	case ast.TCell:
		if ast.IsSym(v.Car) && v.Car.Str == "cons" {
			args := ast.ListToSlice(v.Cdr)
			if len(args) == 2 {
				return fmt.Sprintf("mk_pair(%s, %s)", g.ValueToCExpr(args[0]), g.ValueToCExpr(args[1]))
			}
		}
		if ast.IsSym(v.Car) && v.Car.Str == "box" {
			args := ast.ListToSlice(v.Cdr)
			if len(args) == 1 {
				return fmt.Sprintf("mk_box(%s)", g.ValueToCExpr(args[0]))
			}
		}
		return fmt.Sprintf("mk_cons(%s, %s)", g.ValueToCExpr(v.Car), g.ValueToCExpr(v.Cdr))
	}
	return "NULL"
}

