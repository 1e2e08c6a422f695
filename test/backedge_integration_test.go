package test

import (
	"strings"
	"testing"

	"lumenc/pkg/codegen"
)

// TestBackEdgeIntegration tests the complete back-edge detection and codegen pipeline
func TestBackEdgeIntegration(t *testing.T) {
	tests := []struct {
		name           string
		typeName       string
		fields         []codegen.TypeField
		expectedWeak   []string // fields that should be weak
		expectedStrong []string // fields that should be strong
	}{
		{
			name:     "DoublyLinkedList",
			typeName: "DLNode",
			fields: []codegen.TypeField{
				{Name: "value", Type: "int"},
				{Name: "next", Type: "DLNode", IsScannable: true, Strength: codegen.FieldStrong},
				{Name: "prev", Type: "DLNode", IsScannable: true, Strength: codegen.FieldStrong},
			},
			expectedWeak:   []string{"prev"},
			expectedStrong: []string{"next"},
		},
		{
			name:     "TreeWithParent",
			typeName: "TreeNode",
			fields: []codegen.TypeField{
				{Name: "value", Type: "int"},
				{Name: "left", Type: "TreeNode", IsScannable: true, Strength: codegen.FieldStrong},
				{Name: "right", Type: "TreeNode", IsScannable: true, Strength: codegen.FieldStrong},
				{Name: "parent", Type: "TreeNode", IsScannable: true, Strength: codegen.FieldStrong},
			},
			// "right" follows another TreeNode field, so the
			// second-self-pointer rule marks it weak.
			expectedWeak:   []string{"right", "parent"},
			expectedStrong: []string{"left"},
		},
		{
			name:     "GraphNode",
			typeName: "GNode",
			fields: []codegen.TypeField{
				{Name: "value", Type: "int"},
				{Name: "primary", Type: "GNode", IsScannable: true, Strength: codegen.FieldStrong},
				{Name: "secondary", Type: "GNode", IsScannable: true, Strength: codegen.FieldStrong},
				{Name: "backref", Type: "GNode", IsScannable: true, Strength: codegen.FieldStrong},
			},
			// "backref" is not on the back-edge name list; "secondary" and
			// "backref" are weak as self-pointers after "primary"
			expectedWeak:   []string{"secondary", "backref"},
			expectedStrong: []string{"primary"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			registry := codegen.NewTypeRegistry()
			registry.RegisterType(tc.typeName, tc.fields)
			registry.BuildOwnershipGraph()
			registry.AnalyzeBackEdges()

			typeDef := registry.FindType(tc.typeName)
			if typeDef == nil {
				t.Fatalf("Type %s not found in registry", tc.typeName)
			}

			for _, fieldName := range tc.expectedWeak {
				if !registry.IsFieldWeak(tc.typeName, fieldName) {
					t.Errorf("Field %s.%s should be weak", tc.typeName, fieldName)
				}
			}
			for _, fieldName := range tc.expectedStrong {
				if registry.IsFieldWeak(tc.typeName, fieldName) {
					t.Errorf("Field %s.%s should be strong", tc.typeName, fieldName)
				}
			}

			runtime := codegen.GenerateRuntime(registry)

			releaseFn := "void release_" + tc.typeName
			if !strings.Contains(runtime, releaseFn) {
				t.Errorf("Missing release function: %s", releaseFn)
			}

			for _, fieldName := range tc.expectedWeak {
				skipComment := "x->" + fieldName + ": weak back-edge"
				if !strings.Contains(runtime, skipComment) {
					t.Errorf("Release function should skip weak field %s", fieldName)
				}
			}
			for _, fieldName := range tc.expectedStrong {
				decRefCall := "dec_ref(x->" + fieldName + ")"
				if !strings.Contains(runtime, decRefCall) {
					t.Errorf("Release function should dec_ref strong field %s", fieldName)
				}
			}
		})
	}
}

// TestBackEdgeCycleStatus tests that cycle detection works correctly
func TestBackEdgeCycleStatus(t *testing.T) {
	tests := []struct {
		name           string
		typeName       string
		fields         []codegen.TypeField
		expectedStatus codegen.CycleStatus
	}{
		{
			name:     "NonRecursiveType",
			typeName: "Simple",
			fields: []codegen.TypeField{
				{Name: "value", Type: "int"},
				{Name: "data", Type: "int"},
			},
			expectedStatus: codegen.CycleStatusNone,
		},
		{
			name:     "BrokenCycleByNaming",
			typeName: "LinkedNode",
			fields: []codegen.TypeField{
				{Name: "value", Type: "int"},
				{Name: "next", Type: "LinkedNode", IsScannable: true, Strength: codegen.FieldStrong},
				{Name: "prev", Type: "LinkedNode", IsScannable: true, Strength: codegen.FieldStrong},
			},
			expectedStatus: codegen.CycleStatusBroken,
		},
		{
			name:     "SelfReferentialWithHint",
			typeName: "Child",
			fields: []codegen.TypeField{
				{Name: "value", Type: "int"},
				{Name: "parent", Type: "Child", IsScannable: true, Strength: codegen.FieldStrong},
			},
			expectedStatus: codegen.CycleStatusBroken, // "parent" hint breaks cycle
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			registry := codegen.NewTypeRegistry()
			registry.RegisterType(tc.typeName, tc.fields)
			registry.BuildOwnershipGraph()
			registry.AnalyzeBackEdges()

			status := registry.GetCycleStatus(tc.typeName)
			if status != tc.expectedStatus {
				t.Errorf("Expected cycle status %d, got %d", tc.expectedStatus, status)
			}
		})
	}
}

// TestBackEdgeRuntimeGeneration tests the complete runtime output
func TestBackEdgeRuntimeGeneration(t *testing.T) {
	registry := codegen.NewTypeRegistry()
	registry.RegisterType("Container", []codegen.TypeField{
		{Name: "items", Type: "ItemList", IsScannable: true, Strength: codegen.FieldStrong},
		{Name: "owner", Type: "Container", IsScannable: true, Strength: codegen.FieldStrong},
	})
	registry.RegisterType("ItemList", []codegen.TypeField{
		{Name: "head", Type: "Item", IsScannable: true, Strength: codegen.FieldStrong},
		{Name: "tail", Type: "ItemList", IsScannable: true, Strength: codegen.FieldStrong},
	})
	registry.RegisterType("Item", []codegen.TypeField{
		{Name: "value", Type: "int"},
		{Name: "container", Type: "Container", IsScannable: true, Strength: codegen.FieldStrong},
		{Name: "prev", Type: "Item", IsScannable: true, Strength: codegen.FieldStrong},
	})
	registry.BuildOwnershipGraph()
	registry.AnalyzeBackEdges()

	runtime := codegen.GenerateRuntime(registry)

	checks := []struct {
		description string
		contains    string
	}{
		{"Internal weak ref type", "_InternalWeakRef"},
		{"Invalidate weak refs", "invalidate_weak_refs_for"},
		{"User types section", "User-Defined Types"},
		{"Container type", "typedef struct Container"},
		{"Item type", "typedef struct Item"},
		{"ItemList type", "typedef struct ItemList"},
		{"Release functions", "Type-Aware Release Functions"},
		{"Field accessors", "Field Accessors"},
		{"Arena with externals", "arena_register_external"},
		{"Arena reset", "arena_reset"},
		{"SCC-based RC", "SCC-Based Reference Counting"},
		{"Tarjan algorithm", "TarjanState"},
		{"SCC detection", "detect_and_freeze_sccs"},
		{"Release with SCC", "release_with_scc"},
		{"Deferred RC", "Deferred Reference Counting"},
		{"Defer decrement", "defer_decrement"},
		{"Process deferred", "process_deferred"},
		{"Safe point", "safe_point"},
		{"Perceus reuse", "try_reuse"},
	}

	for _, check := range checks {
		if !strings.Contains(runtime, check.contains) {
			t.Errorf("Missing: %s (looking for '%s')", check.description, check.contains)
		}
	}

	weakFields := []struct {
		typeName  string
		fieldName string
	}{
		{"Container", "owner"}, // naming hint
		{"Item", "prev"},       // naming hint
	}

	for _, wf := range weakFields {
		if !registry.IsFieldWeak(wf.typeName, wf.fieldName) {
			t.Errorf("%s.%s should be weak", wf.typeName, wf.fieldName)
		}
	}
	// "container" is not a back-edge name and its type is not Item.
	if registry.IsFieldWeak("Item", "container") {
		t.Error("Item.container should stay strong")
	}

	t.Logf("Generated runtime is %d bytes", len(runtime))
}

// TestNoWeakRefExposure verifies that WeakRef is internal only
func TestNoWeakRefExposure(t *testing.T) {
	registry := codegen.NewTypeRegistry()
	registry.RegisterType("Node", []codegen.TypeField{
		{Name: "value", Type: "int"},
		{Name: "next", Type: "Node", IsScannable: true, Strength: codegen.FieldStrong},
		{Name: "prev", Type: "Node", IsScannable: true, Strength: codegen.FieldStrong},
	})
	registry.BuildOwnershipGraph()
	registry.AnalyzeBackEdges()

	runtime := codegen.GenerateRuntime(registry)

	if strings.Contains(runtime, "WeakRef* mk_weak_ref") {
		t.Error("Public mk_weak_ref should not exist - WeakRef is internal")
	}
	if !strings.Contains(runtime, "_InternalWeakRef* _mk_weak_ref") {
		t.Error("Internal _mk_weak_ref should exist")
	}
	if !strings.Contains(runtime, "internal to the runtime") {
		t.Error("WeakRef section should indicate internal use")
	}
	if strings.Contains(runtime, "WeakRef* prev") {
		t.Error("User types should not use WeakRef directly")
	}
}
