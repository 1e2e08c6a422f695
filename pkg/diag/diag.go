// Package diag implements the compiler's error taxonomy as Go error
// types, wrapped with golang.org/x/xerrors so each carries a frame for
// -v diagnostics.
package diag

import (
	"fmt"

	"golang.org/x/xerrors"
)

// SyntaxError wraps a parser failure. Compilation stops when one occurs.
type SyntaxError struct {
	Pos int
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %v", e.Pos, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

func NewSyntaxError(pos int, cause error) error {
	return &SyntaxError{Pos: pos, Err: xerrors.Errorf("parse failed: %w", cause)}
}

// NameError is an unbound identifier. Per-function fatal; the offending
// function is stubbed, not the whole unit.
type NameError struct {
	FuncName string
	Ident    string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("%s: unbound identifier %q", e.FuncName, e.Ident)
}

func NewNameError(funcName, ident string) error {
	return xerrors.Errorf("name resolution: %w", &NameError{FuncName: funcName, Ident: ident})
}

// AnalysisFallback records that a conservative default was chosen
// because an analysis could not prove its precondition. Not user
// visible except under -v.
type AnalysisFallback struct {
	FuncName string
	Analysis string
	Reason   string
}

func (e *AnalysisFallback) Error() string {
	return fmt.Sprintf("%s: %s fell back (%s)", e.FuncName, e.Analysis, e.Reason)
}

func NewAnalysisFallback(funcName, analysis, reason string) error {
	return &AnalysisFallback{FuncName: funcName, Analysis: analysis, Reason: reason}
}

// CodegenError is an impossible AST shape reached the driver. Per-
// function fatal; stubs the function.
type CodegenError struct {
	FuncName string
	Detail   string
}

func (e *CodegenError) Error() string {
	return fmt.Sprintf("%s: codegen error: %s", e.FuncName, e.Detail)
}

func NewCodegenError(funcName, detail string) error {
	return xerrors.Errorf("codegen: %w", &CodegenError{FuncName: funcName, Detail: detail})
}

// RuntimeDiagnostic models an ASSERT_OWNED-style debug-build check: a
// value must have refcount >= 1 at a use site. Failures print and
// continue rather than abort,.
type RuntimeDiagnostic struct {
	Site string
	Var  string
}

func (e *RuntimeDiagnostic) Error() string {
	return fmt.Sprintf("ASSERT_OWNED failed for %s at %s", e.Var, e.Site)
}

func NewRuntimeDiagnostic(site, varName string) error {
	return &RuntimeDiagnostic{Site: site, Var: varName}
}

// Collector accumulates parse/analysis errors so they can be reported
// together.
type Collector struct {
	errs []error
}

func (c *Collector) Add(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *Collector) HasErrors() bool { return len(c.errs) > 0 }

func (c *Collector) Errors() []error { return c.errs }

func (c *Collector) Error() string {
	if len(c.errs) == 0 {
		return ""
	}
	msg := fmt.Sprintf("%d error(s):", len(c.errs))
	for _, e := range c.errs {
		msg += "\n  " + e.Error()
	}
	return msg
}
