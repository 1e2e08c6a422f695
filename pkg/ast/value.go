package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag represents the variant of a Value.
type Tag int

const (
	TInt Tag = iota
	TSym
	TCell
	TNil
	TPrim
	TLambda
	TError
	TChar
	TFloat
	TStr
	TArray
	TBox
	TChan
	TUserType
)

// PrimFn is a primitive function signature, retained on TPrim values for
// symbol table and REPL introspection. The AOT path never calls these
// directly — it emits a call to the mangled C runtime name instead.
type PrimFn func(args *Value, env *Value) *Value

// Value is the core tagged union for every AST node, environment binding,
// and runtime-modeled value that flows through the pipeline.
type Value struct {
	Tag Tag

	// TInt, TChar
	Int int64

	// TFloat
	Float float64

	// TSym, TStr, TError
	Str string

	// TCell
	Car *Value
	Cdr *Value

	// TArray
	Elems []*Value

	// TPrim
	Prim     PrimFn
	PrimName string

	// TLambda
	Params *Value
	Body   *Value
	LamEnv *Value

	// TBox - mutable reference cell (for set!)
	BoxValue *Value

	// TChan
	ChanSend chan *Value
	ChanCap  int

	// TUserType - deftype instance
	UserTypeName       string
	UserTypeFields     map[string]*Value
	UserTypeFieldOrder []string
}

// Nil is the singleton empty-list / unit value.
var Nil = &Value{Tag: TNil}

func NewInt(i int64) *Value     { return &Value{Tag: TInt, Int: i} }
func NewSym(s string) *Value    { return &Value{Tag: TSym, Str: s} }
func NewStr(s string) *Value    { return &Value{Tag: TStr, Str: s} }
func NewChar(c rune) *Value     { return &Value{Tag: TChar, Int: int64(c)} }
func NewFloat(f float64) *Value { return &Value{Tag: TFloat, Float: f} }
func NewError(msg string) *Value {
	return &Value{Tag: TError, Str: msg}
}

func NewCell(car, cdr *Value) *Value {
	return &Value{Tag: TCell, Car: car, Cdr: cdr}
}

func NewArray(elems []*Value) *Value {
	return &Value{Tag: TArray, Elems: elems}
}

func NewPrim(name string, fn PrimFn) *Value {
	return &Value{Tag: TPrim, Prim: fn, PrimName: name}
}

func NewLambda(params, body, env *Value) *Value {
	return &Value{Tag: TLambda, Params: params, Body: body, LamEnv: env}
}

func NewBox(v *Value) *Value {
	return &Value{Tag: TBox, BoxValue: v}
}

// NewChan creates a channel value. Capacity 0 means unbuffered, matching
// channel send/recv ownership-transfer semantics.
func NewChan(capacity int) *Value {
	return &Value{Tag: TChan, ChanSend: make(chan *Value, capacity), ChanCap: capacity}
}

// NewUserType creates a user-defined (deftype) instance. fieldOrder fixes
// declaration order, used for index-based access and the weak-field
// back-edge heuristic.
func NewUserType(typeName string, fields map[string]*Value, fieldOrder []string) *Value {
	return &Value{
		Tag:                TUserType,
		UserTypeName:       typeName,
		UserTypeFields:     fields,
		UserTypeFieldOrder: fieldOrder,
	}
}

func IsUserType(v *Value) bool {
	return v != nil && v.Tag == TUserType
}

func IsUserTypeOf(v *Value, typeName string) bool {
	return v != nil && v.Tag == TUserType && v.UserTypeName == typeName
}

func UserTypeGetField(v *Value, fieldName string) *Value {
	if v == nil || v.Tag != TUserType || v.UserTypeFields == nil {
		return nil
	}
	return v.UserTypeFields[fieldName]
}

func UserTypeSetField(v *Value, fieldName string, val *Value) {
	if v != nil && v.Tag == TUserType && v.UserTypeFields != nil {
		v.UserTypeFields[fieldName] = val
	}
}

func IsNil(v *Value) bool      { return v == nil || v.Tag == TNil }
func IsSym(v *Value) bool      { return v != nil && v.Tag == TSym }
func IsStr(v *Value) bool      { return v != nil && v.Tag == TStr }
func IsInt(v *Value) bool      { return v != nil && v.Tag == TInt }
func IsCell(v *Value) bool     { return v != nil && v.Tag == TCell }
func IsArray(v *Value) bool    { return v != nil && v.Tag == TArray }
func IsLambda(v *Value) bool   { return v != nil && v.Tag == TLambda }
func IsError(v *Value) bool    { return v != nil && v.Tag == TError }
func IsChar(v *Value) bool     { return v != nil && v.Tag == TChar }
func IsFloat(v *Value) bool    { return v != nil && v.Tag == TFloat }
func IsBox(v *Value) bool      { return v != nil && v.Tag == TBox }
func IsChan(v *Value) bool     { return v != nil && v.Tag == TChan }
func IsPrim(v *Value) bool     { return v != nil && v.Tag == TPrim }

// SymEq compares two symbols by name.
func SymEq(s1, s2 *Value) bool {
	if s1 == nil || s2 == nil {
		return false
	}
	if s1.Tag != TSym || s2.Tag != TSym {
		return false
	}
	return s1.Str == s2.Str
}

func SymEqStr(s *Value, str string) bool {
	if s == nil || s.Tag != TSym {
		return false
	}
	return s.Str == str
}

// List helpers
func List1(a *Value) *Value {
	return NewCell(a, Nil)
}

func List2(a, b *Value) *Value {
	return NewCell(a, NewCell(b, Nil))
}

func List3(a, b, c *Value) *Value {
	return NewCell(a, NewCell(b, NewCell(c, Nil)))
}

func ListLen(v *Value) int {
	n := 0
	for !IsNil(v) && IsCell(v) {
		n++
		v = v.Cdr
	}
	return n
}

func ListToSlice(v *Value) []*Value {
	var result []*Value
	for !IsNil(v) && IsCell(v) {
		result = append(result, v.Car)
		v = v.Cdr
	}
	return result
}

func SliceToList(items []*Value) *Value {
	result := Nil
	for i := len(items) - 1; i >= 0; i-- {
		result = NewCell(items[i], result)
	}
	return result
}

// Equal reports structural equality between two nodes.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return (a == nil || IsNil(a)) && (b == nil || IsNil(b))
	}
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case TInt, TChar:
		return a.Int == b.Int
	case TFloat:
		return a.Float == b.Float
	case TSym, TStr, TError:
		return a.Str == b.Str
	case TNil:
		return true
	case TCell:
		return Equal(a.Car, b.Car) && Equal(a.Cdr, b.Cdr)
	case TArray:
		if len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !Equal(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case TUserType:
		if a.UserTypeName != b.UserTypeName || len(a.UserTypeFieldOrder) != len(b.UserTypeFieldOrder) {
			return false
		}
		for _, f := range a.UserTypeFieldOrder {
			if !Equal(a.UserTypeFields[f], b.UserTypeFields[f]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// String returns a diagnostic representation of a value.
func (v *Value) String() string {
	if v == nil {
		return "nil"
	}
	switch v.Tag {
	case TInt:
		return strconv.FormatInt(v.Int, 10)
	case TSym:
		return v.Str
	case TStr:
		return strconv.Quote(v.Str)
	case TCell:
		return listToString(v)
	case TNil:
		return "()"
	case TPrim:
		return fmt.Sprintf("#<prim %s>", v.PrimName)
	case TLambda:
		return "#<lambda>"
	case TError:
		return fmt.Sprintf("#<error: %s>", v.Str)
	case TChar:
		return charToString(rune(v.Int))
	case TFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TArray:
		var sb strings.Builder
		sb.WriteString("#(")
		for i, e := range v.Elems {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(e.String())
		}
		sb.WriteByte(')')
		return sb.String()
	case TBox:
		return fmt.Sprintf("#<box %s>", v.BoxValue.String())
	case TChan:
		return fmt.Sprintf("#<channel cap=%d>", v.ChanCap)
	case TUserType:
		var sb strings.Builder
		sb.WriteString("#<")
		sb.WriteString(v.UserTypeName)
		for _, fieldName := range v.UserTypeFieldOrder {
			sb.WriteString(" ")
			sb.WriteString(fieldName)
			sb.WriteString("=")
			if val, ok := v.UserTypeFields[fieldName]; ok {
				sb.WriteString(val.String())
			} else {
				sb.WriteString("nil")
			}
		}
		sb.WriteString(">")
		return sb.String()
	default:
		return "?"
	}
}

func listToString(v *Value) string {
	var sb strings.Builder
	sb.WriteByte('(')
	first := true
	for !IsNil(v) && IsCell(v) {
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		sb.WriteString(v.Car.String())
		v = v.Cdr
	}
	if !IsNil(v) {
		sb.WriteString(" . ")
		sb.WriteString(v.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

func charToString(c rune) string {
	switch c {
	case '\n':
		return "#\\newline"
	case '\t':
		return "#\\tab"
	case '\r':
		return "#\\return"
	case ' ':
		return "#\\space"
	default:
		return fmt.Sprintf("#\\%c", c)
	}
}

// TagName returns the diagnostic name of a tag.
func TagName(t Tag) string {
	switch t {
	case TInt:
		return "INT"
	case TSym:
		return "SYM"
	case TCell:
		return "CELL"
	case TNil:
		return "NIL"
	case TPrim:
		return "PRIM"
	case TLambda:
		return "LAMBDA"
	case TError:
		return "ERROR"
	case TChar:
		return "CHAR"
	case TFloat:
		return "FLOAT"
	case TStr:
		return "STR"
	case TArray:
		return "ARRAY"
	case TBox:
		return "BOX"
	case TChan:
		return "CHAN"
	case TUserType:
		return "USERTYPE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}
