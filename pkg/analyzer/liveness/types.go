package liveness

import (
	"errors"
	"fmt"
)

// Kind classifies a declaration.
type Kind string

const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindClass    Kind = "class"
)

// String returns the string representation.
func (k Kind) String() string {
	return string(k)
}

// Position is a source location. Line is 1-based; Column is the 0-based byte
// offset of the defining keyword within its line.
type Position struct {
	Line   uint32 `json:"line" yaml:"line" toon:"line"`
	Column uint32 `json:"column" yaml:"column" toon:"column"`
}

// Less orders positions by line, then column.
func (p Position) Less(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Column < o.Column
}

// Declaration is a named function, class or method definition site.
type Declaration struct {
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	Class    string `json:"class,omitempty"` // owning class, methods only
	File     string `json:"file"`
	Position `json:"position"`
}

// QualifiedName is the name other files import the declaration by:
// Class.method for methods, the bare name otherwise.
func (d Declaration) QualifiedName() string {
	if d.Kind == KindMethod {
		return d.Class + "." + d.Name
	}
	return d.Name
}

// UsageFact is a classified call site or name read, scoped to the file it occurs in.
// The concrete types are FunctionUse, MethodUse and ClassUse.
type UsageFact interface {
	fmt.Stringer
	usageFact()
}

// FunctionUse records a call of a bare or dotted name.
type FunctionUse struct {
	Name string
}

// MethodUse records a call resolved to a method of a class declared in the same file.
type MethodUse struct {
	Class  string
	Method string
}

// ClassUse records a value-reading reference to a class declared in the same file.
type ClassUse struct {
	Name string
}

func (FunctionUse) usageFact() {}
func (MethodUse) usageFact()   {}
func (ClassUse) usageFact()    {}

func (u FunctionUse) String() string { return "function " + u.Name }
func (u MethodUse) String() string   { return "method " + u.Class + "." + u.Method }
func (u ClassUse) String() string    { return "class " + u.Name }

// ImportEdge records that File imports Names from Source. Source is an absolute
// path for resolved relative imports and the module string otherwise.
type ImportEdge struct {
	File   string   `json:"file"`
	Source string   `json:"source"`
	Names  []string `json:"names"`
}

// ErrParseFailure is matched by every ParseError.
var ErrParseFailure = errors.New("parse failure")

// ParseError reports a file that could not be decoded or parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

// Unwrap exposes both ErrParseFailure and the underlying cause to errors.Is.
func (e *ParseError) Unwrap() []error {
	return []error{ErrParseFailure, e.Err}
}
