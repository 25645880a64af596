package types

import "fmt"

// DeclKind is the kind of a top-level Go declaration
type DeclKind string

const (
	DeclFunction  DeclKind = "function"
	DeclMethod    DeclKind = "method"
	DeclStruct    DeclKind = "struct"
	DeclInterface DeclKind = "interface"
	DeclType      DeclKind = "type"
	DeclConst     DeclKind = "const"
	DeclVar       DeclKind = "var"
)

// Decl is the line span of one top-level declaration. A grouped
// declaration such as a const block is a single Decl naming every member.
type Decl struct {
	Kind     DeclKind
	Names    []string
	Receiver string // Receiver type name for methods
	// StartLine includes the leading doc comment; both lines are 1-based and inclusive
	StartLine int
	EndLine   int
}

// Name returns the first declared name
func (d Decl) Name() string {
	if len(d.Names) == 0 {
		return ""
	}
	return d.Names[0]
}

// ParseResult represents the output of parsing a Go source file
type ParseResult struct {
	PackageName string
	Decls       []Decl

	// Errors encountered during parsing
	Errors []ParseError
}

// ParseError represents an error that occurred during parsing
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	if pe.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", pe.File, pe.Line, pe.Column, pe.Message)
	}
	return pe.Message
}

// HasErrors returns true if any parsing errors occurred
func (pr *ParseResult) HasErrors() bool {
	return len(pr.Errors) > 0
}

// AddError adds a parsing error to the result
func (pr *ParseResult) AddError(file string, line, col int, msg string) {
	pr.Errors = append(pr.Errors, ParseError{
		File:    file,
		Line:    line,
		Column:  col,
		Message: msg,
	})
}
