// Package parser locates the top-level declarations of Go source files so
// the chunker can cut them at declaration boundaries.
//
// # Basic Usage
//
//	p := parser.New()
//	result := p.ParseSource("server.go", content)
//	for _, d := range result.Decls {
//	    fmt.Printf("%s %s: lines %d-%d\n", d.Kind, d.Name(), d.StartLine, d.EndLine)
//	}
//
// Each function, method and type declaration is one Decl, and so is each
// const, var or type group. A Decl's span starts at its doc comment.
// Declarations inside function bodies and import blocks are not reported.
//
// # Error Handling
//
// Syntax errors do not fail the parse. They are recorded on the result with
// their positions, and the declarations of the partial AST are still
// returned:
//
//	result := p.ParseSource("broken.go", content)
//	if result.HasErrors() {
//	    for _, parseErr := range result.Errors {
//	        fmt.Printf("Parse error: %v\n", parseErr)
//	    }
//	}
//
// This lets indexing continue on files that are mid-edit.
//
// ParseSource builds a fresh token.FileSet per call, so a single Parser is
// safe for concurrent use.
package parser
