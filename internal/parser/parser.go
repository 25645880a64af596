package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"os"

	"github.com/dshills/codelocal/pkg/types"
)

// Parser locates top-level declarations in Go source files
type Parser struct{}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{}
}

// ParseFile reads and parses a Go source file
func (p *Parser) ParseFile(filePath string) (*types.ParseResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseSource(filePath, content), nil
}

// ParseSource parses Go source held in memory. Syntax errors are recorded on
// the result; declarations from whatever partial AST the parser recovered
// are still returned, in source order.
func (p *Parser) ParseSource(filePath string, content []byte) *types.ParseResult {
	result := &types.ParseResult{}

	// A FileSet per call keeps long-running processes from accumulating
	// position tables for every file ever parsed
	fset := token.NewFileSet()

	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		addErrors(result, filePath, err)
	}
	if file == nil {
		return result
	}
	if file.Name != nil {
		result.PackageName = file.Name.Name
	}

	for _, decl := range file.Decls {
		d, ok := declSpan(fset, decl)
		if ok {
			result.Decls = append(result.Decls, d)
		}
	}
	return result
}

// addErrors records each scanner error separately so callers see positions
func addErrors(result *types.ParseResult, filePath string, err error) {
	list, ok := err.(scanner.ErrorList)
	if !ok {
		result.AddError(filePath, 0, 0, fmt.Sprintf("syntax error: %v", err))
		return
	}
	for _, e := range list {
		result.AddError(filePath, e.Pos.Line, e.Pos.Column, e.Msg)
	}
}

// declSpan describes one top-level declaration. Imports and declarations
// the parser could not recover are skipped.
func declSpan(fset *token.FileSet, decl ast.Decl) (types.Decl, bool) {
	var (
		d   types.Decl
		doc *ast.CommentGroup
	)

	switch n := decl.(type) {
	case *ast.FuncDecl:
		if n.Name == nil {
			return d, false
		}
		doc = n.Doc
		d.Names = []string{n.Name.Name}
		d.Kind = types.DeclFunction
		if n.Recv != nil && len(n.Recv.List) > 0 {
			d.Kind = types.DeclMethod
			d.Receiver = receiverName(n.Recv.List[0].Type)
		}

	case *ast.GenDecl:
		if n.Tok == token.IMPORT || len(n.Specs) == 0 {
			return d, false
		}
		doc = n.Doc
		d.Kind = genDeclKind(n)
		d.Names = specNames(n.Specs)

	default:
		return d, false
	}

	start := decl.Pos()
	if doc != nil {
		start = doc.Pos()
	}
	d.StartLine = fset.Position(start).Line
	d.EndLine = fset.Position(decl.End()).Line
	return d, d.StartLine > 0 && d.EndLine >= d.StartLine
}

// genDeclKind classifies a const, var or type declaration. A type group
// is reported as DeclType.
func genDeclKind(n *ast.GenDecl) types.DeclKind {
	switch n.Tok {
	case token.CONST:
		return types.DeclConst
	case token.VAR:
		return types.DeclVar
	}
	if len(n.Specs) == 1 {
		if ts, ok := n.Specs[0].(*ast.TypeSpec); ok {
			switch ts.Type.(type) {
			case *ast.StructType:
				return types.DeclStruct
			case *ast.InterfaceType:
				return types.DeclInterface
			}
		}
	}
	return types.DeclType
}

func specNames(specs []ast.Spec) []string {
	var names []string
	for _, spec := range specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			names = append(names, s.Name.Name)
		case *ast.ValueSpec:
			for _, id := range s.Names {
				names = append(names, id.Name)
			}
		}
	}
	return names
}

// receiverName returns the receiver's type name without pointer or type
// parameters
func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}
