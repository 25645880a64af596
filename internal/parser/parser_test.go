package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codelocal/pkg/types"
)

const userSource = `package users

import (
	"fmt"
	"strings"
)

// MaxNameLength bounds user names
const MaxNameLength = 64

// Status values
const (
	Active Status = iota
	Suspended
)

// User represents a user in the system
type User struct {
	ID   int
	Name string
}

type Store interface {
	Get(id int) (*User, error)
}

type (
	Status int
	ID     = int
)

var defaultStore Store

// Greet prints a greeting message
func Greet(name string) {
	type local struct{}
	fmt.Println("Hello, " + strings.TrimSpace(name))
}

func (u *User) Rename(name string) {
	u.Name = name
}

func (c Cache[K, V]) Len() int { return 0 }
`

func TestNew(t *testing.T) {
	assert.NotNil(t, New())
}

func TestParseSource_Declarations(t *testing.T) {
	result := New().ParseSource("users.go", []byte(userSource))
	require.False(t, result.HasErrors(), "%v", result.Errors)
	assert.Equal(t, "users", result.PackageName)

	want := []types.Decl{
		{Kind: types.DeclConst, Names: []string{"MaxNameLength"}, StartLine: 8, EndLine: 9},
		{Kind: types.DeclConst, Names: []string{"Active", "Suspended"}, StartLine: 11, EndLine: 15},
		{Kind: types.DeclStruct, Names: []string{"User"}, StartLine: 17, EndLine: 21},
		{Kind: types.DeclInterface, Names: []string{"Store"}, StartLine: 23, EndLine: 25},
		{Kind: types.DeclType, Names: []string{"Status", "ID"}, StartLine: 27, EndLine: 30},
		{Kind: types.DeclVar, Names: []string{"defaultStore"}, StartLine: 32, EndLine: 32},
		{Kind: types.DeclFunction, Names: []string{"Greet"}, StartLine: 34, EndLine: 38},
		{Kind: types.DeclMethod, Names: []string{"Rename"}, Receiver: "User", StartLine: 40, EndLine: 42},
		{Kind: types.DeclMethod, Names: []string{"Len"}, Receiver: "Cache", StartLine: 44, EndLine: 44},
	}
	assert.Equal(t, want, result.Decls)
}

func TestParseSource_SkipsNestedDeclarations(t *testing.T) {
	result := New().ParseSource("users.go", []byte(userSource))
	for _, d := range result.Decls {
		assert.NotEqual(t, "local", d.Name(), "declarations inside bodies are part of their function")
	}
}

func TestParseSource_RepeatedCallsAreIndependent(t *testing.T) {
	p := New()
	src := []byte("package a\n\nfunc F() {}\n")

	first := p.ParseSource("a.go", src)
	second := p.ParseSource("a.go", src)

	assert.Equal(t, first.Decls, second.Decls)
}

func TestParseSource_SyntaxError(t *testing.T) {
	src := []byte(`package broken

func Good() int {
	return 1
}

func Broken( {
`)
	result := New().ParseSource("broken.go", src)

	require.True(t, result.HasErrors())
	first := result.Errors[0]
	assert.Equal(t, "broken.go", first.File)
	assert.Positive(t, first.Line)
	assert.Contains(t, first.Error(), "broken.go:")

	require.NotEmpty(t, result.Decls, "declarations before the error survive")
	assert.Equal(t, "Good", result.Decls[0].Name())
}

func TestParseSource_NotGo(t *testing.T) {
	result := New().ParseSource("notes.go", []byte("just some prose\n"))
	assert.True(t, result.HasErrors())
	assert.Empty(t, result.Decls)
}

func TestParseSource_ImportsOnly(t *testing.T) {
	result := New().ParseSource("deps.go", []byte("package deps\n\nimport _ \"embed\"\n"))
	assert.False(t, result.HasErrors())
	assert.Empty(t, result.Decls)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.go")
	require.NoError(t, os.WriteFile(path, []byte(userSource), 0o644))

	result, err := New().ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, result.Decls, 9)

	_, err = New().ParseFile(filepath.Join(t.TempDir(), "missing.go"))
	assert.Error(t, err)
}

func TestDecl_Name(t *testing.T) {
	assert.Empty(t, types.Decl{}.Name())
	assert.Equal(t, "A", types.Decl{Names: []string{"A", "B"}}.Name())
}
