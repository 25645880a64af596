package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CODELOCAL_DATA_DIR", t.TempDir())
	t.Setenv("CODELOCAL_EMBEDDING_PROVIDER", "local")
	t.Setenv("CODELOCAL_LOG_LEVEL", "error")
	t.Setenv("CODELOCAL_SNAPSHOT_COMPRESSION", "lz4")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "version:    dev")
	assert.Contains(t, out, "build mode:")
}

func TestIndexSearchStatus(t *testing.T) {
	setupEnv(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.go"),
		[]byte("package calc\n\n// Add adds two numbers\nfunc Add(a, b int) int {\n\treturn a + b\n}\n"), 0o644))

	out, err := execute(t, "index", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Files Indexed:   1")

	out, err = execute(t, "index", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Files Unchanged: 1", "state persisted between runs")

	out, err = execute(t, "search", "--root", root, "add two numbers")
	require.NoError(t, err)
	assert.Contains(t, out, "1. calc.go")
	assert.Contains(t, out, "func Add")

	out, err = execute(t, "status", root)
	require.NoError(t, err)
	assert.Contains(t, out, `"TrackedFiles": 1`)
	assert.Contains(t, out, `"SnapshotLoaded": true`)
}

func TestProbe(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "probe", "--text", "hello world")
	require.NoError(t, err)
	assert.Contains(t, out, "Provider:  local")
	assert.Contains(t, out, "Dimension: 384")
	assert.Contains(t, out, "Norm:      1.0000")
}

func TestProjectRoot_RejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	_, err := projectRoot([]string{f})
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("line\n", 10)
	assert.Equal(t, 7, strings.Count(preview(long, false), "\n")+1)
	assert.Equal(t, strings.TrimRight(long, "\n"), preview(long, true))
	assert.Equal(t, "      a\n      b", indent("a\nb"))
}
