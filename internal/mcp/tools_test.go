package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// call invokes h with args and returns the result and its text
func call(t *testing.T, h handler, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args

	res, err := h(context.Background(), req)
	require.NoError(t, err, "handlers report failures as tool errors")
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return res, text.Text
}

func decode[T any](t *testing.T, text string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(text), &v), text)
	return v
}

const authSource = `package auth

// ValidateToken checks the signature and expiry of a session token
func ValidateToken(token string) error {
	return verifySignature(token)
}

// HashPassword derives a password hash with bcrypt
func HashPassword(password string) (string, error) {
	return bcryptHash(password)
}
`

func TestIndexProject(t *testing.T) {
	env := newTestEnv(t, false)
	env.write(t, "auth/auth.go", authSource)
	env.write(t, "docs/notes.txt", "token rotation happens nightly\n")
	env.write(t, "logo.png", "\x89PNG")

	res, text := call(t, env.srv.handleIndexProject, nil)
	require.False(t, res.IsError, text)
	report := decode[scanReport](t, text)
	assert.Equal(t, 2, report.FilesVisited)
	assert.Equal(t, 2, report.FilesIndexed)
	assert.Positive(t, report.ChunksEmbedded)
	assert.Empty(t, report.Error)

	res, text = call(t, env.srv.handleIndexProject, nil)
	require.False(t, res.IsError, text)
	report = decode[scanReport](t, text)
	assert.Equal(t, 2, report.FilesUnchanged, "second scan skips by hash")
	assert.Zero(t, report.ChunksEmbedded)
}

func TestIndexProject_Subtree(t *testing.T) {
	env := newTestEnv(t, false)
	env.write(t, "auth/auth.go", authSource)
	env.write(t, "docs/notes.txt", "token rotation happens nightly\n")

	res, text := call(t, env.srv.handleIndexProject, map[string]any{"path": "auth"})
	require.False(t, res.IsError, text)
	report := decode[scanReport](t, text)
	assert.Equal(t, "auth", report.Path)
	assert.Equal(t, 1, report.FilesVisited)

	_, tracked := env.engine.File("docs/notes.txt")
	assert.False(t, tracked)
}

func TestIndexProject_OutsideRoot(t *testing.T) {
	env := newTestEnv(t, false)

	res, text := call(t, env.srv.handleIndexProject, map[string]any{"path": "../elsewhere"})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "outside the project root")
}

func TestIndexProject_Background(t *testing.T) {
	env := newTestEnv(t, false)
	env.write(t, "auth/auth.go", authSource)

	res, text := call(t, env.srv.handleIndexProject, map[string]any{"background": true})
	require.False(t, res.IsError, text)
	assert.Contains(t, text, `"started": true`)

	assert.Eventually(t, func() bool {
		_, text := call(t, env.srv.handleGetStatus, nil)
		st := decode[statusResponse](t, text)
		return st.LastScan != nil && !st.Scanning
	}, 5*time.Second, 10*time.Millisecond)

	_, text = call(t, env.srv.handleGetStatus, nil)
	st := decode[statusResponse](t, text)
	assert.Equal(t, 1, st.LastScan.FilesIndexed)
	assert.Equal(t, 1, st.TrackedFiles)
}

func TestSearchCode(t *testing.T) {
	env := newTestEnv(t, false)
	env.write(t, "auth/auth.go", authSource)
	env.write(t, "docs/notes.txt", "token rotation happens nightly\n")
	_, text := call(t, env.srv.handleIndexProject, nil)
	require.Equal(t, 2, decode[scanReport](t, text).FilesIndexed)

	res, text := call(t, env.srv.handleSearchCode, map[string]any{
		"query": "validate session token signature",
		"limit": float64(3),
	})
	require.False(t, res.IsError, text)
	out := decode[searchResponse](t, text)
	require.NotEmpty(t, out.Results)
	assert.LessOrEqual(t, len(out.Results), 3)
	assert.Equal(t, 1, out.Results[0].Rank)
	assert.Equal(t, "auth/auth.go", out.Results[0].Path)
	assert.Contains(t, out.Results[0].Content, "ValidateToken")

	res, text = call(t, env.srv.handleSearchCode, map[string]any{
		"query":        "token",
		"file_pattern": "*.txt",
	})
	require.False(t, res.IsError, text)
	out = decode[searchResponse](t, text)
	require.NotEmpty(t, out.Results)
	for _, r := range out.Results {
		assert.Equal(t, "docs/notes.txt", r.Path)
	}
}

func TestSearchCode_InvalidArguments(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing query", map[string]any{}, "query"},
		{"blank query", map[string]any{"query": "   "}, "query"},
		{"limit too large", map[string]any{"query": "x", "limit": float64(500)}, "limit"},
		{"limit zero", map[string]any{"query": "x", "limit": float64(0)}, "limit"},
		{"bad pattern", map[string]any{"query": "x", "file_pattern": "[a-"}, "search failed"},
		{"min score out of range", map[string]any{"query": "x", "min_score": float64(3)}, "search failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, text := call(t, env.srv.handleSearchCode, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, true)

	_, text := call(t, env.srv.handleGetStatus, nil)
	st := decode[statusResponse](t, text)
	assert.Equal(t, env.engine.Root(), st.ProjectRoot)
	assert.Zero(t, st.TrackedFiles)
	assert.False(t, st.Dirty)
	assert.False(t, st.Scanning)
	assert.Equal(t, 64, st.EmbeddingDim)
	assert.Nil(t, st.LastScan)
	require.NotNil(t, st.Scheduler)

	env.write(t, "auth/auth.go", authSource)
	_, err := env.engine.Reindex(context.Background(), "auth/auth.go")
	require.NoError(t, err)

	_, text = call(t, env.srv.handleGetStatus, nil)
	st = decode[statusResponse](t, text)
	assert.Equal(t, 1, st.TrackedFiles)
	assert.Positive(t, st.LiveOrdinals)
	assert.True(t, st.Dirty)
}

func TestFlushIndex(t *testing.T) {
	for _, withScheduler := range []bool{false, true} {
		name := "engine"
		if withScheduler {
			name = "scheduler"
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, withScheduler)
			env.write(t, "auth/auth.go", authSource)
			_, err := env.engine.Reindex(context.Background(), "auth/auth.go")
			require.NoError(t, err)
			require.True(t, env.engine.Dirty())

			res, text := call(t, env.srv.handleFlushIndex, nil)
			require.False(t, res.IsError, text)
			out := decode[map[string]any](t, text)
			assert.Equal(t, true, out["flushed"])
			assert.Equal(t, false, out["dirty"])
			assert.False(t, env.engine.Dirty())

			_, text = call(t, env.srv.handleFlushIndex, nil)
			out = decode[map[string]any](t, text)
			assert.Equal(t, false, out["flushed"], "clean index has nothing to flush")
		})
	}
}
