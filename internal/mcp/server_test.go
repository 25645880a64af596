package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codelocal/internal/embedder"
	"github.com/dshills/codelocal/internal/indexer"
	"github.com/dshills/codelocal/internal/persistence"
	"github.com/dshills/codelocal/internal/searcher"
)

type testEnv struct {
	srv    *Server
	engine *indexer.Engine
	root   string
}

func newTestEnv(t *testing.T, withScheduler bool) *testEnv {
	t.Helper()
	root := t.TempDir()
	emb, err := embedder.NewLocalProvider(nil, embedder.WithDimension(64))
	require.NoError(t, err)

	eng, err := indexer.Open(context.Background(), indexer.Options{
		Root:     root,
		StateDir: t.TempDir(),
		Embedder: emb,
		Workers:  2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	opts := Options{Engine: eng, Searcher: searcher.NewSearcher(eng, emb), Version: "0.0.0-test"}
	if withScheduler {
		opts.Scheduler = persistence.NewScheduler(eng, 0, nil)
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)
	return &testEnv{srv: srv, engine: eng, root: root}
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// sendMessage passes one JSON-RPC request through the MCP server
func sendMessage(t *testing.T, srv *Server, method string, id int, params map[string]any) mcp.JSONRPCResponse {
	t.Helper()

	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		msg["params"] = params
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	result := srv.mcp.HandleMessage(context.Background(), raw)
	resp, ok := result.(mcp.JSONRPCResponse)
	require.True(t, ok, "expected JSONRPCResponse, got %T: %+v", result, result)
	return resp
}

// resultJSON re-marshals the Result field through JSON into dst
func resultJSON(t *testing.T, resp mcp.JSONRPCResponse, dst any) {
	t.Helper()
	b, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, dst))
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)

	env := newTestEnv(t, false)
	_, err = NewServer(Options{Engine: env.engine})
	assert.Error(t, err, "searcher is required")
}

func TestListTools(t *testing.T) {
	env := newTestEnv(t, false)

	resp := sendMessage(t, env.srv, "tools/list", 1, nil)
	var result struct {
		Tools []struct {
			Name        string `json:"name"`
			InputSchema struct {
				Properties map[string]any `json:"properties"`
				Required   []string       `json:"required"`
			} `json:"inputSchema"`
		} `json:"tools"`
	}
	resultJSON(t, resp, &result)

	byName := make(map[string][]string)
	for _, tool := range result.Tools {
		byName[tool.Name] = tool.InputSchema.Required
	}
	assert.Len(t, byName, 4)
	assert.Contains(t, byName, "index_project")
	assert.Contains(t, byName, "get_status")
	assert.Contains(t, byName, "flush_index")
	assert.Equal(t, []string{"query"}, byName["search_code"])
}

func TestCallTool_OverJSONRPC(t *testing.T) {
	env := newTestEnv(t, false)
	env.write(t, "main.go", "package main\n\nfunc main() {}\n")

	resp := sendMessage(t, env.srv, "tools/call", 2, map[string]any{
		"name":      "index_project",
		"arguments": map[string]any{},
	})
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	resultJSON(t, resp, &result)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	var report scanReport
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &report))
	assert.Equal(t, 1, report.FilesIndexed)
	assert.Equal(t, 1, env.engine.Status().TrackedFiles)
}
