// Package mcp implements the Model Context Protocol (MCP) server for codelocal.
//
// One server serves one project. It exposes four tools to AI coding assistants:
//   - index_project: Scan the project or a directory inside it
//   - search_code: Search indexed chunks with a natural language or code query
//   - get_status: Report index statistics and persistence state
//   - flush_index: Persist the index immediately
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only; the server logs to the logger it
// was given, which must not write to stdout.
//
// # Basic Usage
//
// The server is started by the serve command, which also runs the file
// watcher and the periodic flush:
//
//	codelocal serve /path/to/project
//
// # Tool: index_project
//
//	Request:
//	{
//	  "name": "index_project",
//	  "arguments": {
//	    "path": "internal/api",
//	    "background": false
//	  }
//	}
//
//	Response:
//	{
//	  "path": "internal/api",
//	  "files_visited": 42,
//	  "files_indexed": 3,
//	  "files_unchanged": 39,
//	  "files_failed": 0,
//	  "files_removed": 1,
//	  "chunks_embedded": 17,
//	  "chunks_failed": 0,
//	  "duration_ms": 812
//	}
//
// Only one scan runs at a time; a second request fails with a tool error.
// With background set the call returns at once and the result appears as
// last_scan in get_status.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "retry with exponential backoff",
//	    "limit": 5,
//	    "file_pattern": "*.go",
//	    "min_score": 0.2
//	  }
//	}
//
//	Response:
//	{
//	  "query": "retry with exponential backoff",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "path": "internal/embedder/retry.go",
//	      "score": 0.6412,
//	      "ordinal": 118,
//	      "content": "func retryWithBackoff[T any](ctx context.Context, ..."
//	    }
//	  ],
//	  "total_results": 1,
//	  "candidates": 20,
//	  "cache_hit": false,
//	  "duration_ms": 4
//	}
//
// Results are in similarity order and each score is the cosine similarity
// of the chunk to the query.
//
// # Tool: get_status
//
// Returns tracked files, live and tombstoned ordinals, the next ordinal,
// the dirty flag, the persisted generation, the last flush time and error,
// the embedding model, queued events, whether a scan is running and the
// report of the last scan.
//
// # Tool: flush_index
//
// Compacts, snapshots and commits the index. A failed flush is reported as
// a tool error and the index stays dirty for the next attempt.
//
// # Error Handling
//
// Invalid arguments and failed operations are returned as tool results
// with IsError set, so the client sees the message. An aborted index
// session is reported on every search until the server is restarted.
package mcp
