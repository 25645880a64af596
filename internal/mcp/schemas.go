package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codelocal/internal/searcher"
)

// indexProjectTool returns the tool definition for index_project
func indexProjectTool() mcp.Tool {
	return mcp.NewTool("index_project",
		mcp.WithDescription("Scan the project (or a directory inside it), re-embed new and changed files "+
			"and drop records of files that no longer exist. Unchanged files are skipped by content hash."),
		mcp.WithString("path",
			mcp.Description("Directory to scan, relative to the project root or absolute inside it. Defaults to the whole project."),
		),
		mcp.WithBoolean("background",
			mcp.Description("Start the scan and return immediately; progress is reported by get_status. Default false."),
		),
	)
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.NewTool("search_code",
		mcp.WithDescription("Find code chunks similar to a natural language or code query."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language or code search query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 10)"),
			mcp.Min(1),
			mcp.Max(searcher.MaxLimit),
		),
		mcp.WithString("file_pattern",
			mcp.Description("Glob over the project-relative path, e.g. 'internal/*/*.go'. A pattern without '/' matches the file name."),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Drop results with similarity below this value (-1 to 1)"),
		),
	)
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.NewTool("get_status",
		mcp.WithDescription("Report index statistics, persistence state and any running scan."),
	)
}

// flushIndexTool returns the tool definition for flush_index
func flushIndexTool() mcp.Tool {
	return mcp.NewTool("flush_index",
		mcp.WithDescription("Persist the index now instead of waiting for the periodic save."),
	)
}
