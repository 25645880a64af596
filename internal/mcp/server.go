package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codelocal/internal/indexer"
	"github.com/dshills/codelocal/internal/persistence"
	"github.com/dshills/codelocal/internal/searcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "codelocal"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Options holds the collaborators of a Server
type Options struct {
	Engine   *indexer.Engine
	Searcher *searcher.Searcher
	// Scheduler is used by flush_index when set; otherwise the engine is
	// flushed directly
	Scheduler *persistence.Scheduler
	Version   string // reported to clients, default ServerVersion
	Logger    *slog.Logger
}

// Server wraps the MCP server with the index session it serves
type Server struct {
	mcp       *server.MCPServer
	engine    *indexer.Engine
	searcher  *searcher.Searcher
	scheduler *persistence.Scheduler
	logger    *slog.Logger

	// background scan started by index_project
	scanMu   sync.Mutex
	scan     *indexer.ScanTask
	lastScan *scanReport
}

// NewServer creates a new MCP server instance
func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	version := opts.Version
	if version == "" {
		version = ServerVersion
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		engine:    opts.Engine,
		searcher:  opts.Searcher,
		scheduler: opts.Scheduler,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// Serve speaks MCP over in and out until ctx is done or in is closed.
// Nothing else may write to out.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("mcp server ready", "root", s.engine.Root())
	err := stdio.Listen(ctx, in, out)
	s.cancelScan()
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexProjectTool(), s.handleIndexProject)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(flushIndexTool(), s.handleFlushIndex)
}

// cancelScan stops a background scan and waits for it
func (s *Server) cancelScan() {
	s.scanMu.Lock()
	task := s.scan
	s.scanMu.Unlock()
	if task != nil {
		task.Cancel()
		_, _ = task.Wait()
	}
}
