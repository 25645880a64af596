package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codelocal/internal/indexer"
	"github.com/dshills/codelocal/internal/searcher"
)

// maxReportedErrors caps per-file errors included in a scan report
const maxReportedErrors = 5

// scanReport is the JSON form of indexer.Statistics
type scanReport struct {
	Path           string   `json:"path,omitempty"`
	FilesVisited   int      `json:"files_visited"`
	FilesIndexed   int      `json:"files_indexed"`
	FilesUnchanged int      `json:"files_unchanged"`
	FilesFailed    int      `json:"files_failed"`
	FilesRemoved   int      `json:"files_removed"`
	ChunksEmbedded int      `json:"chunks_embedded"`
	ChunksFailed   int      `json:"chunks_failed"`
	DurationMS     int64    `json:"duration_ms"`
	FlushError     string   `json:"flush_error,omitempty"`
	Errors         []string `json:"errors,omitempty"`
	ErrorCount     int      `json:"error_count,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func newScanReport(path string, stats *indexer.Statistics, err error) *scanReport {
	r := &scanReport{Path: path}
	if err != nil {
		r.Error = err.Error()
	}
	if stats == nil {
		return r
	}
	r.FilesVisited = stats.FilesVisited
	r.FilesIndexed = stats.FilesIndexed
	r.FilesUnchanged = stats.FilesUnchanged
	r.FilesFailed = stats.FilesFailed
	r.FilesRemoved = stats.FilesRemoved
	r.ChunksEmbedded = stats.ChunksEmbedded
	r.ChunksFailed = stats.ChunksFailed
	r.DurationMS = stats.Duration.Milliseconds()
	r.FlushError = stats.FlushError
	if n := len(stats.ErrorMessages); n > 0 {
		r.Errors = stats.ErrorMessages[:min(n, maxReportedErrors)]
		if n > maxReportedErrors {
			r.ErrorCount = n
		}
	}
	return r
}

// handleIndexProject handles the index_project tool invocation
func (s *Server) handleIndexProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := request.GetString("path", "")
	var roots []string
	if path != "" {
		roots = append(roots, path)
	}

	if request.GetBool("background", false) {
		return s.startBackgroundScan(path, roots)
	}

	stats, err := s.engine.Scan(ctx, roots...)
	switch {
	case errors.Is(err, indexer.ErrScanInProgress):
		return mcp.NewToolResultError("an index scan is already running; check get_status"), nil
	case errors.Is(err, indexer.ErrOutsideRoot):
		return mcp.NewToolResultError(fmt.Sprintf("path %q is outside the project root %s", path, s.engine.Root())), nil
	case err != nil && stats == nil:
		s.logger.Error("scan failed", "path", path, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("indexing failed: %v", err)), nil
	}

	report := newScanReport(path, stats, err)
	s.setLastScan(report)
	if err != nil {
		s.logger.Error("scan stopped", "path", path, "error", err)
		res := jsonResult(report)
		res.IsError = true
		return res, nil
	}
	return jsonResult(report), nil
}

func (s *Server) startBackgroundScan(path string, roots []string) (*mcp.CallToolResult, error) {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	if s.scan != nil || s.engine.Scanning() {
		return mcp.NewToolResultError("an index scan is already running; check get_status"), nil
	}

	// the request context ends with this call; Serve cancels the task on exit
	task := s.engine.StartScan(context.Background(), roots...)
	s.scan = task
	go func() {
		stats, err := task.Wait()
		if err != nil {
			s.logger.Warn("background scan finished with error", "path", path, "error", err)
		}
		s.scanMu.Lock()
		s.scan = nil
		s.lastScan = newScanReport(path, stats, err)
		s.scanMu.Unlock()
	}()

	return jsonResult(map[string]any{
		"started": true,
		"path":    path,
	}), nil
}

func (s *Server) setLastScan(r *scanReport) {
	s.scanMu.Lock()
	s.lastScan = r
	s.scanMu.Unlock()
}

type searchResponse struct {
	Query      string         `json:"query"`
	Results    []searchResult `json:"results"`
	Total      int            `json:"total_results"`
	Candidates int            `json:"candidates"`
	CacheHit   bool           `json:"cache_hit"`
	DurationMS int64          `json:"duration_ms"`
}

type searchResult struct {
	Rank    int     `json:"rank"`
	Path    string  `json:"path"`
	Score   float64 `json:"score"`
	Ordinal uint64  `json:"ordinal"`
	Content string  `json:"content"`
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("query parameter is required and cannot be empty"), nil
	}

	limit := request.GetInt("limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return mcp.NewToolResultError(fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit)), nil
	}

	resp, err := s.searcher.Search(ctx, searcher.Request{
		Query:       query,
		Limit:       limit,
		FilePattern: request.GetString("file_pattern", ""),
		MinScore:    request.GetFloat("min_score", 0),
		UseCache:    true,
	})
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		return mcp.NewToolResultError("query parameter is required and cannot be empty"), nil
	case errors.Is(err, indexer.ErrSessionAborted):
		return mcp.NewToolResultError(fmt.Sprintf("index session aborted, restart the server: %v", err)), nil
	case err != nil:
		s.logger.Error("search failed", "query", query, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	out := searchResponse{
		Query:      query,
		Results:    make([]searchResult, 0, len(resp.Results)),
		Total:      resp.TotalResults,
		Candidates: resp.Candidates,
		CacheHit:   resp.CacheHit,
		DurationMS: resp.Duration.Milliseconds(),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, searchResult{
			Rank:    r.Rank,
			Path:    r.Path,
			Score:   r.Score,
			Ordinal: uint64(r.Ordinal),
			Content: r.Content,
		})
	}
	return jsonResult(out), nil
}

type statusResponse struct {
	ProjectRoot    string      `json:"project_root"`
	TrackedFiles   int         `json:"tracked_files"`
	LiveOrdinals   int         `json:"live_ordinals"`
	Tombstoned     int         `json:"tombstoned"`
	NextOrdinal    uint64      `json:"next_ordinal"`
	Dirty          bool        `json:"dirty"`
	Generation     uint64      `json:"generation"`
	LastFlush      string      `json:"last_flush,omitempty"`
	LastFlushError string      `json:"last_flush_error,omitempty"`
	Aborted        bool        `json:"aborted"`
	AbortReason    string      `json:"abort_reason,omitempty"`
	EmbeddingModel string      `json:"embedding_model"`
	EmbeddingDim   int         `json:"embedding_dimension"`
	PendingEvents  int         `json:"pending_events"`
	Scanning       bool        `json:"scanning"`
	LastScan       *scanReport `json:"last_scan,omitempty"`
	Scheduler      *flushStats `json:"scheduler,omitempty"`
}

type flushStats struct {
	Flushes   int    `json:"flushes"`
	Failures  int    `json:"failures"`
	LastFlush string `json:"last_flush,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st := s.engine.Status()
	out := statusResponse{
		ProjectRoot:    st.ProjectRoot,
		TrackedFiles:   st.TrackedFiles,
		LiveOrdinals:   st.LiveOrdinals,
		Tombstoned:     st.Tombstoned,
		NextOrdinal:    uint64(st.NextOrdinal),
		Dirty:          st.Dirty,
		Generation:     st.Generation,
		LastFlush:      formatTime(st.LastFlush),
		LastFlushError: st.LastFlushError,
		Aborted:        st.Aborted,
		AbortReason:    st.AbortReason,
		EmbeddingModel: st.EmbeddingModel,
		EmbeddingDim:   st.EmbeddingDim,
		PendingEvents:  st.PendingEvents,
		Scanning:       s.engine.Scanning(),
	}

	s.scanMu.Lock()
	out.LastScan = s.lastScan
	s.scanMu.Unlock()

	if s.scheduler != nil {
		ss := s.scheduler.Stats()
		out.Scheduler = &flushStats{
			Flushes:   ss.Flushes,
			Failures:  ss.Failures,
			LastFlush: formatTime(ss.LastFlush),
		}
		if ss.LastError != nil {
			out.Scheduler.LastError = ss.LastError.Error()
		}
	}
	return jsonResult(out), nil
}

// handleFlushIndex handles the flush_index tool invocation
func (s *Server) handleFlushIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wasDirty := s.engine.Dirty()

	var err error
	if s.scheduler != nil {
		err = s.scheduler.FlushNow(ctx)
	} else {
		err = s.engine.Flush(ctx)
	}
	if err != nil {
		s.logger.Error("flush failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("flush failed, index stays dirty: %v", err)), nil
	}

	st := s.engine.Status()
	return jsonResult(map[string]any{
		"flushed":    wasDirty,
		"dirty":      st.Dirty,
		"generation": st.Generation,
		"last_flush": formatTime(st.LastFlush),
	}), nil
}

// jsonResult formats v as indented JSON text
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
