package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"xdebugtrace-mcp/internal/analyzer"
	"xdebugtrace-mcp/internal/config"
	"xdebugtrace-mcp/internal/export"
	"xdebugtrace-mcp/internal/xdebug"
)

// traceCache holds parsed traces by file path. Tool handlers may run concurrently.
type traceCache struct {
	mu     sync.RWMutex
	traces map[string]*xdebug.Result
}

func newTraceCache() *traceCache {
	return &traceCache{traces: make(map[string]*xdebug.Result)}
}

func (c *traceCache) get(path string) (*xdebug.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.traces[path]
	return result, ok
}

func (c *traceCache) put(path string, result *xdebug.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces[path] = result
}

type handlers struct {
	cache  *traceCache
	logger *log.Logger
}

func main() {
	h := &handlers{
		cache:  newTraceCache(),
		logger: log.New(os.Stderr, "xdebugtrace: ", log.LstdFlags),
	}

	// Create MCP server
	s := server.NewMCPServer(
		"xdebug-trace",
		"1.0.0",
		server.WithLogging(),
	)

	// Tool 1: Load Trace
	loadTraceTool := mcp.NewTool("load_trace",
		mcp.WithDescription("Load an XDebug computerized trace file (.xt) and pair every function entry with its exit. Filters decide which calls are kept."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path to the .xt trace file"),
		),
		mcp.WithString("function",
			mcp.Description("Keep only calls of this exact function name"),
		),
		mcp.WithString("pattern",
			mcp.Description("Keep only calls of functions matching this regular expression"),
		),
		mcp.WithBoolean("deep",
			mcp.Description("With function or pattern, also keep calls nested inside the matches"),
		),
		mcp.WithBoolean("show_internals",
			mcp.Description("Keep interpreter functions (strlen, array_map, ...)"),
		),
		mcp.WithBoolean("show_framework",
			mcp.Description("Keep calls into framework namespaces"),
		),
		mcp.WithString("min_time",
			mcp.Description("Hide calls faster than this, e.g. \"15ms\""),
		),
		mcp.WithString("max_time",
			mcp.Description("Hide calls slower than this"),
		),
		mcp.WithString("min_memory",
			mcp.Description("Hide calls allocating less than this, e.g. \"20kB\""),
		),
		mcp.WithString("max_memory",
			mcp.Description("Hide calls allocating more than this"),
		),
		mcp.WithString("sort_by",
			mcp.Description("Ordering of function statistics: totalTime (default), count or averageTime"),
		),
	)
	s.AddTool(loadTraceTool, h.loadTrace)

	// Tool 2: Get Statistics
	getStatisticsTool := mcp.NewTool("get_statistics",
		mcp.WithDescription("Get summary statistics about a loaded trace: segments, retained and unterminated calls, nesting depth and traced time."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the loaded .xt trace file"),
		),
	)
	s.AddTool(getStatisticsTool, h.getStatistics)

	// Tool 3: Function Statistics
	functionStatisticsTool := mcp.NewTool("function_statistics",
		mcp.WithDescription("Per-function call count, total and average time of the retained calls. This is the most important tool for finding expensive functions."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the loaded .xt trace file"),
		),
		mcp.WithNumber("top_n",
			mcp.Description("Number of functions to return (default: 20)"),
		),
	)
	s.AddTool(functionStatisticsTool, h.functionStatistics)

	// Tool 4: View Call Tree
	viewCallTreeTool := mcp.NewTool("view_call_tree",
		mcp.WithDescription("Render the retained calls of one trace segment as an indented tree with time, memory and source location."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the loaded .xt trace file"),
		),
		mcp.WithNumber("segment",
			mcp.Description("Segment to render (1-based, default: 1)"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description("Maximum depth to render (default: unlimited)"),
		),
	)
	s.AddTool(viewCallTreeTool, h.viewCallTree)

	// Tool 5: Find Slowest Calls
	findSlowestCallsTool := mcp.NewTool("find_slowest_calls",
		mcp.WithDescription("Find the individual calls with the longest wall time."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the loaded .xt trace file"),
		),
		mcp.WithNumber("top_n",
			mcp.Description("Number of calls to return (default: 10)"),
		),
	)
	s.AddTool(findSlowestCallsTool, h.findSlowestCalls)

	// Tool 6: Find Memory Hogs
	findMemoryHogsTool := mcp.NewTool("find_memory_hogs",
		mcp.WithDescription("Find the individual calls with the largest memory growth."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the loaded .xt trace file"),
		),
		mcp.WithNumber("top_n",
			mcp.Description("Number of calls to return (default: 10)"),
		),
	)
	s.AddTool(findMemoryHogsTool, h.findMemoryHogs)

	// Tool 7: Export pprof
	exportPprofTool := mcp.NewTool("export_pprof",
		mcp.WithDescription("Write the retained calls of a loaded trace as a gzip-compressed pprof profile."),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the loaded .xt trace file"),
		),
		mcp.WithString("output_path",
			mcp.Required(),
			mcp.Description("Where to write the profile, e.g. /tmp/trace.pb.gz"),
		),
	)
	s.AddTool(exportPprofTool, h.exportPprof)

	// Start the server
	if err := server.ServeStdio(s); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func (h *handlers) loadTrace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filePath, err := request.RequireString("file_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cfg := config.NewDefault()
	cfg.Logger = h.logger
	cfg.Function = request.GetString("function", "")
	cfg.Pattern = request.GetString("pattern", "")
	cfg.Deep = request.GetBool("deep", false)
	cfg.ShowInternals = request.GetBool("show_internals", false)
	cfg.SkipInternals = !cfg.ShowInternals
	cfg.SkipFramework = !request.GetBool("show_framework", false)
	cfg.MinTime = request.GetString("min_time", "")
	cfg.MaxTime = request.GetString("max_time", "")
	cfg.MinMemory = request.GetString("min_memory", "")
	cfg.MaxMemory = request.GetString("max_memory", "")
	cfg.SortBy = request.GetString("sort_by", cfg.SortBy)

	engine, err := cfg.Engine()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid filter: %v", err)), nil
	}

	result, err := engine.ParseFile(filePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load trace: %v", err)), nil
	}

	h.cache.put(filePath, result)
	stats := analyzer.ComputeStatistics(result)

	text := fmt.Sprintf(`Trace loaded successfully!

File: %s
Segments: %d
Retained calls: %d
Unterminated calls: %d
Functions: %d
Skipped lines: %d

Use other tools to analyze this trace.
`,
		filePath,
		stats.Segments,
		stats.TotalCalls,
		stats.UnterminatedCalls,
		stats.UniqueFunctions,
		stats.SkippedLines,
	)

	return mcp.NewToolResultText(text), nil
}

func (h *handlers) getStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, errResult := h.lookup(request)
	if errResult != nil {
		return errResult, nil
	}

	stats := analyzer.ComputeStatistics(result)

	var sb strings.Builder
	sb.WriteString("TRACE STATISTICS\n")
	sb.WriteString("═══════════════════════════════════════════════════\n\n")

	sb.WriteString(fmt.Sprintf("Traced Time: %s\n", analyzer.FormatTime(stats.TracedTime, 3)))
	sb.WriteString(fmt.Sprintf("Segments: %d\n", stats.Segments))
	sb.WriteString(fmt.Sprintf("Skipped Lines: %d\n\n", stats.SkippedLines))

	sb.WriteString("Calls:\n")
	sb.WriteString(fmt.Sprintf("  Retained: %d\n", stats.TotalCalls))
	sb.WriteString(fmt.Sprintf("  Completed: %d\n", stats.ExitedCalls))
	sb.WriteString(fmt.Sprintf("  Unterminated: %d\n", stats.UnterminatedCalls))
	sb.WriteString(fmt.Sprintf("  Internal: %d\n\n", stats.InternalCalls))

	sb.WriteString(fmt.Sprintf("Unique Functions: %d\n", stats.UniqueFunctions))
	sb.WriteString(fmt.Sprintf("Maximum Nesting: %d\n", stats.MaxIndent+1))

	return mcp.NewToolResultText(sb.String()), nil
}

func (h *handlers) functionStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, errResult := h.lookup(request)
	if errResult != nil {
		return errResult, nil
	}

	topN := int(request.GetFloat("top_n", 20))

	var sb strings.Builder
	sb.WriteString("FUNCTION STATISTICS\n")
	sb.WriteString("═══════════════════════════════════════════════════\n\n")

	if len(result.Statistics) == 0 {
		sb.WriteString("No completed calls.\n")
	} else {
		sb.WriteString(analyzer.FormatFunctionStats(result.Statistics, topN))
	}

	return mcp.NewToolResultText(sb.String()), nil
}

func (h *handlers) viewCallTree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, errResult := h.lookup(request)
	if errResult != nil {
		return errResult, nil
	}

	segIdx := int(request.GetFloat("segment", 1))
	maxDepth := int(request.GetFloat("max_depth", 0))

	if len(result.Segments) == 0 {
		return mcp.NewToolResultError("Trace contains no segments"), nil
	}
	if segIdx < 1 || segIdx > len(result.Segments) {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid segment. Valid range: 1-%d", len(result.Segments))), nil
	}

	seg := result.Segments[segIdx-1]

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CALL TREE (segment %d)\n", segIdx))
	sb.WriteString("═══════════════════════════════════════════════════\n\n")

	if len(seg.Calls) == 0 {
		sb.WriteString("No calls retained.\n")
	} else {
		sb.WriteString(analyzer.FormatCallTree(analyzer.BuildCallTree(seg), maxDepth))
	}

	return mcp.NewToolResultText(sb.String()), nil
}

func (h *handlers) findSlowestCalls(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, errResult := h.lookup(request)
	if errResult != nil {
		return errResult, nil
	}

	topN := int(request.GetFloat("top_n", 10))
	return formatHotspots("SLOWEST CALLS", analyzer.FindSlowestCalls(result, topN)), nil
}

func (h *handlers) findMemoryHogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, errResult := h.lookup(request)
	if errResult != nil {
		return errResult, nil
	}

	topN := int(request.GetFloat("top_n", 10))
	return formatHotspots("MEMORY HOGS", analyzer.FindMemoryHogs(result, topN)), nil
}

func (h *handlers) exportPprof(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, errResult := h.lookup(request)
	if errResult != nil {
		return errResult, nil
	}

	outputPath, err := request.RequireString("output_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create output file: %v", err)), nil
	}

	err = export.WritePprof(f, result)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outputPath)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to export profile: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Profile written to %s\nOpen it with: go tool pprof -http=:8080 %s\n", outputPath, outputPath)), nil
}

// lookup returns the cached trace named by the file_path argument, or a tool
// error result.
func (h *handlers) lookup(request mcp.CallToolRequest) (*xdebug.Result, *mcp.CallToolResult) {
	filePath, err := request.RequireString("file_path")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}

	result, ok := h.cache.get(filePath)
	if !ok {
		return nil, mcp.NewToolResultError("Trace not loaded. Use load_trace tool first")
	}
	return result, nil
}

func formatHotspots(title string, hotspots []analyzer.Hotspot) *mcp.CallToolResult {
	var sb strings.Builder
	sb.WriteString(title + "\n")
	sb.WriteString("═══════════════════════════════════════════════════\n\n")

	if len(hotspots) == 0 {
		sb.WriteString("No completed calls found.\n")
	} else {
		for i, hs := range hotspots {
			sb.WriteString(analyzer.FormatHotspot(hs, i+1))
			sb.WriteString("\n")
		}
	}

	return mcp.NewToolResultText(sb.String())
}
