package analyzer

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"xdebugtrace-mcp/internal/xdebug"
)

// Hotspot represents a single expensive call in the trace
type Hotspot struct {
	Function    string
	SourceFile  string
	LineNumber  int
	Segment     int     // Index of the segment the call belongs to
	ID          int64   // Function number within the segment
	DeltaTime   float64 // Elapsed wall time of the call
	DeltaMemory float64 // Memory difference between exit and entry
	Percentage  float64 // Share of the segment's traced time
}

// CallNode represents a call and the retained calls nested inside it
type CallNode struct {
	Call     *xdebug.EntryRecord
	Children []*CallNode
}

// FindSlowestCalls returns exited calls sorted by elapsed time (descending)
func FindSlowestCalls(result *xdebug.Result, topN int) []Hotspot {
	hotspots := collectHotspots(result)

	sort.SliceStable(hotspots, func(i, j int) bool {
		return hotspots[i].DeltaTime > hotspots[j].DeltaTime
	})

	return limit(hotspots, topN)
}

// FindMemoryHogs returns exited calls sorted by memory growth (descending)
func FindMemoryHogs(result *xdebug.Result, topN int) []Hotspot {
	hotspots := collectHotspots(result)

	sort.SliceStable(hotspots, func(i, j int) bool {
		return hotspots[i].DeltaMemory > hotspots[j].DeltaMemory
	})

	return limit(hotspots, topN)
}

func collectHotspots(result *xdebug.Result) []Hotspot {
	var hotspots []Hotspot

	for segIdx, seg := range result.Segments {
		start, end := seg.Span()
		span := end - start

		for _, call := range seg.Calls {
			if !call.Exited() {
				continue
			}

			hs := Hotspot{
				Function:    call.Function,
				SourceFile:  call.Filename,
				LineNumber:  call.Line,
				Segment:     segIdx,
				ID:          call.ID,
				DeltaTime:   call.Exit.DeltaTime,
				DeltaMemory: call.Exit.DeltaMemory,
			}
			if span > 0 {
				hs.Percentage = (hs.DeltaTime / span) * 100.0
			}
			hotspots = append(hotspots, hs)
		}
	}

	return hotspots
}

func limit(hotspots []Hotspot, topN int) []Hotspot {
	if topN > 0 && topN < len(hotspots) {
		return hotspots[:topN]
	}
	return hotspots
}

// BuildCallTree nests the segment's calls under their closest retained caller.
// Calls whose callers were filtered out become roots or attach to the nearest
// retained ancestor.
func BuildCallTree(seg *xdebug.Segment) []*CallNode {
	var roots []*CallNode
	var stack []*CallNode

	for _, call := range seg.Calls {
		node := &CallNode{Call: call}

		for len(stack) > 0 && stack[len(stack)-1].Call.Level >= call.Level {
			stack = stack[:len(stack)-1]
		}

		if len(stack) == 0 {
			roots = append(roots, node)
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
		}
		stack = append(stack, node)
	}

	return roots
}

// FormatCallTree renders the call tree using the calls' indentation ranks.
// maxDepth limits the rendered depth (0 = unlimited).
func FormatCallTree(roots []*CallNode, maxDepth int) string {
	var sb strings.Builder
	for _, root := range roots {
		formatNode(&sb, root, 0, maxDepth)
	}
	return sb.String()
}

func formatNode(sb *strings.Builder, node *CallNode, depth, maxDepth int) {
	if maxDepth > 0 && depth >= maxDepth {
		return
	}

	call := node.Call
	sb.WriteString(strings.Repeat("  ", call.Indent))
	sb.WriteString(call.Function)

	if dt, ok := call.DeltaTime(); ok {
		dm, _ := call.DeltaMemory()
		sb.WriteString(fmt.Sprintf("  [%s, %s, %s]", FormatTime(dt, 1), FormatMemory(dm), TimeClass(dt, 0, 0)))
	} else {
		sb.WriteString("  [unterminated]")
	}

	sb.WriteString(fmt.Sprintf("  %s:%d", filepath.Base(call.Filename), call.Line))
	if call.EvalInfo != "" {
		sb.WriteString(" " + call.EvalInfo)
	}
	sb.WriteString("\n")

	for _, child := range node.Children {
		formatNode(sb, child, depth+1, maxDepth)
	}
}

// FormatHotspot returns a human-readable string representation of a hotspot
func FormatHotspot(hs Hotspot, rank int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("#%d: %s\n", rank, hs.Function))
	sb.WriteString(fmt.Sprintf("    Time: %s (%.2f%%)\n", FormatTime(hs.DeltaTime, 3), hs.Percentage))
	sb.WriteString(fmt.Sprintf("    Memory: %s\n", FormatMemory(hs.DeltaMemory)))
	sb.WriteString(fmt.Sprintf("    Call: segment %d, id %d\n", hs.Segment+1, hs.ID))

	if hs.SourceFile != "" {
		sb.WriteString(fmt.Sprintf("    Source: %s:%d\n", hs.SourceFile, hs.LineNumber))
	}

	return sb.String()
}
