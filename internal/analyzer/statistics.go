package analyzer

import (
	"fmt"
	"math"
	"strings"

	"xdebugtrace-mcp/internal/xdebug"
)

// TraceStatistics contains summary statistics about a parsed trace
type TraceStatistics struct {
	Segments          int
	TotalCalls        int
	ExitedCalls       int
	UnterminatedCalls int
	InternalCalls     int
	UniqueFunctions   int
	MaxIndent         int
	TracedTime        float64 // Sum of the segments' time spans
	SkippedLines      int
}

// ComputeStatistics calculates summary statistics for the trace
func ComputeStatistics(result *xdebug.Result) TraceStatistics {
	stats := TraceStatistics{
		Segments:     len(result.Segments),
		SkippedLines: result.SkippedLines,
	}

	functionSet := make(map[string]bool)

	for _, seg := range result.Segments {
		start, end := seg.Span()
		stats.TracedTime += end - start

		for _, call := range seg.Calls {
			stats.TotalCalls++
			if call.Exited() {
				stats.ExitedCalls++
			} else {
				stats.UnterminatedCalls++
			}
			if call.IsInternal {
				stats.InternalCalls++
			}
			if call.Indent > stats.MaxIndent {
				stats.MaxIndent = call.Indent
			}
			functionSet[call.Function] = true
		}
	}

	stats.UniqueFunctions = len(functionSet)
	return stats
}

// FormatFunctionStats renders the per-function statistics table as text
func FormatFunctionStats(table []*xdebug.FunctionStat, topN int) string {
	var sb strings.Builder

	if topN > 0 && topN < len(table) {
		table = table[:topN]
	}

	for i, st := range table {
		sb.WriteString(fmt.Sprintf("#%d: %s\n", i+1, st.Function))
		sb.WriteString(fmt.Sprintf("    Calls: %d\n", st.Count))
		sb.WriteString(fmt.Sprintf("    Total: %s, Average: %s\n", FormatTime(st.DeltaTime, 2), FormatTime(st.AverageTime, 2)))
	}

	return sb.String()
}

// FormatTime converts seconds to the largest fitting unit of ns, µs, ms and s
func FormatTime(seconds float64, precision int) string {
	unit := "s"
	value := seconds

	switch abs := math.Abs(seconds); {
	case abs < 0.000001:
		unit = "ns"
		value *= 1e9
	case abs < 0.001:
		unit = "µs"
		value *= 1e6
	case abs < 1:
		unit = "ms"
		value *= 1e3
	}

	return fmt.Sprintf("%.*f %s", precision, value, unit)
}

// FormatMemory renders a byte count with a B, kB or MB suffix
func FormatMemory(bytes float64) string {
	switch abs := math.Abs(bytes); {
	case abs >= 1048576:
		return fmt.Sprintf("%.2f MB", bytes/1048576)
	case abs >= 1024:
		return fmt.Sprintf("%.2f kB", bytes/1024)
	}
	return fmt.Sprintf("%.0f B", bytes)
}

// Speed classes used to color call durations
const (
	TimeFast   = "timeFast"
	TimeMedian = "timeMedian"
	TimeSlow   = "timeSlow"
)

// TimeClass classifies a duration. Zero thresholds default to 20ms (slow) and 1ms (fast).
func TimeClass(seconds, slow, fast float64) string {
	if slow == 0 {
		slow = 0.02
	}
	if fast == 0 {
		fast = 0.001
	}

	switch {
	case seconds <= fast:
		return TimeFast
	case seconds <= slow:
		return TimeMedian
	}
	return TimeSlow
}
