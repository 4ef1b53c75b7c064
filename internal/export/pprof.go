package export

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"xdebugtrace-mcp/internal/analyzer"
	"xdebugtrace-mcp/internal/xdebug"
)

// ToPprof converts the retained calls of a parsed trace to pprof format.
// Every exited call becomes one sample whose stack is the call's retained
// ancestry; caller frames point at the line of the call they make. Sample
// values are the call's own wall time and memory delta, with the time and
// memory of exited callees subtracted, so that pprof's cumulative view
// reproduces the inclusive figures.
//
// Returns nil if the trace holds no exited calls.
func ToPprof(result *xdebug.Result) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "wall", Unit: "nanoseconds"},
			{Type: "memory", Unit: "bytes"},
			{Type: "calls", Unit: "count"},
		},
		PeriodType: &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:     1,
	}

	b := &builder{
		prof:      prof,
		functions: make(map[string]*profile.Function),
		locations: make(map[frame]*profile.Location),
	}

	var first, last float64
	for i, seg := range result.Segments {
		start, end := seg.Span()
		if i == 0 || start < first {
			first = start
		}
		if end > last {
			last = end
		}

		for _, root := range analyzer.BuildCallTree(seg) {
			b.walk(root, nil)
		}
	}

	if len(prof.Sample) == 0 {
		return nil
	}

	prof.DurationNanos = seconds(last - first)
	return prof
}

// WritePprof validates the profile built from result and writes it as
// gzip-compressed protobuf.
func WritePprof(w io.Writer, result *xdebug.Result) error {
	prof := ToPprof(result)
	if prof == nil {
		return fmt.Errorf("trace contains no completed calls")
	}

	if err := prof.CheckValid(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	if err := prof.Write(w); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}

type builder struct {
	prof      *profile.Profile
	functions map[string]*profile.Function
	locations map[frame]*profile.Location
}

type frame struct {
	function string
	line     int
}

// walk emits the samples of node and its subtree. callers holds the frames
// above node, each positioned at the line where it calls the next frame.
func (b *builder) walk(node *analyzer.CallNode, callers []*profile.Location) {
	call := node.Call

	for _, child := range node.Children {
		// A trace line names the call site, which lies in the caller.
		site := b.location(call.Function, child.Call.Line)
		b.walk(child, prepend(site, callers))
	}

	if !call.Exited() {
		return
	}

	selfTime := call.Exit.DeltaTime
	selfMemory := call.Exit.DeltaMemory
	for _, child := range node.Children {
		if child.Call.Exited() {
			selfTime -= child.Call.Exit.DeltaTime
			selfMemory -= child.Call.Exit.DeltaMemory
		}
	}
	if selfTime < 0 {
		selfTime = 0
	}

	// pprof stacks are leaf first
	sample := &profile.Sample{
		Location: prepend(b.location(call.Function, 0), callers),
		Value:    []int64{seconds(selfTime), int64(selfMemory), 1},
	}
	if call.EvalInfo != "" {
		sample.Label = map[string][]string{"eval": {call.EvalInfo}}
	}
	b.prof.Sample = append(b.prof.Sample, sample)
}

func prepend(loc *profile.Location, stack []*profile.Location) []*profile.Location {
	out := make([]*profile.Location, 0, len(stack)+1)
	out = append(out, loc)
	return append(out, stack...)
}

// location returns the frame of function positioned at line. The trace does
// not record where a function is defined, so functions carry no file name.
func (b *builder) location(function string, line int) *profile.Location {
	// Create or reuse function entry
	fn, exists := b.functions[function]
	if !exists {
		fn = &profile.Function{
			ID:         uint64(len(b.prof.Function) + 1),
			Name:       function,
			SystemName: function,
		}
		b.functions[function] = fn
		b.prof.Function = append(b.prof.Function, fn)
	}

	// Create or reuse location entry
	key := frame{function, line}
	loc, exists := b.locations[key]
	if !exists {
		loc = &profile.Location{
			ID: uint64(len(b.prof.Location) + 1),
			Line: []profile.Line{
				{
					Function: fn,
					Line:     int64(line),
				},
			},
		}
		b.locations[key] = loc
		b.prof.Location = append(b.prof.Location, loc)
	}

	return loc
}

func seconds(s float64) int64 {
	return int64(s * 1e9)
}
