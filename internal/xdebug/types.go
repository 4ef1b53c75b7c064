package xdebug

import "math"

// Record is one parsed data line of a computerized trace: either an *EntryRecord
// or an *ExitRecord.
type Record interface {
	event() *Event
}

// Event holds the fields shared by entry and exit lines.
type Event struct {
	Level  int     // Call depth at the time of the event
	ID     int64   // Function number, correlates an entry with its exit
	Time   float64 // Seconds since the trace started
	Memory float64 // Bytes in use
}

func (e *Event) event() *Event { return e }

// ExitRecord represents a "function returned" line.
type ExitRecord struct {
	Event
}

// Completion carries the values known only after an entry was paired with its exit.
type Completion struct {
	ExitTime    float64
	ExitMemory  float64
	DeltaTime   float64
	DeltaMemory float64
}

// EntryRecord represents a "function called" line. Once the matching exit line is
// seen the record gains a Completion.
type EntryRecord struct {
	Event

	Function    string // Fully qualified function name
	IsInternal  bool   // Implemented by the interpreter, not user code
	IncludeFile string // Set for include/require calls
	Filename    string
	Line        int
	EvalInfo    string // Decoration for calls made from eval()'d code

	Indent int         // Compacted indentation rank, valid after the segment closed
	Exit   *Completion // nil until the exit line was paired
}

// Exited reports whether the call was paired with its exit line.
func (r *EntryRecord) Exited() bool {
	return r.Exit != nil
}

// IsInclude reports whether the call is a file inclusion.
func (r *EntryRecord) IsInclude() bool {
	return r.IncludeFile != ""
}

// DeltaTime returns the elapsed wall time of the call, ok is false for unterminated calls.
func (r *EntryRecord) DeltaTime() (delta float64, ok bool) {
	if r.Exit == nil {
		return 0, false
	}
	return r.Exit.DeltaTime, true
}

// DeltaMemory returns the memory difference between exit and entry, ok is false for
// unterminated calls. The value may be negative.
func (r *EntryRecord) DeltaMemory() (delta float64, ok bool) {
	if r.Exit == nil {
		return 0, false
	}
	return r.Exit.DeltaMemory, true
}

// complete pairs the entry with its exit line.
func (r *EntryRecord) complete(exit *ExitRecord) {
	r.Exit = &Completion{
		ExitTime:    exit.Time,
		ExitMemory:  exit.Memory,
		DeltaTime:   exit.Time - r.Time,
		DeltaMemory: exit.Memory - r.Memory,
	}
}

// Segment is one TRACE START ... TRACE END span.
type Segment struct {
	// Calls holds the retained entry records in entry order.
	Calls []*EntryRecord
	// Indents maps a raw call level to its compacted rank.
	Indents map[int]int
}

// Lookup returns the retained call with the given id.
func (s *Segment) Lookup(id int64) (*EntryRecord, bool) {
	for _, call := range s.Calls {
		if call.ID == id {
			return call, true
		}
	}
	return nil, false
}

// IndentOf returns the compacted rank of a raw level, or -1 when no retained call
// was seen at that level.
func (s *Segment) IndentOf(level int) int {
	if rank, ok := s.Indents[level]; ok {
		return rank
	}
	return -1
}

// Span returns the time range covered by the segment's retained calls.
func (s *Segment) Span() (start, end float64) {
	if len(s.Calls) == 0 {
		return 0, 0
	}
	start, end = math.Inf(1), math.Inf(-1)
	for _, call := range s.Calls {
		start = math.Min(start, call.Time)
		end = math.Max(end, call.Time)
		if call.Exit != nil {
			end = math.Max(end, call.Exit.ExitTime)
		}
	}
	return start, end
}

// Result holds everything produced by one parse.
type Result struct {
	Segments []*Segment
	// Statistics is nil when statistics collection is disabled.
	Statistics []*FunctionStat
	// SkippedLines counts malformed data lines that were ignored.
	SkippedLines int
}

// Calls returns the number of retained calls across all segments.
func (r *Result) Calls() int {
	n := 0
	for _, seg := range r.Segments {
		n += len(seg.Calls)
	}
	return n
}
